package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

type BatchRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *BatchRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/capture startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS portfolio_batches (
	portfolio_id TEXT PRIMARY KEY,
	company_name TEXT,
	company_number TEXT,
	total_documents INTEGER NOT NULL DEFAULT 0,
	valid_documents INTEGER NOT NULL DEFAULT 0,
	invalid_documents INTEGER NOT NULL DEFAULT 0,
	charge_count INTEGER NOT NULL DEFAULT 0,
	processing_completed BOOLEAN NOT NULL DEFAULT FALSE,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_documents (
	portfolio_id TEXT NOT NULL REFERENCES portfolio_batches(portfolio_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	filename TEXT NOT NULL,
	valid BOOLEAN NOT NULL,
	document_kind TEXT,
	confidence DOUBLE PRECISION,
	reason TEXT,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	stored_path TEXT,
	PRIMARY KEY (portfolio_id, position)
);

CREATE INDEX IF NOT EXISTS idx_portfolio_batches_company_number ON portfolio_batches(company_number);
CREATE INDEX IF NOT EXISTS idx_portfolio_batches_created_at ON portfolio_batches(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Save upserts the batch and replaces its document rows in one transaction.
func (r *BatchRepository) Save(ctx context.Context, batch *domain.BatchResult) error {
	if batch == nil || batch.PortfolioID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save batch", errors.New("portfolio id is required"))
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	companyName := ""
	if batch.CompanyInfo != nil {
		companyName = batch.CompanyInfo.CompanyName
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO portfolio_batches (
	portfolio_id, company_name, company_number, total_documents, valid_documents, invalid_documents,
	charge_count, processing_completed, processing_time_ms, result, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (portfolio_id) DO UPDATE SET
	company_name = EXCLUDED.company_name,
	company_number = EXCLUDED.company_number,
	total_documents = EXCLUDED.total_documents,
	valid_documents = EXCLUDED.valid_documents,
	invalid_documents = EXCLUDED.invalid_documents,
	charge_count = EXCLUDED.charge_count,
	processing_completed = EXCLUDED.processing_completed,
	processing_time_ms = EXCLUDED.processing_time_ms,
	result = EXCLUDED.result,
	updated_at = EXCLUDED.updated_at
`,
		batch.PortfolioID, nullableString(companyName), nullableString(batch.CompanyNumber),
		batch.Summary.TotalDocuments, batch.Summary.ValidDocuments, batch.Summary.InvalidDocuments,
		len(batch.Charges), batch.Summary.ProcessingCompleted, batch.ProcessingTime.Milliseconds(),
		payload, batch.CreatedAt, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_documents WHERE portfolio_id = $1`, batch.PortfolioID); err != nil {
		return fmt.Errorf("clear batch documents: %w", err)
	}

	position := 0
	for _, doc := range batch.ValidDocuments {
		position++
		if err := insertDocument(ctx, tx, batch.PortfolioID, position, documentRow{
			filename:   doc.Filename,
			valid:      true,
			kind:       string(doc.Kind),
			confidence: &doc.Confidence,
			size:       doc.Size,
			storedPath: doc.StoredPath,
		}); err != nil {
			return err
		}
	}
	for _, doc := range batch.InvalidDocuments {
		position++
		kind := ""
		if doc.IdentifiedType != nil {
			kind = string(*doc.IdentifiedType)
		}
		if err := insertDocument(ctx, tx, batch.PortfolioID, position, documentRow{
			filename:   doc.Filename,
			valid:      false,
			kind:       kind,
			confidence: doc.Confidence,
			reason:     doc.Reason,
			size:       doc.Size,
			storedPath: doc.StoredPath,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

type documentRow struct {
	filename   string
	valid      bool
	kind       string
	confidence *float64
	reason     string
	size       int64
	storedPath string
}

func insertDocument(ctx context.Context, tx *sql.Tx, portfolioID string, position int, row documentRow) error {
	var confidence any
	if row.confidence != nil {
		confidence = *row.confidence
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO portfolio_documents (
	portfolio_id, position, filename, valid, document_kind, confidence, reason, size_bytes, stored_path
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		portfolioID, position, row.filename, row.valid, nullableString(row.kind), confidence,
		nullableString(row.reason), row.size, nullableString(row.storedPath),
	)
	if err != nil {
		return fmt.Errorf("insert batch document %q: %w", row.filename, err)
	}
	return nil
}

func (r *BatchRepository) GetByPortfolioID(ctx context.Context, portfolioID string) (*domain.BatchResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT result
FROM portfolio_batches
WHERE portfolio_id = $1
`, portfolioID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrPortfolioNotFound, "get batch", fmt.Errorf("portfolio_id=%s", portfolioID))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	var batch domain.BatchResult
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	return &batch, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
