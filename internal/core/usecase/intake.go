package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

const expectedAnyKind = "Supported portfolio document"

type IntakeConfig struct {
	AllowedContentTypes []string
	MaxFileSizeBytes    int64
	// ClassificationConcurrency bounds parallel extract+classify calls per batch.
	ClassificationConcurrency int
}

func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		AllowedContentTypes: []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"text/csv",
			"text/plain",
		},
		MaxFileSizeBytes:          50 << 20,
		ClassificationConcurrency: 1,
	}
}

func (c IntakeConfig) normalize() IntakeConfig {
	def := DefaultIntakeConfig()
	if len(c.AllowedContentTypes) == 0 {
		c.AllowedContentTypes = def.AllowedContentTypes
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = def.MaxFileSizeBytes
	}
	if c.ClassificationConcurrency <= 0 {
		c.ClassificationConcurrency = def.ClassificationConcurrency
	}
	return c
}

// PortfolioIntakeUseCase runs one batch through validation, extraction and
// registry corroboration, reporting progress as it goes.
type PortfolioIntakeUseCase struct {
	extractor    ports.TextExtractor
	gate         *ClassificationGate
	engine       *ExtractionEngine
	corroborator ports.RegistryCorroborator
	repo         ports.BatchRepository
	storage      ports.ObjectStorage
	broadcaster  ports.ProgressBroadcaster
	observer     ports.PipelineObserver
	cfg          IntakeConfig
	now          func() time.Time
}

func NewPortfolioIntakeUseCase(
	extractor ports.TextExtractor,
	gate *ClassificationGate,
	engine *ExtractionEngine,
	corroborator ports.RegistryCorroborator,
	repo ports.BatchRepository,
	storage ports.ObjectStorage,
	broadcaster ports.ProgressBroadcaster,
	cfg IntakeConfig,
) *PortfolioIntakeUseCase {
	return &PortfolioIntakeUseCase{
		extractor:    extractor,
		gate:         gate,
		engine:       engine,
		corroborator: corroborator,
		repo:         repo,
		storage:      storage,
		broadcaster:  broadcaster,
		cfg:          cfg.normalize(),
		now:          time.Now,
	}
}

func (uc *PortfolioIntakeUseCase) WithObserver(observer ports.PipelineObserver) *PortfolioIntakeUseCase {
	uc.observer = observer
	return uc
}

// intakeRun is the state of one batch. Only the goroutine running Process
// touches it after document validation completes.
type intakeRun struct {
	portfolioID string
	batch       *domain.BatchResult
	accepted    []acceptedDocument
}

type acceptedDocument struct {
	doc  domain.ValidDocument
	text string
}

type documentOutcome struct {
	valid   *acceptedDocument
	invalid *domain.InvalidDocument
}

type stepOutcome struct {
	status  domain.ProgressStatus
	message string
	payload any
}

func (uc *PortfolioIntakeUseCase) Process(ctx context.Context, portfolioID string, docs []domain.RawDocument) (*domain.BatchResult, error) {
	portfolioID = strings.TrimSpace(portfolioID)
	if portfolioID == "" {
		portfolioID = uuid.NewString()
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process portfolio", errors.New("no documents uploaded"))
	}

	start := uc.now()
	run := &intakeRun{
		portfolioID: portfolioID,
		batch:       domain.NewBatchResult(portfolioID, start.UTC()),
	}
	slog.Info("portfolio_processing_started", "portfolio_id", portfolioID, "documents", len(docs))

	uc.runStep(ctx, run, domain.StepDocumentValidation, 0, 25,
		fmt.Sprintf("Validating %d documents", len(docs)),
		func() stepOutcome { return uc.validateDocuments(ctx, run, docs) },
	)
	uc.runStep(ctx, run, domain.StepPortfolioCompletion, 25, 50,
		"Extracting portfolio data",
		func() stepOutcome { return uc.completePortfolio(ctx, run) },
	)
	uc.runStep(ctx, run, domain.StepCompanyHouseValidation, 50, 75,
		"Corroborating company registry data",
		func() stepOutcome { return uc.validateCompanyHouse(ctx, run) },
	)

	return uc.finalize(ctx, run, start)
}

func (uc *PortfolioIntakeUseCase) finalize(ctx context.Context, run *intakeRun, start time.Time) (*domain.BatchResult, error) {
	batch := run.batch
	uc.emit(ctx, run.portfolioID, domain.StepProcessingComplete, domain.StatusInProgress, 75, "Finalizing portfolio", nil)

	batch.ProcessingTime = uc.now().Sub(start)
	batch.Summarize(true)

	if err := uc.repo.Save(ctx, batch); err != nil {
		slog.Error("portfolio_persist_failed", "portfolio_id", run.portfolioID, "error", err)
		batch.Summary.ProcessingCompleted = false
		uc.emit(ctx, run.portfolioID, domain.StepProcessingComplete, domain.StatusFailure, 100, "Processing failed",
			domain.ProcessingCompletePayload{
				ProcessingTime: batch.ProcessingTime.String(),
				Success:        false,
				ErrorMessage:   err.Error(),
			})
		return batch, fmt.Errorf("persist batch result: %w", err)
	}

	uc.emit(ctx, run.portfolioID, domain.StepProcessingComplete, domain.StatusSuccess, 100, "Processing complete",
		domain.ProcessingCompletePayload{
			ProcessingTime: batch.ProcessingTime.String(),
			Success:        true,
		})
	slog.Info("portfolio_processing_completed",
		"portfolio_id", run.portfolioID,
		"valid", batch.Summary.ValidDocuments,
		"invalid", batch.Summary.InvalidDocuments,
		"charges", len(batch.Charges),
		"duration_ms", float64(batch.ProcessingTime.Microseconds())/1000.0,
	)
	return batch, nil
}

func (uc *PortfolioIntakeUseCase) runStep(
	ctx context.Context,
	run *intakeRun,
	step domain.ProgressStep,
	startPercent, endPercent int,
	startMessage string,
	fn func() stepOutcome,
) {
	uc.emit(ctx, run.portfolioID, step, domain.StatusInProgress, startPercent, startMessage, nil)
	started := uc.now()
	outcome := fn()
	if uc.observer != nil {
		uc.observer.ObserveStep(step, outcome.status, uc.now().Sub(started).Seconds())
	}
	uc.emit(ctx, run.portfolioID, step, outcome.status, endPercent, outcome.message, outcome.payload)
}

// validateDocuments fills the valid and invalid lists in upload order. Every
// input lands in exactly one of them.
func (uc *PortfolioIntakeUseCase) validateDocuments(ctx context.Context, run *intakeRun, docs []domain.RawDocument) stepOutcome {
	outcomes := make([]documentOutcome, len(docs))

	var group errgroup.Group
	group.SetLimit(uc.cfg.ClassificationConcurrency)
	for i := range docs {
		group.Go(func() error {
			outcomes[i] = uc.validateDocument(ctx, run.portfolioID, i, docs[i])
			return nil
		})
	}
	_ = group.Wait()

	batch := run.batch
	payload := domain.DocumentValidationPayload{
		Total:            len(docs),
		ValidFileNames:   []string{},
		InvalidFileNames: []string{},
	}
	for _, outcome := range outcomes {
		if outcome.valid != nil {
			run.accepted = append(run.accepted, *outcome.valid)
			batch.ValidDocuments = append(batch.ValidDocuments, outcome.valid.doc)
			payload.ValidFileNames = append(payload.ValidFileNames, outcome.valid.doc.Filename)
			uc.observeDocument("valid")
			continue
		}
		batch.InvalidDocuments = append(batch.InvalidDocuments, *outcome.invalid)
		payload.InvalidFileNames = append(payload.InvalidFileNames, outcome.invalid.Filename)
		uc.observeDocument("invalid")
	}
	payload.Valid = len(batch.ValidDocuments)
	payload.Invalid = len(batch.InvalidDocuments)

	status := domain.StatusSuccess
	if payload.Invalid > 0 {
		status = domain.StatusFailure
	}
	return stepOutcome{
		status:  status,
		message: fmt.Sprintf("%d of %d documents valid", payload.Valid, payload.Total),
		payload: payload,
	}
}

func (uc *PortfolioIntakeUseCase) validateDocument(ctx context.Context, portfolioID string, index int, doc domain.RawDocument) documentOutcome {
	size := doc.Size
	if size <= 0 {
		size = int64(len(doc.Content))
	}
	doc.Size = size
	doc.ContentType = NormalizeContentType(doc.ContentType, doc.Filename)

	invalid := func(reason string) documentOutcome {
		return documentOutcome{invalid: &domain.InvalidDocument{
			Filename:     doc.Filename,
			ExpectedType: expectedAnyKind,
			Reason:       reason,
			Size:         size,
		}}
	}

	if reason := uc.checkInput(doc); reason != "" {
		slog.Info("document_rejected", "portfolio_id", portfolioID, "filename", doc.Filename, "reason", reason)
		return invalid(reason)
	}

	storedPath := uc.store(ctx, portfolioID, index, doc)

	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		slog.Warn("text_extraction_failed", "portfolio_id", portfolioID, "filename", doc.Filename, "error", err)
		out := invalid(fmt.Sprintf("Text extraction failed: %v", err))
		out.invalid.StoredPath = storedPath
		return out
	}

	result := uc.gate.Classify(ctx, text)
	if !uc.gate.Accept(result) {
		reason := result.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("Document could not be identified (type %s, confidence %.2f below %.2f)",
				result.Kind, result.Confidence, uc.gate.Policy().AcceptThreshold)
		}
		kind := result.Kind
		confidence := result.Confidence
		out := invalid(reason)
		out.invalid.IdentifiedType = &kind
		out.invalid.Confidence = &confidence
		out.invalid.StoredPath = storedPath
		slog.Info("document_not_accepted", "portfolio_id", portfolioID, "filename", doc.Filename, "kind", kind, "confidence", confidence)
		return out
	}

	slog.Info("document_accepted", "portfolio_id", portfolioID, "filename", doc.Filename, "kind", result.Kind, "confidence", result.Confidence)
	return documentOutcome{valid: &acceptedDocument{
		doc: domain.ValidDocument{
			Filename:   doc.Filename,
			Kind:       result.Kind,
			Confidence: result.Confidence,
			Size:       size,
			StoredPath: storedPath,
		},
		text: result.ExtractedText,
	}}
}

// checkInput runs before any LLM call. It returns a rejection reason or "".
func (uc *PortfolioIntakeUseCase) checkInput(doc domain.RawDocument) string {
	if !uc.isAllowedType(doc.ContentType) {
		contentType := doc.ContentType
		if contentType == "" {
			contentType = "unknown"
		}
		return fmt.Sprintf("Invalid file type: %s. Allowed types: %s", contentType, strings.Join(uc.cfg.AllowedContentTypes, ", "))
	}
	if doc.Size > uc.cfg.MaxFileSizeBytes {
		return fmt.Sprintf("File size %d bytes exceeds maximum of %d bytes", doc.Size, uc.cfg.MaxFileSizeBytes)
	}
	if doc.Size == 0 || len(doc.Content) == 0 {
		return "File is empty"
	}
	return ""
}

func (uc *PortfolioIntakeUseCase) isAllowedType(contentType string) bool {
	for _, allowed := range uc.cfg.AllowedContentTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func (uc *PortfolioIntakeUseCase) store(ctx context.Context, portfolioID string, index int, doc domain.RawDocument) string {
	if uc.storage == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%02d_%s", portfolioID, index+1, sanitizeFilename(doc.Filename))
	if err := uc.storage.Save(ctx, key, bytes.NewReader(doc.Content)); err != nil {
		slog.Warn("document_store_failed", "portfolio_id", portfolioID, "filename", doc.Filename, "error", err)
		return ""
	}
	return key
}

func (uc *PortfolioIntakeUseCase) completePortfolio(ctx context.Context, run *intakeRun) stepOutcome {
	candidate, ok := uc.firstAccepted(run, domain.KindPortfolioForm)
	if !ok {
		return stepOutcome{
			status:  domain.StatusFailure,
			message: "No portfolio form found",
			payload: domain.PortfolioCompletionPayload{HasPortfolioData: false},
		}
	}

	portfolio, err := uc.engine.ExtractPortfolio(ctx, candidate.text)
	if err != nil {
		slog.Warn("portfolio_completion_failed", "portfolio_id", run.portfolioID, "filename", candidate.doc.Filename, "error", err)
		return stepOutcome{
			status:  domain.StatusFailure,
			message: fmt.Sprintf("Portfolio extraction failed for %s", candidate.doc.Filename),
			payload: domain.PortfolioCompletionPayload{HasPortfolioData: false},
		}
	}

	run.batch.CompanyInfo = &portfolio
	return stepOutcome{
		status:  domain.StatusSuccess,
		message: fmt.Sprintf("Extracted %d properties", len(portfolio.Properties)),
		payload: domain.PortfolioCompletionPayload{
			HasPortfolioData: true,
			CompanyName:      portfolio.CompanyName,
			PropertyCount:    len(portfolio.Properties),
		},
	}
}

func (uc *PortfolioIntakeUseCase) validateCompanyHouse(ctx context.Context, run *intakeRun) stepOutcome {
	failure := func(message, number string) stepOutcome {
		return stepOutcome{
			status:  domain.StatusFailure,
			message: message,
			payload: domain.CompanyHouseValidationPayload{HasCompanyData: false, CompanyNumber: number},
		}
	}

	candidate, ok := uc.firstAccepted(run, domain.KindApplicationForm)
	if !ok {
		return failure("No application form found", "")
	}

	number, err := uc.engine.ExtractCompanyNumber(ctx, candidate.text)
	if err != nil {
		slog.Warn("company_number_extraction_failed", "portfolio_id", run.portfolioID, "filename", candidate.doc.Filename, "error", err)
		return failure("Company registration number could not be extracted", "")
	}
	run.batch.CompanyNumber = number.CompanyNumber

	if uc.corroborator == nil {
		return failure("Registry corroboration is not configured", number.CompanyNumber)
	}
	result, err := uc.corroborator.Corroborate(ctx, number.CompanyNumber)
	if err != nil {
		slog.Warn("registry_corroboration_failed", "portfolio_id", run.portfolioID, "company_number", number.CompanyNumber, "error", err)
		return failure(fmt.Sprintf("Registry corroboration failed for %s", number.CompanyNumber), number.CompanyNumber)
	}

	run.batch.Corroboration = &result
	if result.Charges != nil {
		run.batch.Charges = result.Charges
	}
	payload := domain.CompanyHouseValidationPayload{
		HasCompanyData: true,
		CompanyNumber:  number.CompanyNumber,
		ChargeCount:    len(run.batch.Charges),
	}

	switch {
	case result.NoLinksFound:
		return stepOutcome{domain.StatusAlert, fmt.Sprintf("No charge links found for %s", number.CompanyNumber), payload}
	case result.FailedLinks() > 0:
		return stepOutcome{domain.StatusAlert, fmt.Sprintf("Captured %d of %d charge links for %s",
			len(result.Links)-result.FailedLinks(), len(result.Links), number.CompanyNumber), payload}
	default:
		return stepOutcome{domain.StatusSuccess, fmt.Sprintf("Captured %d charge links for %s", len(result.Links), number.CompanyNumber), payload}
	}
}

// firstAccepted picks the earliest upload of kind that clears the threshold.
func (uc *PortfolioIntakeUseCase) firstAccepted(run *intakeRun, kind domain.DocumentKind) (acceptedDocument, bool) {
	threshold := uc.gate.Policy().AcceptThreshold
	for _, candidate := range run.accepted {
		if candidate.doc.Kind == kind && candidate.doc.Confidence >= threshold {
			return candidate, true
		}
	}
	return acceptedDocument{}, false
}

func (uc *PortfolioIntakeUseCase) emit(
	ctx context.Context,
	portfolioID string,
	step domain.ProgressStep,
	status domain.ProgressStatus,
	percent int,
	message string,
	payload any,
) {
	if uc.broadcaster == nil {
		return
	}
	event := domain.ProgressEvent{
		PortfolioID: portfolioID,
		Step:        step,
		Status:      status,
		Percent:     percent,
		Message:     message,
		Payload:     payload,
		Timestamp:   uc.now().UTC(),
	}
	if err := uc.broadcaster.Broadcast(ctx, portfolioID, event); err != nil {
		slog.Warn("progress_broadcast_failed", "portfolio_id", portfolioID, "step", step, "status", status, "error", err)
	}
}

func (uc *PortfolioIntakeUseCase) observeDocument(outcome string) {
	if uc.observer != nil {
		uc.observer.ObserveDocument(outcome)
	}
}

var contentTypesByExtension = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".txt":  "text/plain",
}

// NormalizeContentType strips parameters and infers a type from the file
// extension when the client sent none or a generic one.
func NormalizeContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if inferred, ok := contentTypesByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
			return inferred
		}
	}
	return contentType
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
