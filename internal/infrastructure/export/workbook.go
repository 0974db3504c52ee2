package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

const (
	sheetSummary    = "Summary"
	sheetProperties = "Properties"
	sheetDocuments  = "Documents"
	sheetCharges    = "Charges"
)

// Service renders stored batch results as XLSX workbooks.
type Service struct {
	batches ports.PortfolioReader
}

func NewService(batches ports.PortfolioReader) *Service {
	return &Service{batches: batches}
}

func (s *Service) ExportXLSX(ctx context.Context, portfolioID string) ([]byte, error) {
	start := time.Now()
	batch, err := s.batches.GetByPortfolioID(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	payload, err := BatchWorkbook(batch)
	if err != nil {
		return nil, err
	}
	slog.Info("export_xlsx_ok",
		"portfolio_id", portfolioID,
		"bytes", len(payload),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return payload, nil
}

// BatchWorkbook writes one sheet per section of the batch result.
func BatchWorkbook(batch *domain.BatchResult) ([]byte, error) {
	if batch == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export batch", errors.New("batch is nil"))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetProperties, sheetDocuments, sheetCharges} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	writeSummary(f, batch)
	writeProperties(f, batch)
	writeDocuments(f, batch)
	writeCharges(f, batch)

	index, _ := f.GetSheetIndex(sheetSummary)
	f.SetActiveSheet(index)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func newSheetWriter(f *excelize.File, sheet string, headers ...string) *sheetWriter {
	w := &sheetWriter{f: f, sheet: sheet, row: 1}
	if len(headers) > 0 {
		values := make([]any, len(headers))
		for i, h := range headers {
			values[i] = h
		}
		w.append(values...)
	}
	return w
}

func (w *sheetWriter) append(values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, w.row)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
	w.row++
}

func writeSummary(f *excelize.File, batch *domain.BatchResult) {
	w := newSheetWriter(f, sheetSummary, "Field", "Value")
	companyName := ""
	propertyCount := 0
	if batch.CompanyInfo != nil {
		companyName = batch.CompanyInfo.CompanyName
		propertyCount = len(batch.CompanyInfo.Properties)
	}
	w.append("Portfolio ID", batch.PortfolioID)
	w.append("Company Name", companyName)
	w.append("Company Number", batch.CompanyNumber)
	w.append("Properties", propertyCount)
	w.append("Charges", len(batch.Charges))
	w.append("Total Documents", batch.Summary.TotalDocuments)
	w.append("Valid Documents", batch.Summary.ValidDocuments)
	w.append("Invalid Documents", batch.Summary.InvalidDocuments)
	w.append("Processing Completed", batch.Summary.ProcessingCompleted)
	w.append("Processing Time", batch.ProcessingTime.String())
	w.append("Created At", batch.CreatedAt.UTC().Format(time.RFC3339))
	if batch.Corroboration != nil {
		w.append("Registry URL", batch.Corroboration.URL)
		w.append("Charge Links Failed", batch.Corroboration.FailedLinks())
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 24)
	_ = f.SetColWidth(sheetSummary, "B", "B", 60)
}

func writeProperties(f *excelize.File, batch *domain.BatchResult) {
	w := newSheetWriter(f, sheetProperties,
		"Property Address", "Property Type", "Year Purchased", "Current Estimated Value",
		"Rental Income / Month", "Mortgage Payment / Month", "Owner", "Lender",
		"Date of Mortgage", "Mortgage Balance Outstanding", "Annual Service Charge", "Annual Ground Rent",
	)
	if batch.CompanyInfo == nil {
		return
	}
	for _, p := range batch.CompanyInfo.Properties {
		w.append(
			p.Address, p.Type, p.YearPurchased, p.CurrentEstimatedValue,
			p.RentalIncomePerMonth, p.MortgagePaymentPerMonth, p.Owner, p.Lender,
			p.DateOfMortgage, p.MortgageBalanceOutstanding, p.AnnualServiceCharge, p.AnnualGroundRent,
		)
	}
	_ = f.SetColWidth(sheetProperties, "A", "A", 48)
	_ = f.SetColWidth(sheetProperties, "B", "L", 18)
}

func writeDocuments(f *excelize.File, batch *domain.BatchResult) {
	w := newSheetWriter(f, sheetDocuments, "Filename", "Valid", "Document Type", "Confidence", "Size (bytes)", "Reason", "Stored Path")
	for _, doc := range batch.ValidDocuments {
		w.append(doc.Filename, true, string(doc.Kind), doc.Confidence, doc.Size, "", doc.StoredPath)
	}
	for _, doc := range batch.InvalidDocuments {
		kind := ""
		if doc.IdentifiedType != nil {
			kind = string(*doc.IdentifiedType)
		}
		var confidence any = ""
		if doc.Confidence != nil {
			confidence = *doc.Confidence
		}
		w.append(doc.Filename, false, kind, confidence, doc.Size, doc.Reason, doc.StoredPath)
	}
	_ = f.SetColWidth(sheetDocuments, "A", "A", 32)
	_ = f.SetColWidth(sheetDocuments, "F", "G", 60)
}

func writeCharges(f *excelize.File, batch *domain.BatchResult) {
	w := newSheetWriter(f, sheetCharges, "Persons Entitled", "Brief Description", "Screenshot")
	for _, charge := range batch.Charges {
		w.append(charge.PersonsEntitled, charge.BriefDescription, charge.SourcePath)
	}
	_ = f.SetColWidth(sheetCharges, "A", "C", 48)
}
