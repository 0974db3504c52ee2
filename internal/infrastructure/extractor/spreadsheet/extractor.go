package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

const csvContentType = "text/csv"

// Extractor flattens workbooks and CSV files into one line per row with
// cells separated by " | ", which keeps the column layout readable for the LLM.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, doc domain.RawDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.EqualFold(doc.ContentType, csvContentType) {
		return extractCSV(doc)
	}
	return extractWorkbook(doc)
}

// Compound file header of legacy BIFF .xls workbooks, which excelize cannot read.
var ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func extractWorkbook(doc domain.RawDocument) (string, error) {
	if bytes.HasPrefix(doc.Content, ole2Signature) {
		return "", domain.WrapError(domain.ErrInvalidInput, "open workbook",
			fmt.Errorf("%s is a legacy .xls workbook; save it as .xlsx", doc.Filename))
	}
	f, err := excelize.OpenReader(bytes.NewReader(doc.Content))
	if err != nil {
		return "", fmt.Errorf("open workbook %s: %w", doc.Filename, err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q of %s: %w", sheet, doc.Filename, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		writeRows(&b, rows)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func extractCSV(doc domain.RawDocument) (string, error) {
	reader := csv.NewReader(bytes.NewReader(doc.Content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv %s: %w", doc.Filename, err)
		}
		rows = append(rows, record)
	}

	var b strings.Builder
	writeRows(&b, rows)
	return strings.TrimSpace(b.String()), nil
}

func writeRows(b *strings.Builder, rows [][]string) {
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, strings.TrimSpace(cell))
		}
		line := strings.TrimRight(strings.Join(cells, " | "), " |")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}
