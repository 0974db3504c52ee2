package spreadsheet

import (
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

func TestExtractWorkbook(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"Property Address", "Current Value", "Monthly Rent"},
		{"1 High Street, Leeds", 250000, 1100},
		{"2 Low Road, York", 320000, 1400},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	text, err := NewExtractor().Extract(context.Background(), domain.RawDocument{
		Filename:    "portfolio.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     buf.Bytes(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(text, "Sheet: Sheet1\n") {
		t.Fatalf("missing sheet header: %q", text)
	}
	if !strings.Contains(text, "1 High Street, Leeds | 250000 | 1100") {
		t.Fatalf("row not flattened: %q", text)
	}
}

func TestExtractCSV(t *testing.T) {
	content := "Address,Value\n\"1 High Street, Leeds\",250000\n,\n2 Low Road,\n"

	text, err := NewExtractor().Extract(context.Background(), domain.RawDocument{
		Filename:    "portfolio.csv",
		ContentType: "text/csv",
		Content:     []byte(content),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Address | Value\n1 High Street, Leeds | 250000\n2 Low Road"
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", text, want)
	}
}

func TestExtractRejectsLegacyWorkbook(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), domain.RawDocument{
		Filename:    "old.xls",
		ContentType: "application/vnd.ms-excel",
		Content:     []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "save it as .xlsx") {
		t.Fatalf("expected legacy workbook rejection, got %v", err)
	}
}
