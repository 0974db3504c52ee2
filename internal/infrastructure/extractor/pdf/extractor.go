package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// Extractor reads the text layer of a PDF. Scanned PDFs without a text layer
// yield an empty string.
type Extractor struct {
	maxChars int
}

func NewExtractor(maxChars int) *Extractor {
	return &Extractor{maxChars: maxChars}
}

func (e *Extractor) Extract(ctx context.Context, doc domain.RawDocument) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", doc.Filename, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", doc.Filename, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", doc.Filename, err)
	}

	var src io.Reader = plain
	if e.maxChars > 0 {
		src = io.LimitReader(plain, int64(e.maxChars)*4)
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", doc.Filename, err)
	}

	text = strings.TrimSpace(string(bytes.ToValidUTF8(raw, nil)))
	slog.Debug("pdf_text_extracted", "filename", doc.Filename, "pages", reader.NumPage(), "chars", len(text))
	return text, nil
}
