package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// Extractor accepts text/plain and text/csv uploads as they are.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, doc domain.RawDocument) (string, error) {
	raw := doc.Content
	// Strip a UTF-8 BOM left by spreadsheet exports.
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		raw = raw[3:]
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("unsupported binary content in %s", doc.Filename)
	}
	text := lineEndings.Replace(string(raw))
	return strings.TrimSpace(strings.ReplaceAll(text, "\x00", "")), nil
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
