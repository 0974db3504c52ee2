package extractor

import (
	"context"
	"testing"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

type staticExtractor string

func (s staticExtractor) Extract(context.Context, domain.RawDocument) (string, error) {
	return string(s), nil
}

func TestRouterDispatchesByContentType(t *testing.T) {
	router := NewRouter().
		Register(staticExtractor("pdf"), "application/pdf").
		Register(staticExtractor("ocr"), "image/png", "image/jpeg")

	cases := map[string]string{
		"application/pdf":   "pdf",
		"IMAGE/PNG":         "ocr",
		"image/jpeg; q=0.9": "ocr",
	}
	for contentType, want := range cases {
		got, err := router.Extract(context.Background(), domain.RawDocument{ContentType: contentType})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", contentType, err)
		}
		if got != want {
			t.Fatalf("%s: got %q, want %q", contentType, got, want)
		}
	}
}

func TestRouterRejectsUnknownType(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), domain.RawDocument{ContentType: "application/zip"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
