package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

// Router picks a TextExtractor by the document content type.
type Router struct {
	byType map[string]ports.TextExtractor
}

func NewRouter() *Router {
	return &Router{byType: make(map[string]ports.TextExtractor)}
}

func (r *Router) Register(extractor ports.TextExtractor, contentTypes ...string) *Router {
	for _, contentType := range contentTypes {
		r.byType[normalize(contentType)] = extractor
	}
	return r
}

func (r *Router) Extract(ctx context.Context, doc domain.RawDocument) (string, error) {
	contentType := normalize(doc.ContentType)
	extractor, ok := r.byType[contentType]
	if !ok {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("no extractor for content type %q", contentType))
	}
	return extractor.Extract(ctx, doc)
}

func normalize(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}
