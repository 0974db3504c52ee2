package ports

import (
	"context"
	"io"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// ChatCompleter sends one system prompt and one user message and returns the reply text.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// TextExtractor turns an uploaded document into UTF-8 text.
type TextExtractor interface {
	Extract(ctx context.Context, doc domain.RawDocument) (string, error)
}

// BatchRepository persists finalized batch results.
type BatchRepository interface {
	Save(ctx context.Context, batch *domain.BatchResult) error
	GetByPortfolioID(ctx context.Context, portfolioID string) (*domain.BatchResult, error)
}

// ObjectStorage stores uploads, screenshots and summary files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ProgressBroadcaster fans progress events out to live clients.
type ProgressBroadcaster interface {
	Broadcast(ctx context.Context, portfolioID string, event domain.ProgressEvent) error
}

// ProgressSubscriber streams progress events of one portfolio until ctx is done.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, portfolioID string, handler func(domain.ProgressEvent)) error
}

// CorroborationCache keeps recent corroboration results per company number.
type CorroborationCache interface {
	Get(ctx context.Context, companyNumber string) (*domain.CorroborationResult, bool, error)
	Set(ctx context.Context, result domain.CorroborationResult) error
}

// PipelineObserver records pipeline outcomes for metrics.
type PipelineObserver interface {
	ObserveDocument(outcome string)
	ObserveStep(step domain.ProgressStep, status domain.ProgressStatus, seconds float64)
	ObserveChargeLink(outcome string)
}
