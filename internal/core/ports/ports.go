package ports

import (
	"context"
	"time"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// BrowserFactory opens isolated browser sessions, one per corroboration run.
type BrowserFactory interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}

// BrowserSession drives a single headless browser tab. Calls are sequential.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	// WaitForText waits until an element containing text is visible.
	WaitForText(ctx context.Context, text string, timeout time.Duration) error
	Anchors(ctx context.Context) ([]domain.Anchor, error)
	Click(ctx context.Context, anchor domain.Anchor) error
	Back(ctx context.Context) error
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
