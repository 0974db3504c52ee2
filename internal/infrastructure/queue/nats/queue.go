package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/resilience"
)

const DefaultSubjectPrefix = "portfolio.progress"

// ProgressBus publishes pipeline progress events on one subject per portfolio
// and lets HTTP clients follow a single portfolio.
type ProgressBus struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	publish  func(subject string, data []byte) error
}

type Options struct {
	SubjectPrefix        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string) (*ProgressBus, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*ProgressBus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("portfolio-intake"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	bus := newProgressBus(options.SubjectPrefix, options.ResilienceExecutor, conn.Publish)
	bus.conn = conn
	return bus, nil
}

func newProgressBus(prefix string, executor *resilience.Executor, publish func(string, []byte) error) *ProgressBus {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &ProgressBus{prefix: prefix, executor: executor, publish: publish}
}

func (b *ProgressBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Subject returns the subject carrying events of one portfolio. Wildcard
// and separator characters are replaced so an id can't widen a subscription.
func (b *ProgressBus) Subject(portfolioID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, portfolioID)
	return b.prefix + "." + token
}

func (b *ProgressBus) Broadcast(ctx context.Context, portfolioID string, event domain.ProgressEvent) error {
	if strings.TrimSpace(portfolioID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "nats broadcast", errors.New("portfolio id is required"))
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	subject := b.Subject(portfolioID)

	call := func(_ context.Context) error {
		if err := b.publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return busError("nats publish", err)
	}
	return nil
}

// Subscribe delivers events of one portfolio to handler until ctx is done.
func (b *ProgressBus) Subscribe(ctx context.Context, portfolioID string, handler func(domain.ProgressEvent)) error {
	if b.conn == nil {
		return domain.WrapError(domain.ErrTemporary, "nats subscribe", nats.ErrConnectionClosed)
	}
	sub, err := b.conn.Subscribe(b.Subject(portfolioID), func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeEvent(msg.Data)
		if err != nil {
			slog.Warn("progress_event_decode_failed", "portfolio_id", portfolioID, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return busError("nats subscribe", err)
	}

	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return busError("nats flush", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

func decodeEvent(data []byte) (domain.ProgressEvent, error) {
	var event domain.ProgressEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("unmarshal progress event: %w", err)
	}
	if event.Step == "" || event.Status == "" {
		return domain.ProgressEvent{}, errors.New("progress event without step or status")
	}
	return event, nil
}
