package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/resilience"
)

type publishRecorder struct {
	subjects []string
	payloads [][]byte
	errs     []error
}

func (p *publishRecorder) publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	})
}

func TestSubjectSanitizesPortfolioID(t *testing.T) {
	bus := newProgressBus("", nil, nil)

	if got := bus.Subject("pf-1"); got != "portfolio.progress.pf-1" {
		t.Fatalf("unexpected subject: %s", got)
	}
	if got := bus.Subject("a.b*>c d"); got != "portfolio.progress.a_b__c_d" {
		t.Fatalf("wildcards must be escaped, got %s", got)
	}
	if got := newProgressBus("intake.events.", nil, nil).Subject("x"); got != "intake.events.x" {
		t.Fatalf("unexpected custom subject: %s", got)
	}
}

func TestBroadcastPublishesJSONEvent(t *testing.T) {
	rec := &publishRecorder{}
	bus := newProgressBus("", nil, rec.publish)
	event := domain.ProgressEvent{
		PortfolioID: "pf-1",
		Step:        domain.StepDocumentValidation,
		Status:      domain.StatusSuccess,
		Percent:     25,
		Message:     "3 documents validated",
	}

	if err := bus.Broadcast(context.Background(), "pf-1", event); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(rec.subjects) != 1 || rec.subjects[0] != "portfolio.progress.pf-1" {
		t.Fatalf("unexpected subjects: %v", rec.subjects)
	}
	decoded, err := decodeEvent(rec.payloads[0])
	if err != nil {
		t.Fatalf("decodeEvent() error = %v", err)
	}
	if decoded.Step != event.Step || decoded.Percent != 25 || decoded.Message != event.Message {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestBroadcastRetriesTransientErrors(t *testing.T) {
	rec := &publishRecorder{errs: []error{nats.ErrTimeout}}
	bus := newProgressBus("", testExecutor(), rec.publish)

	err := bus.Broadcast(context.Background(), "pf-1", domain.ProgressEvent{Step: domain.StepProcessingComplete, Status: domain.StatusSuccess})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(rec.subjects) != 2 {
		t.Fatalf("expected one retry, got %d publishes", len(rec.subjects))
	}
}

func TestBroadcastWrapsExhaustedRetriesAsTemporary(t *testing.T) {
	rec := &publishRecorder{errs: []error{nats.ErrNoServers, nats.ErrNoServers, nats.ErrNoServers}}
	bus := newProgressBus("", testExecutor(), rec.publish)

	err := bus.Broadcast(context.Background(), "pf-1", domain.ProgressEvent{Step: domain.StepProcessingComplete, Status: domain.StatusSuccess})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if len(rec.subjects) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(rec.subjects))
	}
}

func TestBroadcastDoesNotRetryPermanentErrors(t *testing.T) {
	rec := &publishRecorder{errs: []error{nats.ErrMaxPayload}}
	bus := newProgressBus("", testExecutor(), rec.publish)

	err := bus.Broadcast(context.Background(), "pf-1", domain.ProgressEvent{Step: domain.StepProcessingComplete, Status: domain.StatusSuccess})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if len(rec.subjects) != 1 {
		t.Fatalf("expected single attempt, got %d", len(rec.subjects))
	}
}

func TestBroadcastRequiresPortfolioID(t *testing.T) {
	bus := newProgressBus("", nil, (&publishRecorder{}).publish)

	if err := bus.Broadcast(context.Background(), " ", domain.ProgressEvent{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDecodeEventRejectsIncompleteEvents(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"portfolio_id": "pf-1", "percent": 10})
	if _, err := decodeEvent(payload); err == nil {
		t.Fatalf("expected error for event without step")
	}
	if _, err := decodeEvent([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		record    bool
	}{
		{err: context.Canceled, retryable: false, record: false},
		{err: nats.ErrTimeout, retryable: true, record: true},
		{err: nats.ErrDisconnected, retryable: true, record: true},
		{err: nats.ErrSlowConsumer, retryable: true, record: true},
		{err: fmt.Errorf("nats publish: %w", nats.ErrMaxPayload), retryable: false, record: false},
		{err: nats.ErrBadSubject, retryable: false, record: false},
		{err: errors.New("boom"), retryable: false, record: true},
	}
	for _, tc := range cases {
		class := classifyNATSError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
			t.Fatalf("%v: got %+v", tc.err, class)
		}
	}
}

func TestSubscribeWithoutConnectionIsTemporary(t *testing.T) {
	bus := newProgressBus("", nil, nil)

	err := bus.Subscribe(context.Background(), "pf-1", func(domain.ProgressEvent) {})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
