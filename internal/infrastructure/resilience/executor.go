package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned once every retry of an operation failed with a
// retryable error. It matches ErrRetriesExhausted and unwraps to the last error.
type ExhaustedError struct {
	Operation string
	Retries   int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d retries: %v", e.Operation, ErrRetriesExhausted, e.Retries, e.Err)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// RetryObserver is notified before every retry wait.
type RetryObserver func(operation string, retry int, wait time.Duration)

// BreakerObserver is notified when an operation's circuit opens or closes.
// Half-open counts as open.
type BreakerObserver func(operation string, open bool)

// Executor runs calls with exponential retry inside a per-operation circuit
// breaker. One executor is shared by every call site of a backend.
type Executor struct {
	cfg             Config
	sleep           func(ctx context.Context, d time.Duration) error
	retryObserver   RetryObserver
	breakerObserver BreakerObserver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (e *Executor) WithRetryObserver(observer RetryObserver) *Executor {
	e.retryObserver = observer
	return e
}

func (e *Executor) WithBreakerObserver(observer BreakerObserver) *Executor {
	e.breakerObserver = observer
	return e
}

func (e *Executor) Config() Config {
	return e.cfg
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = recordEverything
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, fn, classifier)
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, fn, classifier)
	})
	return err
}

func (e *Executor) retry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	for retries := 0; ; retries++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil || !classifier(err).Retryable {
			return err
		}
		if retries >= e.cfg.MaxRetries {
			return &ExhaustedError{Operation: operation, Retries: retries, Err: err}
		}

		next := retries + 1
		wait := e.cfg.Delay(next)
		slog.Warn("retry_attempt",
			"operation", operation,
			"retry", next,
			"max_retries", e.cfg.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if e.retryObserver != nil {
			e.retryObserver(operation, next, wait)
		}
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return errors.Join(sleepErr, err)
		}
	}
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	cfg := e.cfg
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.BreakerMinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.breakerObserver != nil {
				e.breakerObserver(name, to != gobreaker.StateClosed)
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func recordEverything(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
