package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errRateLimited = errors.New("429 too many requests")

func rateLimitClassifier(err error) ErrorClassification {
	return ErrorClassification{
		Retryable:     errors.Is(err, errRateLimited),
		RecordFailure: true,
	}
}

func newRecordingExecutor(cfg Config) (*Executor, *[]time.Duration) {
	exec := NewExecutor(cfg)
	delays := []time.Duration{}
	exec.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return exec, &delays
}

func TestExecuteRetriesRateLimitWithDoublingDelays(t *testing.T) {
	base := 10 * time.Millisecond
	exec, delays := newRecordingExecutor(Config{MaxRetries: 3, BaseDelay: base})

	attempts := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts <= 2 {
			return errRateLimited
		}
		return nil
	}, rateLimitClassifier)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	want := []time.Duration{2 * base, 4 * base}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay %d: expected %v, got %v", i, want[i], (*delays)[i])
		}
	}
}

func TestExecuteReturnsExhaustedAfterMaxRetries(t *testing.T) {
	exec, delays := newRecordingExecutor(Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	attempts := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errRateLimited
	}, rateLimitClassifier)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	if len(*delays) != 3 {
		t.Fatalf("expected 3 delays, got %v", *delays)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec, delays := newRecordingExecutor(Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, rateLimitClassifier)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no delays, got %v", *delays)
	}
}

func TestExecuteStopsWaitingWhenContextCancelled(t *testing.T) {
	exec := NewExecutor(Config{MaxRetries: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return errRateLimited
	}, rateLimitClassifier)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDelayDefaultsMatchBackoffSchedule(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, expected := range want {
		if got := cfg.Delay(i + 1); got != expected {
			t.Fatalf("retry %d: expected %v, got %v", i+1, expected, got)
		}
	}

	cfg.MaxDelay = 5 * time.Second
	if got := cfg.Delay(3); got != 5*time.Second {
		t.Fatalf("expected capped delay 5s, got %v", got)
	}
}

func TestRetryObserverSeesEveryRetry(t *testing.T) {
	exec, _ := newRecordingExecutor(Config{MaxRetries: 2, BaseDelay: time.Millisecond})
	retries := []int{}
	exec.WithRetryObserver(func(_ string, retry int, _ time.Duration) {
		retries = append(retries, retry)
	})

	_ = exec.Execute(context.Background(), "op", func(context.Context) error {
		return errRateLimited
	}, rateLimitClassifier)
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected retries observed: %v", retries)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		MaxRetries:              0,
		BaseDelay:               time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExhaustedErrorCarriesRetryCount(t *testing.T) {
	exec, _ := newRecordingExecutor(Config{MaxRetries: 2, BaseDelay: time.Millisecond})

	err := exec.Execute(context.Background(), "llm.complete", func(context.Context) error {
		return errRateLimited
	}, rateLimitClassifier)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T %v", err, err)
	}
	if exhausted.Operation != "llm.complete" || exhausted.Retries != 2 {
		t.Fatalf("unexpected exhausted error: %+v", exhausted)
	}
}

func TestBreakerObserverSeesOpenCircuit(t *testing.T) {
	exec := NewExecutor(Config{
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})
	states := map[string]bool{}
	exec.WithBreakerObserver(func(op string, open bool) {
		states[op] = open
	})

	_ = exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		return errors.New("no servers")
	}, nil)

	if open, ok := states["nats.publish"]; !ok || !open {
		t.Fatalf("expected open circuit to be observed, got %v", states)
	}
}
