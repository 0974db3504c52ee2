package resilience

import "time"

type Config struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
	// BaseDelay is scaled by 2^n before retry n.
	BaseDelay time.Duration
	// MaxDelay caps a single wait; zero leaves it uncapped.
	MaxDelay time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.MaxRetries < 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.BaseDelay < 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxDelay < 0 {
		out.MaxDelay = 0
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// Delay returns the wait before retry n (1-based): 2^n * BaseDelay.
func (c Config) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 20 {
		retry = 20
	}
	wait := c.BaseDelay * time.Duration(int64(1)<<retry)
	if c.MaxDelay > 0 && wait > c.MaxDelay {
		wait = c.MaxDelay
	}
	return wait
}
