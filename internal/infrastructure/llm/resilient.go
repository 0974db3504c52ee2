package llm

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/resilience"
)

// ResilientCompleter applies the shared retry policy, circuit breaker and
// request pacing to any chat backend.
type ResilientCompleter struct {
	next      ports.ChatCompleter
	executor  *resilience.Executor
	limiter   *rate.Limiter
	operation string
}

func NewResilientCompleter(next ports.ChatCompleter, executor *resilience.Executor, limiter *rate.Limiter) *ResilientCompleter {
	return &ResilientCompleter{
		next:      next,
		executor:  executor,
		limiter:   limiter,
		operation: "llm.complete",
	}
}

func (c *ResilientCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	var reply string
	call := func(callCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(callCtx); err != nil {
				return err
			}
		}
		out, err := c.next.Complete(callCtx, systemPrompt, userMessage)
		if err != nil {
			return err
		}
		reply = out
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, c.operation, call, ClassifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapFailure(err)
	}
	return reply, nil
}

func wrapFailure(err error) error {
	switch {
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return domain.WrapError(domain.ErrRateLimited, "llm complete", err)
	case resilience.IsCircuitOpen(err):
		return domain.WrapError(domain.ErrTemporary, "llm complete", err)
	default:
		return err
	}
}
