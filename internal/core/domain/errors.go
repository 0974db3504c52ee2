package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnparsable        = errors.New("unparsable reply")
	ErrUnsupportedKind   = errors.New("unsupported document kind")
	ErrBrowser           = errors.New("browser failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
