package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

type errorMapping struct {
	kind   error
	status int
	code   string
}

// First match wins. Unknown errors are internal.
var errorMappings = []errorMapping{
	{kind: domain.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_input"},
	{kind: domain.ErrPortfolioNotFound, status: http.StatusNotFound, code: "portfolio_not_found"},
	{kind: domain.ErrRateLimited, status: http.StatusTooManyRequests, code: "rate_limited"},
	{kind: domain.ErrTemporary, status: http.StatusServiceUnavailable, code: "temporarily_unavailable"},
	{kind: domain.ErrBrowser, status: http.StatusBadGateway, code: "registry_unavailable"},
	{kind: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "timeout"},
}

func mapError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "upload_too_large"
	}
	for _, m := range errorMappings {
		if domain.IsKind(err, m.kind) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
