package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/winter-report-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the forecastApiErrorsTotal label.
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryBadRequest  ErrorCategory = "bad_request"
	ErrorCategoryUpstream    ErrorCategory = "upstream"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps a forecast client error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var netErr net.Error
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorCategoryTimeout
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrParse):
		return ErrorCategoryParsing
	case netErr != nil:
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
