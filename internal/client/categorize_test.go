package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/kjstillabower/winter-report-service/internal/circuitbreaker"
	"github.com/kjstillabower/winter-report-service/internal/failure"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"circuit open", fmt.Errorf("%w: %w", failure.ErrFetchUnavailable, circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"deadline", fmt.Errorf("%w: request timeout: %w", failure.ErrFetchUnavailable, context.DeadlineExceeded), ErrorCategoryTimeout},
		{"rate limited", fmt.Errorf("%w: %w", failure.ErrFetchUnavailable, ErrRateLimited), ErrorCategoryRateLimited},
		{"bad request", fmt.Errorf("%w: %w: reason", failure.ErrFetchUnavailable, ErrBadRequest), ErrorCategoryBadRequest},
		{"upstream", fmt.Errorf("%w: %w: HTTP 503", failure.ErrFetchUnavailable, ErrUpstreamFailure), ErrorCategoryUpstream},
		{"parse", fmt.Errorf("%w: %w: bad", failure.ErrFetchUnavailable, ErrParse), ErrorCategoryParsing},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, ErrorCategoryNetwork},
		{"other", errors.New("boom"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
