package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

// inFlightRequest tracks a single upstream fetch that multiple callers may wait for.
// done is closed once result and err are set.
type inFlightRequest struct {
	done   chan struct{}
	result models.Forecast
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent fetches for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified wait timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight fetch for key or starts one by running fn in its
// own goroutine. shared reports whether the caller joined an existing fetch.
// Waiting respects ctx and the coalescer timeout; fn keeps running for the
// other waiters when one caller gives up.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.Forecast, error)) (result models.Forecast, shared bool, err error) {
	rc.mu.Lock()
	req, shared := rc.inFlight[key]
	if !shared {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		go func() {
			req.result, req.err = fn()
			rc.cleanup(key)
			close(req.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		if req.err != nil {
			return models.Forecast{}, shared, req.err
		}
		return req.result, shared, nil
	case <-waitCtx.Done():
		return models.Forecast{}, shared, waitCtx.Err()
	}
}

// cleanup removes the in-flight request for key. Must be called after the fetch completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
