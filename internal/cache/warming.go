package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/observability"
)

// ForecastFetcher is implemented by the service layer to fetch a forecast through the cache.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type ForecastFetcher interface {
	Forecast(ctx context.Context, coords models.Coordinates) (models.Forecast, error)
}

// CacheWarmer prefetches forecasts for configured points so the first request
// and the scheduled run are served from cache.
type CacheWarmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher ForecastFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches each point concurrently and populates the cache via the fetcher.
// Returns an error if any point failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, points []models.Coordinates) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("locations", len(points)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(points))
	for _, p := range points {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.Forecast(ctx, p); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", Key(p), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("locations", len(points)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, points []models.Coordinates, interval time.Duration) error {
	if err := w.Warm(ctx, points); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, points); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
