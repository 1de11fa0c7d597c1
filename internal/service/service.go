package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/winter-report-service/internal/cache"
	"github.com/kjstillabower/winter-report-service/internal/client"
	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/narrative"
	"github.com/kjstillabower/winter-report-service/internal/notify"
	"github.com/kjstillabower/winter-report-service/internal/observability"
	"github.com/kjstillabower/winter-report-service/internal/report"
	"github.com/kjstillabower/winter-report-service/internal/weather"
)

// Options configures a ReportService.
type Options struct {
	// CacheTTL is how long fetched forecasts are cached.
	CacheTTL time.Duration
	// CoalesceTimeout bounds how long a caller waits on a shared fetch; 0 disables coalescing.
	CoalesceTimeout time.Duration
	// DefaultLocation is used by scheduled and parameterless notification runs.
	DefaultLocation models.Coordinates
	Logger          *zap.Logger
}

// ReportService runs the report pipeline: forecast lookup (cache-aside with
// request coalescing), normalization, narrative generation, composition and
// dispatch. Each stage fails the whole run; no partial report is produced.
type ReportService struct {
	client          client.ForecastClient
	cache           cache.Cache
	narrator        narrative.Provider
	dispatcher      *notify.Dispatcher
	ttl             time.Duration
	defaultLocation models.Coordinates
	logger          *zap.Logger
	misses          *missTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewReportService creates a ReportService with the provided dependencies.
func NewReportService(fc client.ForecastClient, c cache.Cache, narrator narrative.Provider, dispatcher *notify.Dispatcher, opts Options) *ReportService {
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ReportService{
		client:          fc,
		cache:           c,
		narrator:        narrator,
		dispatcher:      dispatcher,
		ttl:             opts.CacheTTL,
		defaultLocation: opts.DefaultLocation,
		logger:          opts.Logger,
		misses:          newMissTracker(),
		coalescer:       coalescer,
	}
}

// DefaultLocation returns the point used for scheduled notifications.
func (s *ReportService) DefaultLocation() models.Coordinates {
	return s.defaultLocation
}

// loggerFromContext returns the request-scoped logger if present, else the service logger.
func (s *ReportService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// Forecast returns the raw forecast for coords using the cache-aside pattern.
// Errors from the provider wrap failure.ErrFetchUnavailable.
func (s *ReportService) Forecast(ctx context.Context, coords models.Coordinates) (models.Forecast, error) {
	key := cache.Key(coords)
	logger := s.loggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("forecast").Inc()

	pending, release := s.misses.begin(key)
	defer release()
	if pending > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("overlapping cache miss", zap.String("key", key), zap.Int("pending", pending))
	}

	var data models.Forecast
	if s.coalescer != nil {
		// The shared fetch outlives any single caller; the client timeout bounds it.
		fetchCtx := context.WithoutCancel(ctx)
		var shared bool
		data, shared, err = s.coalescer.GetOrDo(ctx, key, func() (models.Forecast, error) {
			return s.client.FetchForecast(fetchCtx, coords)
		})
		if shared && err == nil {
			observability.RequestCoalescingHitsTotal.Inc()
		}
	} else {
		data, err = s.client.FetchForecast(ctx, coords)
	}
	if err != nil {
		return models.Forecast{}, fmt.Errorf("fetch forecast for %s: %w", key, err)
	}

	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	}
	return data, nil
}

// Weather returns the normalized view of the forecast for coords.
func (s *ReportService) Weather(ctx context.Context, coords models.Coordinates) (models.WeatherReport, error) {
	f, err := s.Forecast(ctx, coords)
	if err != nil {
		return models.WeatherReport{}, s.fail(ctx, "fetch", err)
	}
	n, err := normalize(f)
	if err != nil {
		return models.WeatherReport{}, s.fail(ctx, "normalize", err)
	}
	return models.WeatherReport{
		Location: coords,
		Timezone: f.Timezone,
		Current:  n.Snapshot,
		Daily:    n.Daily,
		Hourly:   f.Hourly,
	}, nil
}

// ScreenReport fetches the forecast for coords and returns the on-screen report.
func (s *ReportService) ScreenReport(ctx context.Context, coords models.Coordinates) (models.ScreenReport, error) {
	f, err := s.Forecast(ctx, coords)
	if err != nil {
		return models.ScreenReport{}, s.fail(ctx, "fetch", err)
	}
	return s.Summarize(ctx, coords, f)
}

// Summarize composes the on-screen report for a caller-supplied forecast. Only
// the summary narrative is requested.
func (s *ReportService) Summarize(ctx context.Context, coords models.Coordinates, f models.Forecast) (models.ScreenReport, error) {
	composed, err := s.composeSummary(ctx, coords, f)
	if err != nil {
		return models.ScreenReport{}, err
	}
	return composed.Screen(), nil
}

func (s *ReportService) composeSummary(ctx context.Context, coords models.Coordinates, f models.Forecast) (models.ComposedReport, error) {
	n, err := normalize(f)
	if err != nil {
		return models.ComposedReport{}, s.fail(ctx, "normalize", err)
	}
	summary, err := s.narrator.Generate(ctx, narrative.NewSummaryRequest(coords, n))
	if err != nil {
		return models.ComposedReport{}, s.fail(ctx, "narrative", err)
	}
	return report.Compose(n.Snapshot, n.Daily, summary), nil
}

// EmailReport builds the full report for coords. The summary and detailed
// narratives are requested concurrently; either failing fails the report.
func (s *ReportService) EmailReport(ctx context.Context, coords models.Coordinates) (models.ComposedReport, error) {
	f, err := s.Forecast(ctx, coords)
	if err != nil {
		return models.ComposedReport{}, s.fail(ctx, "fetch", err)
	}
	n, err := normalize(f)
	if err != nil {
		return models.ComposedReport{}, s.fail(ctx, "normalize", err)
	}

	var summary, detailed models.NarrativeReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.narrator.Generate(gctx, narrative.NewSummaryRequest(coords, n))
		return err
	})
	g.Go(func() error {
		var err error
		detailed, err = s.narrator.Generate(gctx, narrative.NewDetailedRequest(coords, n, f.Hourly))
		return err
	})
	if err := g.Wait(); err != nil {
		return models.ComposedReport{}, s.fail(ctx, "narrative", err)
	}

	return report.Compose(n.Snapshot, n.Daily, narrative.Merge(summary, detailed)), nil
}

// SendDaily builds the report for the default location and dispatches it on
// channel, at most once per triggerID. A trigger already in the ledger returns
// the duplicate result without fetching or generating anything. The email channel gets the full report;
// other channels get the summary report.
func (s *ReportService) SendDaily(ctx context.Context, channel, triggerID string) (models.DispatchResult, error) {
	if !s.dispatcher.Has(channel) {
		return models.DispatchResult{}, s.fail(ctx, "dispatch", fmt.Errorf("%w: channel %q is not configured", failure.ErrDispatchFailure, channel))
	}
	if result, sent := s.dispatcher.AlreadySent(ctx, channel, triggerID); sent {
		s.loggerFromContext(ctx).Info("trigger already dispatched; skipping report build",
			zap.String("channel", channel), zap.String("trigger_id", triggerID))
		return result, nil
	}

	var composed models.ComposedReport
	var err error
	if channel == notify.ChannelEmail {
		composed, err = s.EmailReport(ctx, s.defaultLocation)
	} else {
		var f models.Forecast
		f, err = s.Forecast(ctx, s.defaultLocation)
		if err != nil {
			err = s.fail(ctx, "fetch", err)
		} else {
			composed, err = s.composeSummary(ctx, s.defaultLocation, f)
		}
	}
	if err != nil {
		return models.DispatchResult{}, err
	}

	result, err := s.dispatcher.Dispatch(ctx, composed, channel, triggerID)
	if err != nil {
		return result, s.fail(ctx, "dispatch", err)
	}
	return result, nil
}

// NotificationHealth returns the static liveness payload of the notification endpoint.
func (s *ReportService) NotificationHealth() notify.HealthStatus {
	return s.dispatcher.Health()
}

// fail records a pipeline failure and returns err unchanged.
func (s *ReportService) fail(ctx context.Context, stage string, err error) error {
	kind := failure.KindOf(err)
	observability.PipelineFailuresTotal.WithLabelValues(string(kind)).Inc()
	s.loggerFromContext(ctx).Warn("report pipeline failed",
		zap.String("stage", stage),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return err
}

func normalize(f models.Forecast) (weather.Normalized, error) {
	return weather.Normalize(f.Hourly, weather.Location(f))
}

// ChannelFromQuery normalizes a channel name from user input; empty means email.
func ChannelFromQuery(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return notify.ChannelEmail
	}
	return v
}
