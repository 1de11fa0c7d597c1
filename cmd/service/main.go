package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/winter-report-service/internal/cache"
	"github.com/kjstillabower/winter-report-service/internal/circuitbreaker"
	"github.com/kjstillabower/winter-report-service/internal/client"
	"github.com/kjstillabower/winter-report-service/internal/config"
	"github.com/kjstillabower/winter-report-service/internal/health"
	httphandler "github.com/kjstillabower/winter-report-service/internal/http"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/narrative"
	"github.com/kjstillabower/winter-report-service/internal/notify"
	"github.com/kjstillabower/winter-report-service/internal/observability"
	"github.com/kjstillabower/winter-report-service/internal/scheduler"
	"github.com/kjstillabower/winter-report-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "forecast_api",
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues("forecast_api").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	forecastClient, err := client.NewOpenMeteoClient(cfg.ForecastURL, cfg.ForecastModel, cfg.ForecastTimeout, breaker)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	forecastCache, ledger, memcached, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	narrator, err := newNarrator(cfg)
	if err != nil {
		logger.Fatal("narrative provider", zap.Error(err))
	}
	logger.Info("narrative provider", zap.String("provider", cfg.NarrativeProvider))

	channels, err := newChannels(cfg)
	if err != nil {
		logger.Fatal("notification channels", zap.Error(err))
	}
	if len(channels) == 0 {
		logger.Warn("no notification channel configured; /notify/daily will fail")
	}
	dispatcher := notify.NewDispatcher(ledger, clockwork.NewRealClock(), cfg.LedgerTTL, logger, channels...)

	reports := service.NewReportService(forecastClient, forecastCache, narrator, dispatcher, service.Options{
		CacheTTL:        cfg.CacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		DefaultLocation: cfg.DefaultLocation,
		Logger:          logger,
	})

	tracker := health.NewTracker(clockwork.NewRealClock())
	monitor := health.NewMonitor(tracker, health.Thresholds{
		RateLimitRPS:         cfg.RateLimitRPS,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}, logger)
	observability.RegisterRateLimitGauges(
		func() int { return tracker.RequestCount(cfg.OverloadWindow) },
		func() int { return tracker.DenialCount(cfg.OverloadWindow) },
	)

	var cachePing func() error
	if memcached != nil {
		cachePing = memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(reports, monitor, cachePing, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if cfg.WarmCache {
		warmer := cache.NewCacheWarmer(reports, logger)
		points := []models.Coordinates{cfg.DefaultLocation}
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(bgCtx, points, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			warmCtx, warmCancel := context.WithTimeout(bgCtx, cfg.ForecastTimeout+5*time.Second)
			if err := warmer.Warm(warmCtx, points); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	var daily *scheduler.Scheduler
	if cfg.ScheduleEnabled {
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, ch.Name())
		}
		daily = scheduler.New(reports, scheduler.Config{
			At:       cfg.ScheduleTime,
			Location: cfg.NotificationLocation,
			Channels: names,
			Timeout:  cfg.RequestTimeout,
		}, logger)
		if err := daily.Start(); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
		logger.Info("daily notification scheduled",
			zap.String("at", cfg.ScheduleTime),
			zap.String("timezone", cfg.NotificationTimezone),
			zap.Strings("channels", names))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// /notify/daily runs without the router timeout, so leave room for a full pipeline run.
		WriteTimeout: 2 * cfg.RequestTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	if daily != nil {
		daily.Stop()
	}
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newCache returns the forecast cache and the notification ledger for the
// configured backend. The memcached client is returned for ping and close; it
// is nil for the in-memory backend.
func newCache(cfg *config.Config) (cache.Cache, notify.Ledger, *cache.MemcachedCache, error) {
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, nil, err
		}
		return mc, mc.Ledger(), mc, nil
	}
	return cache.NewInMemoryCache(), cache.NewMemoryLedger(), nil, nil
}

func newNarrator(cfg *config.Config) (narrative.Provider, error) {
	if cfg.NarrativeProvider == config.NarrativeStatic {
		return narrative.NewStaticProvider(), nil
	}
	p, err := narrative.NewOpenAIProvider(openAIConfig(cfg))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// openAIConfig maps the narrative settings onto the provider config. The
// failure threshold is validated as >= 1 at load time.
func openAIConfig(cfg *config.Config) narrative.OpenAIConfig {
	return narrative.OpenAIConfig{
		APIKey:           cfg.NarrativeAPIKey,
		URL:              cfg.NarrativeURL,
		Model:            cfg.NarrativeModel,
		Temperature:      cfg.NarrativeTemperature,
		Timeout:          cfg.NarrativeTimeout,
		FailureThreshold: uint32(cfg.NarrativeFailureThreshold),
		OpenTimeout:      cfg.NarrativeOpenTimeout,
	}
}

// newChannels builds the notification channels enabled in cfg, email first.
func newChannels(cfg *config.Config) ([]notify.Channel, error) {
	var channels []notify.Channel
	if cfg.EmailEnabled() {
		mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.NewEmailChannel(mailer, cfg.EmailFrom, cfg.EmailTo, cfg.NotificationLocation))
	}
	if cfg.CardEnabled() {
		channels = append(channels, notify.NewCardChannel(cfg.CardWebhookURL, cfg.CardTimeout, cfg.NotificationLocation))
	}
	return channels, nil
}
