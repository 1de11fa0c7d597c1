package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/observability"
)

// DailySender dispatches the daily report on one channel, at most once per trigger.
type DailySender interface {
	SendDaily(ctx context.Context, channel, triggerID string) (models.DispatchResult, error)
}

// Config configures the daily job.
type Config struct {
	// At is the local wall-clock time, "HH:MM", in Location.
	At       string
	Location *time.Location
	Channels []string
	// Timeout bounds one channel's run.
	Timeout time.Duration
	Clock   clockwork.Clock
}

// Scheduler fires the daily notification for every configured channel. The
// trigger id is derived from the local date, so a restarted process or a
// second replica cannot send the same day's report twice.
type Scheduler struct {
	cron   *gocron.Scheduler
	sender DailySender
	cfg    Config
	logger *zap.Logger
}

// New creates a Scheduler. It does not start it.
func New(sender DailySender, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cron := gocron.NewScheduler(cfg.Location)
	cron.SingletonModeAll()
	return &Scheduler{cron: cron, sender: sender, cfg: cfg, logger: logger}
}

// Start schedules the daily job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.cfg.Channels) == 0 {
		s.logger.Info("scheduler: no notification channels configured; nothing to schedule")
		return nil
	}
	job, err := s.cron.Every(1).Day().At(s.cfg.At).Do(func() {
		_ = s.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule daily job at %q: %w", s.cfg.At, err)
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler started",
		zap.String("at", s.cfg.At),
		zap.String("timezone", s.cfg.Location.String()),
		zap.Strings("channels", s.cfg.Channels),
		zap.Time("next_run", job.NextRun()))
	return nil
}

// Stop stops the scheduler and cancels future runs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunOnce sends today's report on every channel. A failing channel does not stop
// the others; the joined error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	triggerID := TriggerID(s.cfg.Clock.Now(), s.cfg.Location)
	logger := s.logger.With(zap.String("trigger_id", triggerID))

	var errs []error
	for _, channel := range s.cfg.Channels {
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		result, err := s.sender.SendDaily(runCtx, channel, triggerID)
		cancel()

		switch {
		case err != nil:
			observability.ScheduledRunsTotal.WithLabelValues("failed").Inc()
			logger.Error("scheduled notification failed", zap.String("channel", channel), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		case result.Duplicate:
			observability.ScheduledRunsTotal.WithLabelValues("duplicate").Inc()
			logger.Info("scheduled notification already sent", zap.String("channel", channel))
		default:
			observability.ScheduledRunsTotal.WithLabelValues("sent").Inc()
			logger.Info("scheduled notification sent",
				zap.String("channel", channel),
				zap.String("recipient", result.Recipient))
		}
	}
	return errors.Join(errs...)
}

// TriggerID returns the idempotency key for the daily run covering now in loc.
func TriggerID(now time.Time, loc *time.Location) string {
	return "daily:" + now.In(loc).Format("2006-01-02")
}
