// Package notify renders composed reports into channel payloads and delivers
// them at most once per trigger.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/observability"
)

// Channel names.
const (
	ChannelEmail = "email"
	ChannelCard  = "card"
)

// DefaultClaimTTL is how long a trigger stays claimed in the ledger.
const DefaultClaimTTL = 48 * time.Hour

// Channel renders and sends a report over one delivery mechanism. Send makes a
// single attempt.
type Channel interface {
	Name() string
	Recipient() string
	Send(ctx context.Context, report models.ComposedReport, now time.Time) error
}

// Ledger records which triggers have already been dispatched. Claim returns
// false when key is already claimed. Claimed reads without claiming.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Claimed(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Dispatcher delivers reports through registered channels, idempotent per
// (channel, trigger id).
type Dispatcher struct {
	channels map[string]Channel
	ledger   Ledger
	clock    clockwork.Clock
	ttl      time.Duration
	logger   *zap.Logger
}

// NewDispatcher returns a dispatcher over the given channels. A nil clock uses
// the real clock; ttl <= 0 uses DefaultClaimTTL.
func NewDispatcher(ledger Ledger, clock clockwork.Clock, ttl time.Duration, logger *zap.Logger, channels ...Channel) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Dispatcher{
		channels: byName,
		ledger:   ledger,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
	}
}

// Has reports whether a channel is registered.
func (d *Dispatcher) Has(channel string) bool {
	_, ok := d.channels[channel]
	return ok
}

// AlreadySent reports whether triggerID is already claimed on channel, and if
// so the duplicate result Dispatch would return. It lets callers skip building
// a report for a replayed trigger. Dispatch's claim stays authoritative; a
// ledger read error is logged and reported as not sent.
func (d *Dispatcher) AlreadySent(ctx context.Context, channel, triggerID string) (models.DispatchResult, bool) {
	ch, ok := d.channels[channel]
	if !ok {
		return models.DispatchResult{}, false
	}
	claimed, err := d.ledger.Claimed(ctx, ledgerKey(channel, triggerID))
	if err != nil {
		d.logger.Warn("ledger lookup failed", zap.String("channel", channel), zap.String("trigger_id", triggerID), zap.Error(err))
		return models.DispatchResult{}, false
	}
	if !claimed {
		return models.DispatchResult{}, false
	}
	observability.NotificationsTotal.WithLabelValues(channel, "duplicate").Inc()
	return models.DispatchResult{
		Channel:   channel,
		Recipient: ch.Recipient(),
		TriggerID: triggerID,
		Duplicate: true,
	}, true
}

// Dispatch sends report over channel unless triggerID was already dispatched on
// that channel, in which case it returns a duplicate result without sending.
// A failed send releases the claim so the same trigger can be retried later.
// Failures wrap failure.ErrDispatchFailure.
func (d *Dispatcher) Dispatch(ctx context.Context, report models.ComposedReport, channel, triggerID string) (models.DispatchResult, error) {
	ch, ok := d.channels[channel]
	if !ok {
		observability.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return models.DispatchResult{}, fmt.Errorf("%w: unknown channel %q", failure.ErrDispatchFailure, channel)
	}
	result := models.DispatchResult{
		Channel:   channel,
		Recipient: ch.Recipient(),
		TriggerID: triggerID,
	}
	logger := d.logger.With(zap.String("channel", channel), zap.String("trigger_id", triggerID))

	key := ledgerKey(channel, triggerID)
	claimed, err := d.ledger.Claim(ctx, key, d.ttl)
	if err != nil {
		observability.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return result, fmt.Errorf("%w: claim trigger: %v", failure.ErrDispatchFailure, err)
	}
	if !claimed {
		observability.NotificationsTotal.WithLabelValues(channel, "duplicate").Inc()
		logger.Info("notification already dispatched for trigger")
		result.Duplicate = true
		return result, nil
	}

	now := d.clock.Now()
	if err := ch.Send(ctx, report, now); err != nil {
		observability.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		if relErr := d.ledger.Release(context.WithoutCancel(ctx), key); relErr != nil {
			logger.Warn("failed to release notification claim", zap.Error(relErr))
		}
		return result, fmt.Errorf("%w: %s: %v", failure.ErrDispatchFailure, channel, err)
	}

	observability.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
	logger.Info("notification sent", zap.String("recipient", result.Recipient))
	result.SentAt = now.UTC().Format(time.RFC3339)
	return result, nil
}

// HealthStatus is the static liveness payload of the notification endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Health returns the liveness payload. It makes no external calls.
func (d *Dispatcher) Health() HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Message:   "Notification endpoint is working",
		Timestamp: d.clock.Now().UTC().Format(time.RFC3339),
	}
}

func ledgerKey(channel, triggerID string) string {
	return "notify:" + channel + ":" + triggerID
}
