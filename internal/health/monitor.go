package health

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Health statuses reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Thresholds configure when the service reports overloaded or degraded.
type Thresholds struct {
	RateLimitRPS         int
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

// Result is one health evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Monitor evaluates service health from the shutdown flag and tracked traffic.
type Monitor struct {
	tracker    *Tracker
	thresholds Thresholds
	logger     *zap.Logger

	shuttingDown atomic.Bool

	mu   sync.Mutex
	prev string
}

// NewMonitor returns a Monitor over tracker.
func NewMonitor(tracker *Tracker, thresholds Thresholds, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{tracker: tracker, thresholds: thresholds, logger: logger}
}

// Tracker returns the outcome tracker fed by the HTTP layer.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
func (m *Monitor) SetShuttingDown(v bool) {
	m.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (m *Monitor) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Evaluate computes the current status. Order: shutting-down > overloaded > degraded > healthy.
// Status transitions are logged once.
func (m *Monitor) Evaluate() Result {
	r := m.evaluate()

	m.mu.Lock()
	if m.prev != "" && m.prev != r.Status {
		m.logger.Info("health status transition",
			zap.String("previous_status", m.prev),
			zap.String("current_status", r.Status),
			zap.String("reason", r.Reason))
	}
	m.prev = r.Status
	m.mu.Unlock()

	return r
}

func (m *Monitor) evaluate() Result {
	if m.IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	t := m.thresholds
	if t.RateLimitRPS > 0 && t.OverloadWindow > 0 && t.OverloadThresholdPct > 0 {
		limit := float64(t.RateLimitRPS) * t.OverloadWindow.Seconds() * float64(t.OverloadThresholdPct) / 100
		if float64(m.tracker.RequestCount(t.OverloadWindow)) > limit {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if t.DegradedWindow > 0 && t.DegradedErrorPct > 0 {
		errs, total := m.tracker.ErrorRate(t.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(t.DegradedErrorPct) {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}
