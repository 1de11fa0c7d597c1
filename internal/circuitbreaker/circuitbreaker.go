package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects upstream calls by opening after repeated failures
// and allowing trial requests in half-open state.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	clock            clockwork.Clock
	onStateChange    func(component string, from, to State) // optional, for metrics
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	// Clock defaults to the real clock.
	Clock         clockwork.Clock
	OnStateChange func(component string, from, to State)
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		clock:            cfg.Clock,
		onStateChange:    cfg.OnStateChange,
	}
}

// Call runs fn when the circuit allows it. When open, returns ErrOpen unless
// timeout has elapsed (then transitions to half-open). Records failures and
// successes to open/close the circuit. A canceled ctx is not counted as an
// upstream failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.clock.Since(cb.lastFailureTime) < cb.timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
	} else {
		cb.mu.Unlock()
	}

	err := fn()
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return err
	}

	cb.mu.Lock()
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.clock.Now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			from := cb.state
			cb.state = StateOpen
			cb.failureCount = 0
			cb.mu.Unlock()
			if from != StateOpen {
				cb.notify(from, StateOpen)
			}
			return err
		}
		cb.mu.Unlock()
		return err
	}

	cb.successCount++
	cb.failureCount = 0
	if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
		cb.state = StateClosed
		cb.successCount = 0
		cb.mu.Unlock()
		cb.notify(StateHalfOpen, StateClosed)
		return nil
	}
	cb.mu.Unlock()
	return nil
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Component returns the name used in metric labels.
func (cb *CircuitBreaker) Component() string {
	return cb.component
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.component, from, to)
	}
}
