package health

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how long outcomes are kept regardless of the windows queried.
const retention = 5 * time.Minute

// Tracker keeps sliding windows of request outcome timestamps. It is the single
// source for overload (requests, denials) and degraded (error rate) signals.
type Tracker struct {
	clock clockwork.Clock

	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker reading time from clock (real clock when nil).
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

// RecordSuccess records a request that completed without an upstream failure.
func (t *Tracker) RecordSuccess() {
	t.record(&t.successTimes)
}

// RecordError records a request that failed on an upstream or pipeline error.
func (t *Tracker) RecordError() {
	t.record(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.record(&t.deniedTimes)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns successes, errors and denials within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countSince(t.successTimes, cutoff) + countSince(t.errorTimes, cutoff) + countSince(t.deniedTimes, cutoff)
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.clock.Now().Add(-window))
}

// ErrorRate returns (errors, successes+errors) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	errors = countSince(t.errorTimes, cutoff)
	return errors, errors + countSince(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for _, slice := range []*[]time.Time{&t.successTimes, &t.errorTimes, &t.deniedTimes} {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
}
