package service

import "sync"

// missTracker counts forecast lookups that are currently fetching upstream
// after a cache miss. Two or more for one key means the cache did not absorb
// the burst and coalescing (if enabled) is doing the work.
type missTracker struct {
	mu      sync.Mutex
	pending map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{pending: make(map[string]int)}
}

// begin registers a miss for key. It returns the number of misses now pending
// for that key and a release func that must be called once the fetch returns.
// Calling release more than once has no further effect.
func (m *missTracker) begin(key string) (pending int, release func()) {
	m.mu.Lock()
	m.pending[key]++
	pending = m.pending[key]
	m.mu.Unlock()

	var once sync.Once
	return pending, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.pending[key] <= 1 {
				delete(m.pending, key)
				return
			}
			m.pending[key]--
		})
	}
}

// inFlight returns the number of pending misses for key.
func (m *missTracker) inFlight(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[key]
}
