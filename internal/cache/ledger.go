package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process idempotency ledger. Claims are lost on restart;
// use MemcachedLedger when several replicas share triggers.
type MemoryLedger struct {
	mu      sync.Mutex
	claimed map[string]time.Time
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claimed: make(map[string]time.Time)}
}

// Claim records key until ttl elapses. It returns false when key is already held.
func (l *MemoryLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.claimed[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.claimed[key] = now.Add(ttl)
	return true, nil
}

// Claimed reports whether key is held and unexpired.
func (l *MemoryLedger) Claimed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.claimed[key]
	return ok && time.Now().Before(exp), nil
}

// Release drops a claim. Releasing an unknown key is not an error.
func (l *MemoryLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, key)
	return nil
}
