package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

const (
	keyPrefix    = "forecast:"
	ledgerPrefix = "ledger:"

	// memcached rejects keys over 250 bytes or containing spaces/control characters.
	maxKeyLen = 250

	maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
)

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	if ctx.Err() != nil {
		return models.Forecast{}, false, ctx.Err()
	}
	item, err := c.client.Get(safeKey(keyPrefix, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Forecast{}, false, nil
		}
		return models.Forecast{}, false, err
	}
	var data models.Forecast
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.Forecast{}, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        safeKey(keyPrefix, key),
		Value:      raw,
		Expiration: expiration(ttl, 3600),
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

// Ledger returns an idempotency ledger sharing this cache's connections.
func (c *MemcachedCache) Ledger() *MemcachedLedger {
	return &MemcachedLedger{client: c.client}
}

// MemcachedLedger implements the dispatch ledger with memcached's atomic add,
// so concurrent replicas agree on which one claimed a trigger.
type MemcachedLedger struct {
	client *memcache.Client
}

// Claim adds key with ttl. Returns false when the key already exists.
func (l *MemcachedLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	err := l.client.Add(&memcache.Item{
		Key:        safeKey(ledgerPrefix, key),
		Value:      []byte(time.Now().UTC().Format(time.RFC3339)),
		Expiration: expiration(ttl, maxRelativeExp),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claimed reports whether key exists.
func (l *MemcachedLedger) Claimed(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	_, err := l.client.Get(safeKey(ledgerPrefix, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes key. A missing key is not an error.
func (l *MemcachedLedger) Release(ctx context.Context, key string) error {
	err := l.client.Delete(safeKey(ledgerPrefix, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func expiration(ttl time.Duration, fallback int32) int32 {
	sec := int32(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return fallback
	}
	return sec
}

// safeKey prefixes key, hashing it when memcached would reject it as is.
func safeKey(prefix, key string) string {
	k := prefix + key
	if len(k) <= maxKeyLen && !strings.ContainsFunc(k, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return k
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + "sha256:" + hex.EncodeToString(sum[:])
}
