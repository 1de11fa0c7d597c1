package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

// Cache defines the interface for forecast caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Forecast, bool, error)
	Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error
}

// Key returns the cache key for a forecast point. Coordinates are rounded to
// four decimals (about 11 m) so near-identical requests share an entry.
func Key(c models.Coordinates) string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached forecast with expiration timestamp.
type cacheEntry struct {
	value     models.Forecast
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached forecast for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Forecast{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Forecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores a forecast with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
