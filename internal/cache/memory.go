package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero: never
}

// MemoryCache is a process-local cache. Expiry is checked on read against
// its own clock; the go-cache janitor only reclaims memory.
type MemoryCache struct {
	cache *gocache.Cache
	now   func() time.Time
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	c := &MemoryCache{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, _, ok := c.GetWithTTL(ctx, key)
	return val, ok
}

// GetWithTTL retrieves a value and the time left before it expires.
func (c *MemoryCache) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, 0, false
	}
	entry := val.(memoryEntry)
	if entry.expiresAt.IsZero() {
		return entry.value, 0, true
	}
	remaining := entry.expiresAt.Sub(c.now())
	if remaining <= 0 {
		c.cache.Delete(key)
		return nil, 0, false
	}
	return entry.value, remaining, true
}

// Set stores a value in the cache with the given TTL
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	janitorTTL := gocache.NoExpiration
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
		janitorTTL = ttl
	}
	c.cache.Set(key, entry, janitorTTL)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// Close drops all entries.
func (c *MemoryCache) Close() error {
	c.cache.Flush()
	return nil
}
