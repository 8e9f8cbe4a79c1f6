// Package cache provides key-value caches with optional per-entry TTL.
// Misses, expired entries and backend failures all read as a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
)

// Cache defines the interface for caching. A ttl <= 0 means the entry
// never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Expirer is implemented by caches that can report how long an entry has
// left to live. A remaining ttl <= 0 means the entry never expires.
type Expirer interface {
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool)
}

const keyPrefix = "rankme:v1"

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// GetJSON reads and decodes a JSON document. Undecodable values are misses.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	data, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	return v, true
}

// SetJSON encodes v as JSON and stores it.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// New builds the backend selected in cfg, instrumented with m.
func New(cfg model.CacheConfig, logger zerolog.Logger, m *metrics.Manager) (Cache, error) {
	logger = logger.With().Str("component", "cache").Str("backend", cfg.Backend).Logger()

	var (
		c   Cache
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		c = NewMemoryCache(cfg.CleanupInterval)
	case "disk":
		c = NewDiskCache(cfg.Dir, logger)
	case "redis":
		c, err = NewRedisCache(cfg.RedisURL, logger)
	case "layered":
		var back Cache
		if cfg.RedisURL != "" {
			back, err = NewRedisCache(cfg.RedisURL, logger)
		} else {
			back = NewDiskCache(cfg.Dir, logger)
		}
		if err == nil {
			c = NewLayeredCache(NewMemoryCache(cfg.CleanupInterval), back, cfg.CleanupInterval)
		}
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	name := cfg.Backend
	if name == "" {
		name = "memory"
	}
	return Instrument(c, name, m), nil
}

// instrumented counts hits and misses of the wrapped cache.
type instrumented struct {
	Cache
	name    string
	metrics *metrics.Manager
}

// Instrument wraps c so every Get is recorded as a hit or miss.
func Instrument(c Cache, name string, m *metrics.Manager) Cache {
	if m == nil {
		return c
	}
	return &instrumented{Cache: c, name: name, metrics: m}
}

func (c *instrumented) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.Cache.Get(ctx, key)
	c.metrics.CacheLookup(c.name, ok)
	return v, ok
}
