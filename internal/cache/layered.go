package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache puts a fast local cache in front of a persistent or shared one.
type LayeredCache struct {
	front      Cache
	back       Cache
	promoteTTL time.Duration
}

// NewLayeredCache creates a new layered cache. Entries found only in back are
// copied to front for promoteTTL, or for their remaining lifetime in back
// when that is shorter. Backs that cannot report a lifetime are not promoted.
func NewLayeredCache(front, back Cache, promoteTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		front:      front,
		back:       back,
		promoteTTL: promoteTTL,
	}
}

// Get checks front first, then back
func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.front.Get(ctx, key); found {
		return val, true
	}

	exp, ok := c.back.(Expirer)
	if !ok {
		return c.back.Get(ctx, key)
	}

	val, remaining, found := exp.GetWithTTL(ctx, key)
	if !found {
		return nil, false
	}
	ttl := c.promoteTTL
	if remaining > 0 && (ttl <= 0 || remaining < ttl) {
		ttl = remaining
	}
	_ = c.front.Set(ctx, key, val, ttl)
	return val, true
}

// Set stores a value in both layers
func (c *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	frontTTL := ttl
	if ttl <= 0 || (c.promoteTTL > 0 && ttl > c.promoteTTL) {
		frontTTL = c.promoteTTL
	}
	if err := c.front.Set(ctx, key, value, frontTTL); err != nil {
		return err
	}
	return c.back.Set(ctx, key, value, ttl)
}

// Delete removes a value from both layers
func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.front.Delete(ctx, key), c.back.Delete(ctx, key))
}

// Close closes both layers
func (c *LayeredCache) Close() error {
	return errors.Join(c.front.Close(), c.back.Close())
}
