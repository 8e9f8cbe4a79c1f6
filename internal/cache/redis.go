package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache is a cache shared between instances. Expiry is enforced by
// redis through the native EX option.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisCache connects to the redis server at rawURL
// (redis://[user:pass@]host:port/db).
func NewRedisCache(rawURL string, logger zerolog.Logger) (*RedisCache, error) {
	if rawURL == "" {
		return nil, errors.New("redis cache: redis_url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), logger: logger}, nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	return val, true
}

// GetWithTTL reads the value and its remaining lifetime in one round trip.
func (c *RedisCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	pipe := c.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, 0, false
	}
	val, err := get.Bytes()
	if err != nil {
		return nil, 0, false
	}
	// PTTL reports -1 for keys without expiry.
	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, expiration(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// expiration rounds ttl up to whole seconds; zero keeps the key forever.
func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	secs := (ttl + time.Second - 1) / time.Second
	return secs * time.Second
}
