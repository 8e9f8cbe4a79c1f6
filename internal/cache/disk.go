package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// DiskCache implements persistent disk-based caching, one JSON file per key.
type DiskCache struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// NewDiskCache creates a new disk cache
func NewDiskCache(dir string, logger zerolog.Logger) *DiskCache {
	return &DiskCache{
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}
}

type diskEntry struct {
	Key       string     `json:"key"`
	Data      []byte     `json:"data"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Get retrieves a value from the disk cache
func (c *DiskCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, _, ok := c.GetWithTTL(ctx, key)
	return val, ok
}

// GetWithTTL retrieves a value and the time left before it expires.
func (c *DiskCache) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, bool) {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, 0, false
	}

	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("corrupt cache entry")
		_ = os.Remove(path)
		return nil, 0, false
	}

	var remaining time.Duration
	if entry.ExpiresAt != nil {
		remaining = entry.ExpiresAt.Sub(c.now())
		if remaining <= 0 {
			_ = os.Remove(path)
			return nil, 0, false
		}
	}

	return entry.Data, remaining, true
}

// Set stores a value in the disk cache
func (c *DiskCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := diskEntry{Key: key, Data: value}
	if ttl > 0 {
		at := c.now().Add(ttl)
		entry.ExpiresAt = &at
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Write then rename so readers never see a partial file.
	path := c.path(key)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}

// Delete removes a value from the disk cache
func (c *DiskCache) Delete(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op; entries persist across restarts.
func (c *DiskCache) Close() error {
	return nil
}

// path maps a key to a file name safe on every filesystem
func (c *DiskCache) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(hash[:])+".json")
}
