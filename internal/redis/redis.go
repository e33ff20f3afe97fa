// Package redis mirrors rendered artifacts into Redis so the artifact cache
// survives restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// KeyArtifact prefixes cache entries; the fingerprint is appended.
const KeyArtifact = "inkframe:cache:artifact:"

type Options struct {
	Address  string
	Username string
	Password string
	DB       int

	// DisableOnError stops using Redis after the first failure.
	DisableOnError bool
}

// Client implements cache.Backend. A Client that could not reach Redis at
// start-up is disabled and every call is a no-op.
type Client struct {
	rdb    *redis.Client
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	disabled bool
}

func New(opts Options, logger zerolog.Logger) *Client {
	c := &Client{
		opts:   opts,
		logger: logger.With().Str("component", "redis").Logger(),
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Str("addr", opts.Address).Msg("redis unavailable, artifact cache is memory only")
		c.disabled = true
		return c
	}

	c.logger.Info().Str("addr", opts.Address).Msg("redis artifact cache connected")
	return c
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Available reports whether calls reach Redis.
func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled
}

func (c *Client) handleError(err error, op string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", op).Msg("redis operation failed")
	if c.opts.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling redis artifact cache after error")
	}
}

// SaveCacheEntry stores entry with its TTL as the key expiry. A zero TTL
// never expires.
func (c *Client) SaveCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	if !c.Available() {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	ttl := entry.TTL
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, KeyArtifact+entry.Fingerprint, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Client) EvictCacheEntry(ctx context.Context, fingerprint string) error {
	if !c.Available() {
		return nil
	}
	if err := c.rdb.Del(ctx, KeyArtifact+fingerprint).Err(); err != nil {
		c.handleError(err, "del")
		return err
	}
	return nil
}

func (c *Client) LoadCacheEntry(ctx context.Context, fingerprint string) (model.CacheEntry, bool, error) {
	if !c.Available() {
		return model.CacheEntry{}, false, nil
	}
	data, err := c.rdb.Get(ctx, KeyArtifact+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return model.CacheEntry{}, false, err
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Debug().Err(err).Str("fingerprint", fingerprint).Msg("discarding undecodable cache entry")
		return model.CacheEntry{}, false, nil
	}
	return entry, true, nil
}
