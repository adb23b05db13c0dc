/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for resolved track metadata.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

// DefaultResolveTTL is how long a resolved query stays cached.
const DefaultResolveTTL = 6 * time.Hour

// Key prefixes for Redis cache
const (
	KeyResolve = "jukebox:cache:resolve:" // + normalized query
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ResolveTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ResolveTTL:     DefaultResolveTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
// A nil *Cache is valid and behaves as a permanently empty cache.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.ResolveTTL <= 0 {
		cfg.ResolveTTL = DefaultResolveTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// CachedTrack is the identity-free part of a resolved track.
type CachedTrack struct {
	Title     string `json:"title"`
	Locator   string `json:"locator"`
	Duration  *int   `json:"duration,omitempty"`
	Uploader  string `json:"uploader"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Platform  string `json:"platform"`
}

// NormalizeQuery lowercases a query and collapses its whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// GetTrack returns a fresh Track for a previously resolved query.
func (c *Cache) GetTrack(ctx context.Context, query string) (*models.Track, bool) {
	var ct CachedTrack
	found, err := c.get(ctx, KeyResolve+NormalizeQuery(query), &ct)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("query", query).Msg("resolve cache hit")
	return models.NewTrack(ct.Title, ct.Locator, ct.Duration, ct.Uploader, ct.Thumbnail, models.ParsePlatform(ct.Platform)), true
}

// SetTrack caches the resolution result for query.
func (c *Cache) SetTrack(ctx context.Context, query string, t *models.Track) error {
	if t == nil || !c.IsAvailable() {
		return nil
	}
	ct := CachedTrack{
		Title:     t.Title,
		Locator:   t.Locator,
		Duration:  t.Duration,
		Uploader:  t.Uploader,
		Thumbnail: t.Thumbnail,
		Platform:  t.Platform.String(),
	}
	return c.set(ctx, KeyResolve+NormalizeQuery(query), ct, c.config.ResolveTTL)
}
