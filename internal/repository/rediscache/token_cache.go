// Package rediscache puts a Redis read-through cache in front of a
// repository.TokenRepository.
//
// The relational store stays the source of truth. Redis failures are logged
// and the call falls through to the wrapped repository, so a Redis outage
// costs latency, never correctness.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/backchat/internal/repository"
)

const (
	// DefaultPrefix namespaces cache keys.
	DefaultPrefix = "backchat:token:"
	// DefaultTTL applies when Config.TTL is zero.
	DefaultTTL = time.Hour
)

var _ repository.TokenRepository = (*TokenCache)(nil)

// Config configures a TokenCache.
type Config struct {
	Prefix string
	TTL    time.Duration
}

// TokenCache caches access token -> user id lookups.
//
// Tokens are never updated or deleted by this service, so an entry can only
// go stale if the row is removed out of band; the TTL bounds that window.
type TokenCache struct {
	next   repository.TokenRepository
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokenCache wraps next with a cache held in client.
func NewTokenCache(next repository.TokenRepository, client *redis.Client, cfg Config, logger *slog.Logger) *TokenCache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &TokenCache{
		next:   next,
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parsing url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return client, nil
}

func (c *TokenCache) key(accessToken string) string {
	return c.prefix + accessToken
}

// FindUserByToken answers from Redis when it can, otherwise from the wrapped
// repository, filling the cache on a hit. Misses are not cached: a token is
// inserted moments after its first miss.
func (c *TokenCache) FindUserByToken(ctx context.Context, accessToken string) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(accessToken)).Result()
	switch {
	case err == nil:
		if userID, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return userID, true, nil
		}
		c.logger.Warn("discarding unparseable token cache entry", slog.String("value", val))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("token cache read failed", slog.String("error", err.Error()))
	}

	userID, ok, err := c.next.FindUserByToken(ctx, accessToken)
	if err != nil || !ok {
		return userID, ok, err
	}
	c.store(ctx, accessToken, userID)
	return userID, true, nil
}

// InsertToken writes through: the wrapped repository first, then the cache.
func (c *TokenCache) InsertToken(ctx context.Context, accessToken string, userID int64) error {
	if err := c.next.InsertToken(ctx, accessToken, userID); err != nil {
		return err
	}
	c.store(ctx, accessToken, userID)
	return nil
}

func (c *TokenCache) store(ctx context.Context, accessToken string, userID int64) {
	err := c.client.Set(ctx, c.key(accessToken), strconv.FormatInt(userID, 10), c.ttl).Err()
	if err != nil {
		c.logger.Warn("token cache write failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
