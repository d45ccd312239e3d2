// Package cache holds shared cache backends for resolved prices.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const defaultPrefix = "polysignal:quote:"

// RedisPriceCache implements ports.PriceCache on Redis so several processes
// can share one quote cache. Redis failures degrade to cache misses.
type RedisPriceCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPriceCache wraps an existing client.
func NewRedisPriceCache(rdb *redis.Client, prefix string) *RedisPriceCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisPriceCache{rdb: rdb, prefix: prefix}
}

// Open parses a redis:// URL, pings the server and returns the cache.
// An empty prefix uses the default key prefix.
func Open(ctx context.Context, url, prefix string) (*RedisPriceCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache.Open: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache.Open: ping: %w", err)
	}
	return NewRedisPriceCache(rdb, prefix), nil
}

func (c *RedisPriceCache) key(k string) string { return c.prefix + k }

func (c *RedisPriceCache) Get(ctx context.Context, key string) (domain.Quote, bool) {
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("redis get failed", "key", key, "err", err)
		}
		return domain.Quote{}, false
	}
	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Quote{}, false
	}
	return q, true
}

func (c *RedisPriceCache) Set(ctx context.Context, key string, q domain.Quote, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		slog.Debug("redis set failed", "key", key, "err", err)
	}
}

// Close releases the underlying client.
func (c *RedisPriceCache) Close() error {
	return c.rdb.Close()
}
