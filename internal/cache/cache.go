// Package cache is a read-through Redis cache for query results.
//
// A nil *Cache is valid and caches nothing, so handlers call Lookup and
// Store without branching on whether caching is configured. Backend
// failures degrade to cache misses instead of failing the query.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	xdr "github.com/davecgh/go-xdr/xdr2"
	"github.com/go-redis/redis/v8"

	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/util"
)

// New connects to the Redis instance from cfg. An empty address
// disables caching and New returns a nil Cache.
func New(ctx context.Context, cfg *Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache ping %s: %v", cfg.Addr, err)
	}
	return &Cache{client: client, ttl: cfg.TTL}, nil
}

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Key builds the cache key for one query. The namespace version is part
// of the key, so results cached before a mutation become unreachable
// and expire instead of being invalidated.
func Key(namespace string, version uint64, op string, vecs ...[]float64) string {
	sum := util.HashVectors(vecs...)
	return fmt.Sprintf("spin:q:%s:%d:%s:%x", namespace, version, op, sum[:8])
}

// Lookup decodes the value cached under key into out and reports
// whether it was present.
func (c *Cache) Lookup(ctx context.Context, key string, out interface{}) bool {
	if c == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.FromContext(ctx).Errorf("cache lookup error: %v", err)
		}
		return false
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), out); err != nil {
		logging.FromContext(ctx).Errorf("cache decode error: %v", err)
		return false
	}
	return true
}

// Store writes value under key for the configured TTL.
func (c *Cache) Store(ctx context.Context, key string, value interface{}) {
	if c == nil {
		return
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, value); err != nil {
		logging.FromContext(ctx).Errorf("cache encode error: %v", err)
		return
	}
	if err := c.client.Set(ctx, key, buf.Bytes(), c.ttl).Err(); err != nil {
		logging.FromContext(ctx).Errorf("cache store error: %v", err)
	}
}

// Close releases the Redis connection. Safe on a nil Cache.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
