package contextcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
)

// RedisCache shares tenant context across processes. Keys expire on a
// short TTL; Invalidate deletes eagerly.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	loader  Loader
	metrics *observability.Metrics
}

// NewRedisCache creates a cache backed by the given Redis address.
func NewRedisCache(addr, password string, db int, loader Loader, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl, loader: loader}
}

// NewRedisCacheWithClient wraps an existing client (tests inject a mock
// or a miniredis-backed client here).
func NewRedisCacheWithClient(client *redis.Client, loader Loader, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, loader: loader}
}

// WithMetrics records hit/miss counts on the given instruments.
func (c *RedisCache) WithMetrics(m *observability.Metrics) *RedisCache {
	c.metrics = m
	return c
}

func cacheKey(tenantID string) string { return fmt.Sprintf("ctxcache:%s", tenantID) }

func (c *RedisCache) Get(ctx context.Context, tenantID string) (*contracts.TenantContext, error) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID)).Result()
	if err == nil {
		var cached contracts.TenantContext
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			if c.metrics != nil {
				c.metrics.RecordCacheHit(ctx)
			}
			return &cached, nil
		}
		// Undecodable entry: fall through to rebuild and overwrite.
	} else if err != redis.Nil {
		return nil, fmt.Errorf("context cache read failed: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx)
	}
	built, err := c.loader(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(built)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tenant context: %w", err)
	}
	// SET with EX replaces the whole value atomically.
	if err := c.client.Set(ctx, cacheKey(tenantID), encoded, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("context cache write failed: %w", err)
	}
	return built, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("context cache invalidation failed: %w", err)
	}
	return nil
}
