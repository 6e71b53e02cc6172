package contextcache

import (
	"context"
	"sync"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
)

type memoryEntry struct {
	ctx       *contracts.TenantContext
	expiresAt time.Time
}

// MemoryCache is a thread-safe in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	loader  Loader
	clock   func() time.Time
	metrics *observability.Metrics
}

// NewMemoryCache creates a cache populating lazily via loader.
func NewMemoryCache(loader Loader, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		loader:  loader,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

// WithMetrics records hit/miss counts on the given instruments.
func (c *MemoryCache) WithMetrics(m *observability.Metrics) *MemoryCache {
	c.metrics = m
	return c
}

func (c *MemoryCache) Get(ctx context.Context, tenantID string) (*contracts.TenantContext, error) {
	c.mu.Lock()
	entry, ok := c.entries[tenantID]
	if ok && c.clock().Before(entry.expiresAt) {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordCacheHit(ctx)
		}
		return entry.ctx, nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx)
	}
	built, err := c.loader(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Atomic replace of the whole entry; entries are never merged in
	// place.
	c.mu.Lock()
	c.entries[tenantID] = memoryEntry{ctx: built, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
	return built, nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID string) error {
	_ = ctx
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
	return nil
}
