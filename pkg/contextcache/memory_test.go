package contextcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

func countingLoader(counts map[string]int) Loader {
	return func(ctx context.Context, tenantID string) (*contracts.TenantContext, error) {
		counts[tenantID]++
		return &contracts.TenantContext{
			TenantID: tenantID,
			Data:     map[string]any{"builds": counts[tenantID]},
		}, nil
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("hit within the TTL skips the loader", func(t *testing.T) {
		counts := map[string]int{}
		now := start
		cache := NewMemoryCache(countingLoader(counts), 30*time.Second).
			WithClock(func() time.Time { return now })

		first, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		now = now.Add(10 * time.Second)
		second, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)

		require.Equal(t, 1, counts["tenant-1"])
		require.Equal(t, first, second)
	})

	t.Run("expired entry rebuilds", func(t *testing.T) {
		counts := map[string]int{}
		now := start
		cache := NewMemoryCache(countingLoader(counts), 30*time.Second).
			WithClock(func() time.Time { return now })

		_, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		now = now.Add(31 * time.Second)
		rebuilt, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)

		require.Equal(t, 2, counts["tenant-1"])
		require.Equal(t, 2, rebuilt.Data["builds"])
	})

	t.Run("invalidation forces a rebuild before the TTL", func(t *testing.T) {
		counts := map[string]int{}
		cache := NewMemoryCache(countingLoader(counts), time.Hour).
			WithClock(func() time.Time { return start })

		_, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		require.NoError(t, cache.Invalidate(ctx, "tenant-1"))

		rebuilt, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		require.Equal(t, 2, counts["tenant-1"])
		require.Equal(t, 2, rebuilt.Data["builds"])
	})

	t.Run("invalidating one tenant never touches another", func(t *testing.T) {
		counts := map[string]int{}
		cache := NewMemoryCache(countingLoader(counts), time.Hour).
			WithClock(func() time.Time { return start })

		_, err := cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		_, err = cache.Get(ctx, "tenant-2")
		require.NoError(t, err)

		require.NoError(t, cache.Invalidate(ctx, "tenant-1"))

		_, err = cache.Get(ctx, "tenant-1")
		require.NoError(t, err)
		_, err = cache.Get(ctx, "tenant-2")
		require.NoError(t, err)

		require.Equal(t, 2, counts["tenant-1"])
		require.Equal(t, 1, counts["tenant-2"])
	})

	t.Run("loader failure surfaces and caches nothing", func(t *testing.T) {
		calls := 0
		cache := NewMemoryCache(func(ctx context.Context, tenantID string) (*contracts.TenantContext, error) {
			calls++
			return nil, errors.New("storefront unavailable")
		}, time.Hour).WithClock(func() time.Time { return start })

		_, err := cache.Get(ctx, "tenant-1")
		require.Error(t, err)
		_, err = cache.Get(ctx, "tenant-1")
		require.Error(t, err)
		require.Equal(t, 2, calls)
	})
}
