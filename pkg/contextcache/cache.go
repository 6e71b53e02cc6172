// Package contextcache memoizes per-tenant session context with a
// short TTL and explicit invalidation. The dispatcher invalidates after
// every confirmed mutation — stale cached context is a correctness bug
// for a stateless language-model caller, not just a performance one.
//
// Caches are constructed via explicit factories and injected; there is
// no package-level instance, so tests get isolated caches.
package contextcache

import (
	"context"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

// Loader builds a tenant's context on a cache miss.
type Loader func(ctx context.Context, tenantID string) (*contracts.TenantContext, error)

// Cache is the per-tenant memoized context. Entries are partitioned
// strictly by tenant id; invalidating one tenant never affects another.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*contracts.TenantContext, error)
	Invalidate(ctx context.Context, tenantID string) error
}
