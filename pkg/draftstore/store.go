// Package draftstore keeps a draft and a published copy of each mutable
// configuration entity consistent under concurrent edits. Writes for a
// given (tenant, kind) pair are linearized by a scoped advisory lock
// plus a store-level version check; across different pairs no ordering
// is guaranteed or required.
package draftstore

import (
	"context"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

// Mutator transforms the current draft content into the next draft
// content. It must not mutate its input in place.
type Mutator func(content map[string]any) (map[string]any, error)

// PublishPolicy decides what happens to the draft copy after a publish.
type PublishPolicy string

const (
	// PublishRetainDraft keeps the draft as the new working baseline
	// (the default).
	PublishRetainDraft PublishPolicy = "retain"
	// PublishClearDraft clears the draft so reads fall back to the
	// freshly published copy.
	PublishClearDraft PublishPolicy = "clear"
)

// Store is the dual-copy version store.
//
// UpdateDraft is optimistic: the caller passes the base version it read
// (via GetDraft) and receives a STATE_CONFLICT fault naming that stale
// version if another write landed first. The store never retries on the
// caller's behalf.
type Store interface {
	// GetDraft returns the draft content when present, else the
	// published content, with IsDraft reporting accurately which copy
	// the caller is looking at.
	GetDraft(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error)
	// GetPublished returns only the published copy (IsDraft false), or
	// a NOT_FOUND fault when nothing was ever published.
	GetPublished(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error)
	// UpdateDraft applies fn to the current draft under the advisory
	// lock for (tenant, kind) and writes version baseVersion+1. A base
	// of 0 creates the entity on first edit.
	UpdateDraft(ctx context.Context, tenantID, kind string, baseVersion int64, fn Mutator) (*contracts.DraftSnapshot, error)
	// Publish atomically copies the current draft into the published
	// copy and bumps the version. Draft retention afterward follows the
	// store's PublishPolicy.
	Publish(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error)
}
