package draftstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
)

type memoryEntry struct {
	draft            map[string]any
	published        map[string]any
	version          int64
	publishedVersion int64
	updatedAt        time.Time
}

// MemoryStore mirrors the Postgres semantics (per-key serialization,
// version check at commit) for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	policy  PublishPolicy
	clock   func() time.Time
	metrics *observability.Metrics
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(policy PublishPolicy) *MemoryStore {
	if policy == "" {
		policy = PublishRetainDraft
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		policy:  policy,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// WithMetrics records version-conflict rejections on the given
// instruments.
func (s *MemoryStore) WithMetrics(m *observability.Metrics) *MemoryStore {
	s.metrics = m
	return s
}

func entryKey(tenantID, kind string) string { return tenantID + ":" + kind }

func (s *MemoryStore) GetDraft(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey(tenantID, kind)]
	if !ok {
		return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
	}
	if e.draft != nil {
		return snapshot(tenantID, kind, e, e.draft, true), nil
	}
	return snapshot(tenantID, kind, e, e.published, false), nil
}

func (s *MemoryStore) GetPublished(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey(tenantID, kind)]
	if !ok {
		return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
	}
	if e.published == nil {
		return nil, faults.NotFound(fmt.Sprintf("%s has never been published", kind))
	}
	return snapshot(tenantID, kind, e, e.published, false), nil
}

func (s *MemoryStore) UpdateDraft(ctx context.Context, tenantID, kind string, baseVersion int64, fn Mutator) (*contracts.DraftSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(tenantID, kind)
	e, ok := s.entries[key]
	if !ok {
		if baseVersion != 0 {
			if s.metrics != nil {
				s.metrics.RecordDraftConflict(ctx)
			}
			return nil, faults.StateConflict(fmt.Sprintf("draft version conflict: expected version %d, entity does not exist", baseVersion))
		}
		next, err := fn(nil)
		if err != nil {
			return nil, err
		}
		e = &memoryEntry{draft: cloneContent(next), version: 1, updatedAt: s.clock()}
		s.entries[key] = e
		return snapshot(tenantID, kind, e, e.draft, true), nil
	}

	if e.version != baseVersion {
		if s.metrics != nil {
			s.metrics.RecordDraftConflict(ctx)
		}
		return nil, faults.StateConflict(fmt.Sprintf("draft version conflict: expected version %d, found %d", baseVersion, e.version))
	}

	current := e.draft
	if current == nil {
		current = e.published
	}
	next, err := fn(cloneContent(current))
	if err != nil {
		return nil, err
	}

	e.draft = cloneContent(next)
	e.version++
	e.updatedAt = s.clock()
	return snapshot(tenantID, kind, e, e.draft, true), nil
}

func (s *MemoryStore) Publish(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey(tenantID, kind)]
	if !ok {
		return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
	}
	if e.draft == nil {
		return nil, faults.StateConflict(fmt.Sprintf("%s has no draft to publish", kind))
	}

	e.published = cloneContent(e.draft)
	e.version++
	e.publishedVersion = e.version
	e.updatedAt = s.clock()
	if s.policy == PublishClearDraft {
		e.draft = nil
	}
	return snapshot(tenantID, kind, e, e.published, false), nil
}

func snapshot(tenantID, kind string, e *memoryEntry, content map[string]any, isDraft bool) *contracts.DraftSnapshot {
	return &contracts.DraftSnapshot{
		TenantID:         tenantID,
		Kind:             kind,
		Content:          cloneContent(content),
		IsDraft:          isDraft,
		Version:          e.version,
		PublishedVersion: e.publishedVersion,
		UpdatedAt:        e.updatedAt,
	}
}

func cloneContent(content map[string]any) map[string]any {
	if content == nil {
		return nil
	}
	clone := make(map[string]any, len(content))
	for k, v := range content {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneContent(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
