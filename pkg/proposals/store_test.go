package proposals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

func newProposal(tenantID, sessionID, tool string, created time.Time) *contracts.Proposal {
	return &contracts.Proposal{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		SessionID:   sessionID,
		ToolName:    tool,
		Params:      map[string]any{"name": "Elopement"},
		PayloadHash: "sha256:0000",
		Tier:        contracts.TierHardConfirm,
		State:       contracts.ProposalPending,
		Preview:     "delete the Elopement package",
		CreatedAt:   created,
		ExpiresAt:   created.Add(15 * time.Minute),
		UpdatedAt:   created,
	}
}

// storeUnderTest lets the same suite cover every Store implementation.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get round-trip", func(t *testing.T) {
		store := open(t)
		p := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, p))

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, p.ID, got.ID)
		require.Equal(t, contracts.ProposalPending, got.State)
		require.Equal(t, "Elopement", got.Params["name"])
	})

	t.Run("get unknown id", func(t *testing.T) {
		store := open(t)
		_, err := store.Get(ctx, uuid.New().String())
		require.True(t, faults.Is(err, faults.KindNotFound))
	})

	t.Run("pending transitions to each terminal state exactly once", func(t *testing.T) {
		store := open(t)
		p := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, p))

		applied, err := store.Transition(ctx, p.ID, contracts.ProposalConfirmed, TransitionUpdate{
			Result: map[string]any{"total_packages": 3},
			At:     now.Add(time.Minute),
		})
		require.NoError(t, err)
		require.True(t, applied)

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalConfirmed, got.State)
		require.EqualValues(t, 3, intish(got.Result["total_packages"]))

		// Terminal rows never change again.
		applied, err = store.Transition(ctx, p.ID, contracts.ProposalRejected, TransitionUpdate{At: now.Add(2 * time.Minute)})
		require.NoError(t, err)
		require.False(t, applied)

		got, err = store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalConfirmed, got.State)
	})

	t.Run("transition to PENDING is a state conflict", func(t *testing.T) {
		store := open(t)
		p := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, p))

		_, err := store.Transition(ctx, p.ID, contracts.ProposalPending, TransitionUpdate{})
		require.True(t, faults.Is(err, faults.KindStateConflict))
	})

	t.Run("transition on unknown id", func(t *testing.T) {
		store := open(t)
		_, err := store.Transition(ctx, uuid.New().String(), contracts.ProposalRejected, TransitionUpdate{})
		require.True(t, faults.Is(err, faults.KindNotFound))
	})

	t.Run("rejected records retryability", func(t *testing.T) {
		store := open(t)
		p := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, p))

		applied, err := store.Transition(ctx, p.ID, contracts.ProposalRejected, TransitionUpdate{
			Retryable: true,
			At:        now.Add(time.Minute),
		})
		require.NoError(t, err)
		require.True(t, applied)

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalRejected, got.State)
		require.True(t, got.Retryable)
	})

	t.Run("list pending scopes by tenant and session", func(t *testing.T) {
		store := open(t)
		a := newProposal("tenant-1", "sess-1", "delete_package", now)
		b := newProposal("tenant-1", "sess-2", "publish_config", now.Add(time.Second))
		c := newProposal("tenant-2", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, a))
		require.NoError(t, store.Create(ctx, b))
		require.NoError(t, store.Create(ctx, c))

		all, err := store.ListPending(ctx, "tenant-1", "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, a.ID, all[0].ID) // oldest first

		scoped, err := store.ListPending(ctx, "tenant-1", "sess-2")
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		require.Equal(t, b.ID, scoped[0].ID)
	})

	t.Run("expire due touches only overdue pending rows", func(t *testing.T) {
		store := open(t)
		overdue := newProposal("tenant-1", "sess-1", "delete_package", now)
		fresh := newProposal("tenant-1", "sess-1", "publish_config", now)
		fresh.ExpiresAt = now.Add(time.Hour)
		settled := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, overdue))
		require.NoError(t, store.Create(ctx, fresh))
		require.NoError(t, store.Create(ctx, settled))

		_, err := store.Transition(ctx, settled.ID, contracts.ProposalConfirmed, TransitionUpdate{
			Result: map[string]any{"done": true}, At: now,
		})
		require.NoError(t, err)

		n, err := store.ExpireDue(ctx, now.Add(20*time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := store.Get(ctx, overdue.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalExpired, got.State)

		got, err = store.Get(ctx, fresh.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalPending, got.State)

		got, err = store.Get(ctx, settled.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalConfirmed, got.State)
	})

	t.Run("expiry deadline is inclusive", func(t *testing.T) {
		store := open(t)
		p := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, p))

		// A proposal exactly at its deadline expires; one nanosecond
		// earlier it does not.
		n, err := store.ExpireDue(ctx, p.ExpiresAt.Add(-time.Nanosecond))
		require.NoError(t, err)
		require.EqualValues(t, 0, n)

		n, err = store.ExpireDue(ctx, p.ExpiresAt)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalExpired, got.State)
	})

	t.Run("stale pending list is read-only", func(t *testing.T) {
		store := open(t)
		old := newProposal("tenant-1", "sess-1", "delete_package", now.Add(-2*time.Hour))
		recent := newProposal("tenant-1", "sess-1", "delete_package", now)
		require.NoError(t, store.Create(ctx, old))
		require.NoError(t, store.Create(ctx, recent))

		stuck, err := store.ListStalePending(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		require.Equal(t, old.ID, stuck[0].ID)

		got, err := store.Get(ctx, old.ID)
		require.NoError(t, err)
		require.Equal(t, contracts.ProposalPending, got.State)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newProposal("tenant-1", "sess-1", "delete_package", time.Now())
	require.NoError(t, store.Create(ctx, p))

	// Mutating the snapshot never leaks into the store.
	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	got.Params["name"] = "tampered"
	got.State = contracts.ProposalConfirmed

	again, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Elopement", again.Params["name"])
	require.Equal(t, contracts.ProposalPending, again.State)
}

// intish tolerates the int/float64 difference between the in-memory
// store and the JSON round-trip in SQLite.
func intish(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return -1
}
