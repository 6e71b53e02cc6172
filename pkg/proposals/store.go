// Package proposals tracks in-flight and completed actions through a
// small forward-only state machine:
//
//	PENDING → CONFIRMED | REJECTED | EXPIRED
//
// Terminal states never change. Transitions for a given proposal id are
// linearized by a guarded update, so concurrent confirm/reject/expire
// attempts resolve to exactly one winner.
package proposals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

// TransitionUpdate carries the terminal outcome recorded alongside a
// state change.
type TransitionUpdate struct {
	Result    map[string]any
	Retryable bool
	At        time.Time
}

// Store persists proposals. Implementations must linearize transitions
// per proposal id and never rewrite a terminal row.
type Store interface {
	Create(ctx context.Context, p *contracts.Proposal) error
	// Get returns the proposal or a NOT_FOUND fault.
	Get(ctx context.Context, id string) (*contracts.Proposal, error)
	// Transition moves a PENDING proposal to a terminal state. It
	// returns false (and no error) when the proposal was already
	// terminal, so callers can re-read and report the settled state.
	Transition(ctx context.Context, id string, to contracts.ProposalState, upd TransitionUpdate) (bool, error)
	ListPending(ctx context.Context, tenantID, sessionID string) ([]*contracts.Proposal, error)
	// ExpireDue marks PENDING proposals past their deadline EXPIRED and
	// returns how many rows changed. Non-PENDING rows are never touched.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	// ListStalePending returns PENDING proposals created before the
	// cutoff, for the watchdog to report on. Read-only.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*contracts.Proposal, error)
}

// MemoryStore is a thread-safe in-memory Store for tests and
// single-node development.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]*contracts.Proposal
	clock func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]*contracts.Proposal),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Create(ctx context.Context, p *contracts.Proposal) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[p.ID]; exists {
		return faults.StateConflict(fmt.Sprintf("proposal %s already exists", p.ID))
	}
	clone := cloneProposal(p)
	s.rows[p.ID] = clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.rows[id]
	if !ok {
		return nil, faults.NotFound("proposal not found")
	}
	return cloneProposal(p), nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to contracts.ProposalState, upd TransitionUpdate) (bool, error) {
	_ = ctx
	if !to.Terminal() {
		return false, faults.StateConflict(fmt.Sprintf("cannot transition to non-terminal state %s", to))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.rows[id]
	if !ok {
		return false, faults.NotFound("proposal not found")
	}
	if p.State != contracts.ProposalPending {
		return false, nil
	}

	p.State = to
	p.Result = upd.Result
	p.Retryable = upd.Retryable
	if upd.At.IsZero() {
		p.UpdatedAt = s.clock()
	} else {
		p.UpdatedAt = upd.At
	}
	return true, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, tenantID, sessionID string) ([]*contracts.Proposal, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*contracts.Proposal
	for _, p := range s.rows {
		if p.State != contracts.ProposalPending || p.TenantID != tenantID {
			continue
		}
		if sessionID != "" && p.SessionID != sessionID {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.rows {
		// Inclusive deadline, matching the SQL `expires_at <= ?`.
		if p.State == contracts.ProposalPending && !now.Before(p.ExpiresAt) {
			p.State = contracts.ProposalExpired
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]*contracts.Proposal, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*contracts.Proposal
	for _, p := range s.rows {
		if p.State == contracts.ProposalPending && p.CreatedAt.Before(cutoff) {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneProposal(p *contracts.Proposal) *contracts.Proposal {
	clone := *p
	if p.Params != nil {
		clone.Params = make(map[string]any, len(p.Params))
		for k, v := range p.Params {
			clone.Params[k] = v
		}
	}
	if p.Result != nil {
		clone.Result = make(map[string]any, len(p.Result))
		for k, v := range p.Result {
			clone.Result[k] = v
		}
	}
	return &clone
}
