// Package dispatch orchestrates the trust-tier decision for every
// requested action: validate input, decide whether the mutation
// executes immediately (T1), executes with notice and an undo window
// (T2), or waits for explicit confirmation (T3), then records the
// proposal transition and invalidates the tenant's cached context.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harborlane-Labs/concierge/core/pkg/canonicalize"
	"github.com/Harborlane-Labs/concierge/core/pkg/contextcache"
	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/executor"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
	"github.com/Harborlane-Labs/concierge/core/pkg/policy"
	"github.com/Harborlane-Labs/concierge/core/pkg/proposals"
	"github.com/Harborlane-Labs/concierge/core/pkg/registry"
	"github.com/Harborlane-Labs/concierge/core/pkg/sessions"
)

// Deps are the collaborators a Dispatcher orchestrates. All are
// injected; the dispatcher owns no hidden state beyond the in-flight
// confirmation guard.
type Deps struct {
	Registry *registry.Registry
	Invoker  *executor.Invoker
	Store    proposals.Store
	Cache    contextcache.Cache
	Sessions *sessions.Manager
	Policy   *policy.Engine // optional; nil disables tier escalation
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	// ProposalTTL bounds how long a T3 proposal waits for confirmation.
	ProposalTTL time.Duration
}

// Dispatcher is the trust-tier dispatcher.
type Dispatcher struct {
	deps  Deps
	clock func() time.Time

	mu       sync.Mutex
	inflight map[string]bool // proposal ids currently confirming
}

// New creates a dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.ProposalTTL <= 0 {
		deps.ProposalTTL = 15 * time.Minute
	}
	return &Dispatcher{
		deps:     deps,
		clock:    time.Now,
		inflight: make(map[string]bool),
	}
}

// WithClock overrides the clock for deterministic testing.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch routes one requested action.
//
// Pre-execution failures (unknown tool, invalid params, tenant
// mismatch) return a nil result and a classified fault. Once an
// executor has run — or a proposal has been recorded — the outcome is
// reported through the result, with any failure already sanitized for
// the conversational surface.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, sessionID, toolName string, rawParams map[string]any) (*contracts.DispatchResult, error) {
	started := d.clock()

	if err := d.deps.Sessions.Gate(tenantID, sessionID); err != nil {
		d.deps.Metrics.RecordBreakerTrip(ctx)
		return &contracts.DispatchResult{
			Outcome: contracts.OutcomeUnavailable,
			Fault:   faults.Sanitize(err),
		}, nil
	}

	resolved, err := d.deps.Registry.Resolve(toolName)
	if err != nil {
		if faults.Is(err, faults.KindExecutorMissing) {
			// A registry gap at runtime means startup validation was
			// bypassed. Defect, not a normal caller error.
			d.deps.Logger.Error("executor missing at runtime", "tool", toolName)
			return nil, faults.Terminal("this action is not available right now", err)
		}
		return nil, err
	}
	if err := resolved.ValidateParams(rawParams); err != nil {
		return nil, err
	}

	tier := resolved.Descriptor.Tier
	if d.deps.Policy != nil {
		tier = d.deps.Policy.EffectiveTier(tier, tenantID, toolName, rawParams)
	}

	var result *contracts.DispatchResult
	switch tier {
	case contracts.TierAuto:
		result, err = d.dispatchAuto(ctx, tenantID, sessionID, resolved, rawParams)
	case contracts.TierSoftConfirm:
		result, err = d.dispatchSoftConfirm(ctx, tenantID, sessionID, resolved, rawParams, tier)
	case contracts.TierHardConfirm:
		result, err = d.dispatchHardConfirm(ctx, tenantID, sessionID, resolved, rawParams, tier)
	default:
		err = faults.Terminal(fmt.Sprintf("tool %q has unusable trust tier", toolName), nil)
	}
	if err != nil {
		return nil, err
	}

	d.deps.Metrics.RecordDispatch(ctx, string(tier), string(result.Outcome), d.clock().Sub(started))
	return result, nil
}

// dispatchAuto runs a T1 tool synchronously inside the dispatch call.
func (d *Dispatcher) dispatchAuto(ctx context.Context, tenantID, sessionID string, resolved *registry.Resolved, params map[string]any) (*contracts.DispatchResult, error) {
	res, err := d.invoke(ctx, tenantID, sessionID, resolved, params)
	if err != nil {
		return &contracts.DispatchResult{
			Outcome: contracts.OutcomeFailed,
			Fault:   faults.Sanitize(err),
		}, nil
	}
	return &contracts.DispatchResult{
		Outcome: contracts.OutcomeExecuted,
		Data:    res.Data,
	}, nil
}

// dispatchSoftConfirm records a proposal, executes immediately, and
// settles the proposal on the outcome. The returned proposal id is the
// caller's undo affordance window.
func (d *Dispatcher) dispatchSoftConfirm(ctx context.Context, tenantID, sessionID string, resolved *registry.Resolved, params map[string]any, tier contracts.TrustTier) (*contracts.DispatchResult, error) {
	p, err := d.createProposal(ctx, tenantID, sessionID, resolved, params, tier)
	if err != nil {
		return nil, err
	}

	res, execErr := d.invoke(ctx, tenantID, sessionID, resolved, params)
	if execErr != nil {
		d.settle(ctx, p, contracts.ProposalRejected, proposals.TransitionUpdate{
			Retryable: faults.ChainRetryable(execErr),
			At:        d.clock(),
		})
		return &contracts.DispatchResult{
			Outcome:  contracts.OutcomeFailed,
			Proposal: p,
			Fault:    faults.Sanitize(execErr),
		}, nil
	}

	d.settle(ctx, p, contracts.ProposalConfirmed, proposals.TransitionUpdate{
		Result: res.Data,
		At:     d.clock(),
	})
	return &contracts.DispatchResult{
		Outcome:  contracts.OutcomeExecuted,
		Data:     res.Data,
		Proposal: p,
	}, nil
}

// dispatchHardConfirm records a proposal and returns only a preview;
// the executor does not run until Confirm.
func (d *Dispatcher) dispatchHardConfirm(ctx context.Context, tenantID, sessionID string, resolved *registry.Resolved, params map[string]any, tier contracts.TrustTier) (*contracts.DispatchResult, error) {
	p, err := d.createProposal(ctx, tenantID, sessionID, resolved, params, tier)
	if err != nil {
		return nil, err
	}
	return &contracts.DispatchResult{
		Outcome:  contracts.OutcomePendingConfirmation,
		Proposal: p,
	}, nil
}

// Confirm executes a pending proposal. Terminal proposals settle
// idempotently: the settled state is returned unchanged and the
// executor runs at most once per proposal.
func (d *Dispatcher) Confirm(ctx context.Context, tenantID, proposalID string) (*contracts.DispatchResult, error) {
	p, err := d.authorize(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		return terminalResult(p), nil
	}

	if !d.claim(proposalID) {
		return nil, faults.Transient("this confirmation is already being processed", nil)
	}
	defer d.release(proposalID)

	// Double-checked claim: the pre-claim snapshot can go stale when a
	// racing confirm settles and releases between our read and our
	// claim. Re-read under the claim so a settled proposal never
	// reaches the executor a second time.
	p, err = d.deps.Store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		return terminalResult(p), nil
	}

	resolved, err := d.deps.Registry.Resolve(p.ToolName)
	if err != nil {
		// The tool vanished between proposal and confirmation; the
		// proposal can never execute.
		d.settle(ctx, p, contracts.ProposalRejected, proposals.TransitionUpdate{At: d.clock()})
		return terminalFault(p, faults.Terminal("this action is no longer available", err)), nil
	}
	// Schema drift re-check: a proposal that no longer validates is
	// rejected, never left pending.
	if err := resolved.ValidateParams(p.Params); err != nil {
		d.settle(ctx, p, contracts.ProposalRejected, proposals.TransitionUpdate{At: d.clock()})
		return terminalFault(p, faults.Terminal("this request is no longer valid and was rejected", err)), nil
	}

	res, execErr := d.invoke(ctx, tenantID, p.SessionID, resolved, p.Params)
	if execErr != nil {
		applied := d.settle(ctx, p, contracts.ProposalRejected, proposals.TransitionUpdate{
			Retryable: faults.ChainRetryable(execErr),
			At:        d.clock(),
		})
		if !applied {
			return d.reloadTerminal(ctx, proposalID)
		}
		return &contracts.DispatchResult{
			Outcome:  contracts.OutcomeFailed,
			Proposal: p,
			Fault:    faults.Sanitize(execErr),
		}, nil
	}

	applied := d.settle(ctx, p, contracts.ProposalConfirmed, proposals.TransitionUpdate{
		Result: res.Data,
		At:     d.clock(),
	})
	if !applied {
		// Lost the transition race (e.g. the expiry sweep won); report
		// the settled state rather than pretending the write landed.
		return d.reloadTerminal(ctx, proposalID)
	}
	return &contracts.DispatchResult{
		Outcome:  contracts.OutcomeExecuted,
		Data:     res.Data,
		Proposal: p,
	}, nil
}

// Reject settles a pending proposal without running the executor.
// Idempotent on already-terminal proposals.
func (d *Dispatcher) Reject(ctx context.Context, tenantID, proposalID string) (*contracts.DispatchResult, error) {
	p, err := d.authorize(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		return terminalResult(p), nil
	}

	if applied := d.settle(ctx, p, contracts.ProposalRejected, proposals.TransitionUpdate{At: d.clock()}); !applied {
		return d.reloadTerminal(ctx, proposalID)
	}
	return &contracts.DispatchResult{
		Outcome:  contracts.OutcomeRejected,
		Proposal: p,
	}, nil
}

// ListPending returns the tenant's pending proposals, optionally
// scoped to one session.
func (d *Dispatcher) ListPending(ctx context.Context, tenantID, sessionID string) ([]*contracts.Proposal, error) {
	return d.deps.Store.ListPending(ctx, tenantID, sessionID)
}

// invoke runs the executor through the harness, feeds the session
// circuit, and invalidates the tenant's cached context after any
// successful mutation. The invalidation is a hard rule: stale cached
// context is a correctness bug, not a missed optimization.
func (d *Dispatcher) invoke(ctx context.Context, tenantID, sessionID string, resolved *registry.Resolved, params map[string]any) (*contracts.ExecutionResult, error) {
	res, err := d.deps.Invoker.Invoke(ctx, resolved.Descriptor.Name, resolved.Descriptor, resolved.Executor, tenantID, params)
	if err != nil {
		d.deps.Sessions.ReportFailure(tenantID, sessionID)
		return nil, err
	}
	d.deps.Sessions.ReportSuccess(tenantID, sessionID)

	if resolved.Descriptor.Mutating || res.Mutated {
		if invErr := d.deps.Cache.Invalidate(ctx, tenantID); invErr != nil {
			d.deps.Logger.Error("context cache invalidation failed",
				"tool", resolved.Descriptor.Name, "error", invErr)
		}
	}
	return res, nil
}

func (d *Dispatcher) createProposal(ctx context.Context, tenantID, sessionID string, resolved *registry.Resolved, params map[string]any, tier contracts.TrustTier) (*contracts.Proposal, error) {
	hash, err := canonicalize.Hash(params)
	if err != nil {
		return nil, faults.Terminal("could not record the request", err)
	}

	now := d.clock()
	p := &contracts.Proposal{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		SessionID:   sessionID,
		ToolName:    resolved.Descriptor.Name,
		Params:      params,
		PayloadHash: hash,
		Tier:        tier,
		State:       contracts.ProposalPending,
		Preview:     preview(resolved.Descriptor),
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.deps.ProposalTTL),
		UpdatedAt:   now,
	}
	if err := d.deps.Store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// settle applies a terminal transition, updates the in-memory snapshot
// to match, and records the metric. Returns false when the proposal
// was already terminal.
func (d *Dispatcher) settle(ctx context.Context, p *contracts.Proposal, to contracts.ProposalState, upd proposals.TransitionUpdate) bool {
	applied, err := d.deps.Store.Transition(ctx, p.ID, to, upd)
	if err != nil {
		d.deps.Logger.Error("proposal transition failed",
			"proposal_id", p.ID, "to", string(to), "error", err)
		return false
	}
	if applied {
		p.State = to
		p.Result = upd.Result
		p.Retryable = upd.Retryable
		p.UpdatedAt = upd.At
		d.deps.Metrics.RecordTransition(ctx, string(to))
	}
	return applied
}

func (d *Dispatcher) authorize(ctx context.Context, tenantID, proposalID string) (*contracts.Proposal, error) {
	p, err := d.deps.Store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenantID {
		// Indistinguishable from "not found" toward the caller, but the
		// classification stays precise for logs and tests.
		return nil, faults.Authorization("this proposal belongs to a different workspace")
	}
	return p, nil
}

func (d *Dispatcher) reloadTerminal(ctx context.Context, proposalID string) (*contracts.DispatchResult, error) {
	p, err := d.deps.Store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return terminalResult(p), nil
}

func (d *Dispatcher) claim(proposalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[proposalID] {
		return false
	}
	d.inflight[proposalID] = true
	return true
}

func (d *Dispatcher) release(proposalID string) {
	d.mu.Lock()
	delete(d.inflight, proposalID)
	d.mu.Unlock()
}

// terminalResult maps a settled proposal onto the result shape without
// re-running anything.
func terminalResult(p *contracts.Proposal) *contracts.DispatchResult {
	switch p.State {
	case contracts.ProposalConfirmed:
		return &contracts.DispatchResult{
			Outcome:  contracts.OutcomeExecuted,
			Data:     p.Result,
			Proposal: p,
		}
	case contracts.ProposalExpired:
		return &contracts.DispatchResult{
			Outcome:  contracts.OutcomeExpired,
			Proposal: p,
			Fault: &contracts.FaultInfo{
				Kind:    string(faults.KindStateConflict),
				Message: "this request expired before it was confirmed",
			},
		}
	default: // REJECTED
		return &contracts.DispatchResult{
			Outcome:  contracts.OutcomeRejected,
			Proposal: p,
		}
	}
}

func terminalFault(p *contracts.Proposal, err error) *contracts.DispatchResult {
	return &contracts.DispatchResult{
		Outcome:  contracts.OutcomeRejected,
		Proposal: p,
		Fault:    faults.Sanitize(err),
	}
}

func preview(desc *contracts.ToolDescriptor) string {
	if desc.Description != "" {
		return desc.Description
	}
	return fmt.Sprintf("%s is waiting for your confirmation", desc.Name)
}
