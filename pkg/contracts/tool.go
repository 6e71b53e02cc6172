// Package contracts defines the shared types exchanged between the
// dispatch core's components: tool descriptors, proposals, dispatch
// results, draft snapshots, and tenant context.
package contracts

import (
	"context"
	"time"
)

// TrustTier classifies how much ceremony an action requires before it
// is allowed to take effect.
type TrustTier string

const (
	// TierAuto executes immediately and returns the result.
	TierAuto TrustTier = "T1"
	// TierSoftConfirm executes immediately but records a proposal so the
	// caller can offer an undo affordance.
	TierSoftConfirm TrustTier = "T2"
	// TierHardConfirm holds the action until an explicit confirmation.
	TierHardConfirm TrustTier = "T3"
)

// Valid reports whether t is one of the three known tiers.
func (t TrustTier) Valid() bool {
	switch t {
	case TierAuto, TierSoftConfirm, TierHardConfirm:
		return true
	}
	return false
}

// Rank orders tiers by required ceremony (T1 < T2 < T3).
// Unknown tiers rank highest so a corrupted value fails closed.
func (t TrustTier) Rank() int {
	switch t {
	case TierAuto:
		return 1
	case TierSoftConfirm:
		return 2
	case TierHardConfirm:
		return 3
	}
	return 4
}

// MaxTier returns the more ceremonious of a and b.
func MaxTier(a, b TrustTier) TrustTier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ToolDescriptor declares a dispatchable action.
//
// Tier is required and has no default: a descriptor registered without a
// tier is a registration error, never silently auto-execute.
type ToolDescriptor struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"` // semver
	Tier        TrustTier `json:"tier"`
	Mutating    bool      `json:"mutating"`
	ParamSchema string    `json:"param_schema,omitempty"` // JSON Schema, Draft 2020-12
	Description string    `json:"description,omitempty"`  // shown as T3 preview fallback
}

// ExecutionResult is the state-bearing payload an executor must return.
//
// Data carries the changed entity plus derived indicators (counts,
// has-X booleans). The calling agent treats tool output as its memory
// between turns, so a bare acknowledgement is never acceptable.
type ExecutionResult struct {
	Data    map[string]any `json:"data"`
	Mutated bool           `json:"mutated"`
}

// Executor is the handler bound to a tool name. Implemented by domain
// modules; may perform I/O and must honor ctx cancellation.
type Executor func(ctx context.Context, tenantID string, params map[string]any) (*ExecutionResult, error)

// TenantContext is the memoized per-tenant session context assembled for
// the language model caller.
type TenantContext struct {
	TenantID string         `json:"tenant_id"`
	Data     map[string]any `json:"data"`
	BuiltAt  time.Time      `json:"built_at"`
}
