// Package drafttools provides the built-in tool set for editing,
// previewing, and publishing draft-managed configuration entities.
// Domain-specific tools (pricing, scheduling, search) live in their own
// modules and register the same way.
package drafttools

import (
	"context"
	"fmt"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/draftstore"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
	"github.com/Harborlane-Labs/concierge/core/pkg/registry"
)

const (
	ToolUpdateDraft   = "update_config_draft"
	ToolPreviewConfig = "preview_config"
	ToolPublishConfig = "publish_config"
)

const updateDraftSchema = `{
	"type": "object",
	"required": ["kind", "patch"],
	"properties": {
		"kind": {"type": "string", "minLength": 1},
		"patch": {"type": "object"},
		"base_version": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

const kindOnlySchema = `{
	"type": "object",
	"required": ["kind"],
	"properties": {
		"kind": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

// RegisterAll registers and binds the built-in draft tools. Draft edits
// are T1 (the live surface never sees them), publishing is T3 (it
// replaces what customers see).
func RegisterAll(reg *registry.Registry, store draftstore.Store) error {
	descriptors := []*contracts.ToolDescriptor{
		{
			Name:        ToolUpdateDraft,
			Version:     "1.0.0",
			Tier:        contracts.TierAuto,
			Mutating:    true,
			ParamSchema: updateDraftSchema,
			Description: "Apply changes to a configuration draft",
		},
		{
			Name:        ToolPreviewConfig,
			Version:     "1.0.0",
			Tier:        contracts.TierAuto,
			Mutating:    false,
			ParamSchema: kindOnlySchema,
			Description: "Show the current draft (or published) configuration",
		},
		{
			Name:        ToolPublishConfig,
			Version:     "1.0.0",
			Tier:        contracts.TierHardConfirm,
			Mutating:    true,
			ParamSchema: kindOnlySchema,
			Description: "Publish the draft so customers see it",
		},
	}
	for _, desc := range descriptors {
		if err := reg.Register(desc); err != nil {
			return err
		}
	}

	bindings := map[string]contracts.Executor{
		ToolUpdateDraft:   UpdateDraftExecutor(store),
		ToolPreviewConfig: PreviewExecutor(store),
		ToolPublishConfig: PublishExecutor(store),
	}
	for name, exec := range bindings {
		if err := reg.Bind(name, exec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDraftExecutor shallow-merges a patch into the draft at the
// caller's base version. A stale base surfaces the store's version
// conflict unchanged — the caller re-reads and retries.
func UpdateDraftExecutor(store draftstore.Store) contracts.Executor {
	return func(ctx context.Context, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
		kind, _ := params["kind"].(string)
		patch, _ := params["patch"].(map[string]any)
		base := intParam(params, "base_version")

		if base == 0 {
			// Callers that omit base_version edit whatever is current.
			if snap, err := store.GetDraft(ctx, tenantID, kind); err == nil {
				base = snap.Version
			}
		}

		snap, err := store.UpdateDraft(ctx, tenantID, kind, base, func(content map[string]any) (map[string]any, error) {
			next := make(map[string]any, len(content)+len(patch))
			for k, v := range content {
				next[k] = v
			}
			for k, v := range patch {
				next[k] = v
			}
			return next, nil
		})
		if err != nil {
			return nil, err
		}
		return &contracts.ExecutionResult{
			Data: map[string]any{
				"config":   snap.Content,
				"kind":     snap.Kind,
				"is_draft": snap.IsDraft,
				"version":  snap.Version,
			},
			Mutated: true,
		}, nil
	}
}

// PreviewExecutor reads the draft copy, falling back to published, and
// always reports which copy the caller is looking at.
func PreviewExecutor(store draftstore.Store) contracts.Executor {
	return func(ctx context.Context, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
		kind, _ := params["kind"].(string)
		snap, err := store.GetDraft(ctx, tenantID, kind)
		if err != nil {
			if faults.Is(err, faults.KindNotFound) {
				return nil, faults.NotFound(fmt.Sprintf("no %s configuration exists yet", kind))
			}
			return nil, err
		}
		return &contracts.ExecutionResult{
			Data: map[string]any{
				"config":   snap.Content,
				"kind":     snap.Kind,
				"is_draft": snap.IsDraft,
				"version":  snap.Version,
			},
		}, nil
	}
}

// PublishExecutor atomically promotes the draft to the published copy.
func PublishExecutor(store draftstore.Store) contracts.Executor {
	return func(ctx context.Context, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
		kind, _ := params["kind"].(string)
		snap, err := store.Publish(ctx, tenantID, kind)
		if err != nil {
			return nil, err
		}
		return &contracts.ExecutionResult{
			Data: map[string]any{
				"config":            snap.Content,
				"kind":              snap.Kind,
				"is_draft":          snap.IsDraft,
				"version":           snap.Version,
				"published_version": snap.PublishedVersion,
			},
			Mutated: true,
		}, nil
	}
}

func intParam(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
