//go:build property
// +build property

package draftstore_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Harborlane-Labs/concierge/core/pkg/draftstore"
)

// TestVersionLinearization verifies the optimistic-concurrency
// invariants hold for arbitrary edit sequences.
// Property: n sequential edits from fresh bases land at version n with
// last-writer-wins content; any stale base is rejected without a write.
func TestVersionLinearization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fresh-base edits advance the version by exactly one", prop.ForAll(
		func(keys []string, values []string) bool {
			store := draftstore.NewMemoryStore(draftstore.PublishRetainDraft)
			ctx := context.Background()

			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			if n == 0 {
				return true
			}

			expected := make(map[string]string)
			var base int64
			for i := 0; i < n; i++ {
				key, value := keys[i], values[i]
				if key == "" {
					continue
				}
				snap, err := store.UpdateDraft(ctx, "tenant-1", "settings", base, func(content map[string]any) (map[string]any, error) {
					next := make(map[string]any, len(content)+1)
					for k, v := range content {
						next[k] = v
					}
					next[key] = value
					return next, nil
				})
				if err != nil {
					return false
				}
				if snap.Version != base+1 {
					return false
				}
				base = snap.Version
				expected[key] = value
			}

			if base == 0 {
				return true // every key was empty, nothing written
			}
			snap, err := store.GetDraft(ctx, "tenant-1", "settings")
			if err != nil {
				return false
			}
			for k, v := range expected {
				if snap.Content[k] != v {
					return false
				}
			}
			return len(snap.Content) == len(expected)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("stale bases never write", prop.ForAll(
		func(staleOffset int64) bool {
			store := draftstore.NewMemoryStore(draftstore.PublishRetainDraft)
			ctx := context.Background()

			snap, err := store.UpdateDraft(ctx, "tenant-1", "settings", 0, func(map[string]any) (map[string]any, error) {
				return map[string]any{"seed": true}, nil
			})
			if err != nil {
				return false
			}

			stale := snap.Version + staleOffset
			if stale == snap.Version {
				return true
			}
			_, err = store.UpdateDraft(ctx, "tenant-1", "settings", stale, func(content map[string]any) (map[string]any, error) {
				return content, nil
			})
			if err == nil {
				return false
			}
			after, getErr := store.GetDraft(ctx, "tenant-1", "settings")
			return getErr == nil && after.Version == snap.Version
		},
		gen.Int64Range(-1, 100),
	))

	properties.TestingRun(t)
}
