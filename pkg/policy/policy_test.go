package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

func TestAddRule(t *testing.T) {
	t.Run("compile error surfaces at configuration load", func(t *testing.T) {
		engine, err := NewEngine()
		require.NoError(t, err)

		err = engine.AddRule("tenant-1", Rule{
			Name:       "broken",
			Expression: "params.price >=",
			MinTier:    contracts.TierHardConfirm,
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "broken")
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		engine, err := NewEngine()
		require.NoError(t, err)

		err = engine.AddRule("tenant-1", Rule{
			Name:       "bad-tier",
			Expression: "true",
			MinTier:    "T7",
		})
		require.Error(t, err)
	})

	t.Run("rules count per tenant", func(t *testing.T) {
		engine, err := NewEngine()
		require.NoError(t, err)
		require.NoError(t, engine.AddRule("tenant-1", Rule{Name: "r1", Expression: "true", MinTier: contracts.TierSoftConfirm}))
		require.NoError(t, engine.AddRule("tenant-1", Rule{Name: "r2", Expression: "false", MinTier: contracts.TierSoftConfirm}))
		require.Equal(t, 2, engine.RuleCount("tenant-1"))
		require.Equal(t, 0, engine.RuleCount("tenant-2"))
	})
}

func TestEffectiveTier(t *testing.T) {
	newEngine := func(t *testing.T) *Engine {
		t.Helper()
		engine, err := NewEngine()
		require.NoError(t, err)
		return engine
	}

	t.Run("matching rule raises the tier", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "big-ticket",
			Tool:       "create_package",
			Expression: `params.price >= 100000`,
			MinTier:    contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierSoftConfirm, "tenant-1", "create_package",
			map[string]any{"price": 250000})
		require.Equal(t, contracts.TierHardConfirm, tier)
	})

	t.Run("non-matching rule leaves the baseline", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "big-ticket",
			Tool:       "create_package",
			Expression: `params.price >= 100000`,
			MinTier:    contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierSoftConfirm, "tenant-1", "create_package",
			map[string]any{"price": 500})
		require.Equal(t, contracts.TierSoftConfirm, tier)
	})

	t.Run("rules can never lower ceremony", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "relax",
			Expression: "true",
			MinTier:    contracts.TierAuto,
		}))

		tier := engine.EffectiveTier(contracts.TierHardConfirm, "tenant-1", "delete_package", nil)
		require.Equal(t, contracts.TierHardConfirm, tier)
	})

	t.Run("tool filter scopes the rule", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "big-ticket",
			Tool:       "create_package",
			Expression: "true",
			MinTier:    contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierSoftConfirm, "tenant-1", "update_hours", nil)
		require.Equal(t, contracts.TierSoftConfirm, tier)
	})

	t.Run("rules are keyed per tenant", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "strict",
			Expression: "true",
			MinTier:    contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierSoftConfirm, "tenant-2", "create_package", nil)
		require.Equal(t, contracts.TierSoftConfirm, tier)
	})

	t.Run("evaluation error skips the rule instead of blocking traffic", func(t *testing.T) {
		engine := newEngine(t)
		// References a key the params map may not carry.
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name:       "fragile",
			Expression: `params.price >= 100000`,
			MinTier:    contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierSoftConfirm, "tenant-1", "create_package",
			map[string]any{"name": "Elopement"})
		require.Equal(t, contracts.TierSoftConfirm, tier)
	})

	t.Run("highest matching rule wins", func(t *testing.T) {
		engine := newEngine(t)
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name: "notice", Expression: "true", MinTier: contracts.TierSoftConfirm,
		}))
		require.NoError(t, engine.AddRule("tenant-1", Rule{
			Name: "confirm", Expression: `params.price >= 100000`, MinTier: contracts.TierHardConfirm,
		}))

		tier := engine.EffectiveTier(contracts.TierAuto, "tenant-1", "create_package",
			map[string]any{"price": 200000})
		require.Equal(t, contracts.TierHardConfirm, tier)
	})
}
