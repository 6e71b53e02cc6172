package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

const packageSchema = `{
	"type": "object",
	"required": ["name", "price"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"price": {"type": "number", "minimum": 0}
	},
	"additionalProperties": false
}`

func noopExecutor(ctx context.Context, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
	return &contracts.ExecutionResult{Data: map[string]any{"ok": true}}, nil
}

func descriptor(name string, tier contracts.TrustTier, mutating bool) *contracts.ToolDescriptor {
	return &contracts.ToolDescriptor{
		Name:        name,
		Version:     "1.0.0",
		Tier:        tier,
		Mutating:    mutating,
		ParamSchema: packageSchema,
	}
}

func TestRegister(t *testing.T) {
	t.Run("valid descriptor", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		require.Equal(t, []string{"create_package"}, reg.List())
	})

	t.Run("tier is required with no default", func(t *testing.T) {
		reg := New()
		err := reg.Register(&contracts.ToolDescriptor{Name: "create_package", Version: "1.0.0"})
		require.Error(t, err)
		require.True(t, faults.Is(err, faults.KindValidation))
		require.Contains(t, err.Error(), "trust tier is required")
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		reg := New()
		err := reg.Register(&contracts.ToolDescriptor{Name: "create_package", Version: "1.0.0", Tier: "T9"})
		require.Error(t, err)
		require.True(t, faults.Is(err, faults.KindValidation))
	})

	t.Run("version must be semver", func(t *testing.T) {
		reg := New()
		err := reg.Register(&contracts.ToolDescriptor{Name: "create_package", Version: "one", Tier: contracts.TierAuto})
		require.Error(t, err)
		require.Contains(t, err.Error(), "not valid semver")
	})

	t.Run("invalid schema rejected at registration", func(t *testing.T) {
		reg := New()
		err := reg.Register(&contracts.ToolDescriptor{
			Name: "create_package", Version: "1.0.0", Tier: contracts.TierAuto,
			ParamSchema: `{"type": ["not", "a", "valid"`,
		})
		require.Error(t, err)
		require.True(t, faults.Is(err, faults.KindValidation))
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		err := reg.Register(descriptor("create_package", contracts.TierAuto, false))
		require.True(t, faults.Is(err, faults.KindStateConflict))
	})
}

func TestBind(t *testing.T) {
	t.Run("bind to unknown tool", func(t *testing.T) {
		reg := New()
		err := reg.Bind("delete_package", noopExecutor)
		require.True(t, faults.Is(err, faults.KindNotFound))
	})

	t.Run("double bind rejected", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		require.NoError(t, reg.Bind("create_package", noopExecutor))
		err := reg.Bind("create_package", noopExecutor)
		require.True(t, faults.Is(err, faults.KindStateConflict))
	})
}

func TestValidate(t *testing.T) {
	t.Run("reports every unbound mutating tool in one fault", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		require.NoError(t, reg.Register(descriptor("delete_package", contracts.TierHardConfirm, true)))
		require.NoError(t, reg.Register(descriptor("get_packages", contracts.TierAuto, false)))

		err := reg.Validate()
		require.Error(t, err)

		f, ok := faults.As(err)
		require.True(t, ok)
		require.Equal(t, faults.KindExecutorMissing, f.Kind)
		require.Equal(t, []string{"create_package", "delete_package"}, f.Tools)
		require.Contains(t, f.Message, "delete_package")
	})

	t.Run("unbound non-mutating tools are fine", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("get_packages", contracts.TierAuto, false)))
		require.NoError(t, reg.Validate())
	})

	t.Run("fully bound registry passes", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		require.NoError(t, reg.Bind("create_package", noopExecutor))
		require.NoError(t, reg.Validate())
	})
}

func TestResolve(t *testing.T) {
	t.Run("unknown tool", func(t *testing.T) {
		reg := New()
		_, err := reg.Resolve("no_such_tool")
		require.True(t, faults.Is(err, faults.KindNotFound))
	})

	t.Run("unbound mutating tool surfaces the startup defect", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("delete_package", contracts.TierHardConfirm, true)))
		_, err := reg.Resolve("delete_package")
		require.True(t, faults.Is(err, faults.KindExecutorMissing))
	})

	t.Run("bound tool resolves with schema and executor", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
		require.NoError(t, reg.Bind("create_package", noopExecutor))

		res, err := reg.Resolve("create_package")
		require.NoError(t, err)
		require.NotNil(t, res.Schema)
		require.NotNil(t, res.Executor)
		require.Equal(t, contracts.TierSoftConfirm, res.Descriptor.Tier)
	})
}

func TestValidateParams(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(descriptor("create_package", contracts.TierSoftConfirm, true)))
	require.NoError(t, reg.Bind("create_package", noopExecutor))
	res, err := reg.Resolve("create_package")
	require.NoError(t, err)

	t.Run("valid params pass", func(t *testing.T) {
		require.NoError(t, res.ValidateParams(map[string]any{"name": "Elopement", "price": 120000}))
	})

	t.Run("native ints validate against number schemas", func(t *testing.T) {
		require.NoError(t, res.ValidateParams(map[string]any{"name": "Elopement", "price": int64(99)}))
	})

	t.Run("wrong type rejected with field detail", func(t *testing.T) {
		err := res.ValidateParams(map[string]any{"name": "Elopement", "price": "expensive"})
		require.Error(t, err)

		f, ok := faults.As(err)
		require.True(t, ok)
		require.Equal(t, faults.KindValidation, f.Kind)
		require.Contains(t, f.Fields, "/price")
	})

	t.Run("missing required property rejected", func(t *testing.T) {
		err := res.ValidateParams(map[string]any{"name": "Elopement"})
		require.True(t, faults.Is(err, faults.KindValidation))
	})

	t.Run("unknown property rejected, nothing partially applied", func(t *testing.T) {
		err := res.ValidateParams(map[string]any{"name": "Elopement", "price": 1, "surprise": true})
		require.True(t, faults.Is(err, faults.KindValidation))
	})

	t.Run("schemaless descriptor accepts anything", func(t *testing.T) {
		reg2 := New()
		require.NoError(t, reg2.Register(&contracts.ToolDescriptor{
			Name: "ping", Version: "0.1.0", Tier: contracts.TierAuto,
		}))
		res2, err := reg2.Resolve("ping")
		require.NoError(t, err)
		require.NoError(t, res2.ValidateParams(map[string]any{"anything": "goes"}))
	})
}
