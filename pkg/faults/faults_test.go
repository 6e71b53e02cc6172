package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFaultClassification(t *testing.T) {
	t.Run("kind and retryability are structural", func(t *testing.T) {
		transient := Transient("downstream flaked", errors.New("connection reset"))
		require.Equal(t, KindTransientExecution, KindOf(transient))
		require.True(t, IsRetryable(transient))

		// A terminal fault whose text mentions a timeout is still
		// terminal; message content never drives classification.
		terminal := Terminal("request timed out talking to billing", nil)
		require.Equal(t, KindTerminalExecution, KindOf(terminal))
		require.False(t, IsRetryable(terminal))
	})

	t.Run("unclassified errors fail closed", func(t *testing.T) {
		plain := errors.New("something broke")
		require.Equal(t, KindTerminalExecution, KindOf(plain))
		require.False(t, IsRetryable(plain))
	})

	t.Run("wrapped faults stay extractable", func(t *testing.T) {
		inner := NotFound("proposal not found")
		wrapped := fmt.Errorf("confirm failed: %w", inner)

		f, ok := As(wrapped)
		require.True(t, ok)
		require.Equal(t, KindNotFound, f.Kind)
		require.True(t, Is(wrapped, KindNotFound))
	})
}

func TestChainRetryable(t *testing.T) {
	t.Run("terminal wrapping exhausted transient reads retryable", func(t *testing.T) {
		transient := Transient("connection refused", errors.New("dial tcp"))
		exhausted := Terminal("tool failed after retries", transient)

		require.False(t, IsRetryable(exhausted))
		require.True(t, ChainRetryable(exhausted))
	})

	t.Run("pure terminal chain is not retryable", func(t *testing.T) {
		terminal := Terminal("tool execution failed", errors.New("nil pointer"))
		require.False(t, ChainRetryable(terminal))
	})

	t.Run("nil error", func(t *testing.T) {
		require.False(t, ChainRetryable(nil))
	})
}

func TestExecutorMissing(t *testing.T) {
	f := ExecutorMissing([]string{"delete_package", "create_package"})
	require.Equal(t, KindExecutorMissing, f.Kind)
	// Missing tool names are sorted so the startup error is stable.
	require.Equal(t, []string{"create_package", "delete_package"}, f.Tools)
	require.Contains(t, f.Message, "create_package, delete_package")
}

func TestValidationFields(t *testing.T) {
	f := Validation("invalid parameters", map[string]string{"/price": "expected number, but got string"})
	require.Equal(t, KindValidation, f.Kind)
	require.Equal(t, "expected number, but got string", f.Fields["/price"])
}

func TestSanitize(t *testing.T) {
	t.Run("classified fault keeps its safe message", func(t *testing.T) {
		info := Sanitize(Validation("tool \"create_package\": invalid parameters", map[string]string{"/name": "missing"}))
		require.Equal(t, string(KindValidation), info.Kind)
		require.Contains(t, info.Message, "invalid parameters")
		require.Equal(t, "missing", info.Fields["/name"])
	})

	t.Run("cause detail never reaches the surface", func(t *testing.T) {
		f := Terminal("could not save the package", errors.New("pq: duplicate key value violates unique constraint \"pkg_pkey\""))
		info := Sanitize(f)
		require.Equal(t, "could not save the package", info.Message)
		require.NotContains(t, info.Message, "pq:")
	})

	t.Run("unknown errors collapse to a generic terminal failure", func(t *testing.T) {
		info := Sanitize(errors.New("tenant 4411 row 9 corrupt"))
		require.Equal(t, string(KindTerminalExecution), info.Kind)
		require.Equal(t, "the request could not be completed", info.Message)
		require.NotContains(t, info.Message, "4411")
	})
}
