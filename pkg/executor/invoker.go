// Package executor is the invocation harness for bound tool executors:
// it enforces a bounded timeout per attempt, retries classified
// transient failures a small bounded number of times with backoff, and
// rejects result payloads that violate the active-memory contract.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

// Invoker runs executors with timeout and retry discipline.
type Invoker struct {
	timeout time.Duration
	backoff BackoffPolicy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithTimeout bounds each executor attempt.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) { i.timeout = d }
}

// WithBackoff overrides the retry schedule.
func WithBackoff(p BackoffPolicy) Option {
	return func(i *Invoker) { i.backoff = p }
}

// WithSleep overrides the inter-attempt wait for deterministic tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(i *Invoker) { i.sleep = fn }
}

// NewInvoker creates an invoker with a 10s per-attempt timeout and the
// default backoff schedule.
func NewInvoker(logger *slog.Logger, opts ...Option) *Invoker {
	inv := &Invoker{
		timeout: 10 * time.Second,
		backoff: DefaultBackoff(),
		logger:  logger,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs exec for a tool, retrying transient failures per the
// backoff policy before surfacing the last fault. A deadline hit is
// only treated as transient when the executor itself classified the
// failure retry-safe; a bare context.DeadlineExceeded is terminal.
func (i *Invoker) Invoke(ctx context.Context, toolName string, desc *contracts.ToolDescriptor, exec contracts.Executor, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
	if exec == nil {
		return nil, faults.Terminal("tool has no handler", nil)
	}

	var lastErr error

	for attempt := 0; attempt < i.backoff.MaxAttempts; attempt++ {
		res, err := i.attempt(ctx, exec, tenantID, params)
		if err == nil {
			// Executors are external modules; a contract-violating
			// result surfaces as a classified fault, never a panic.
			if res == nil {
				return nil, faults.Terminal("tool returned no result", nil)
			}
			if desc.Mutating && res.Data == nil {
				// State-bearing contract: a mutating executor must return
				// the resulting state, not a bare acknowledgement.
				return nil, faults.Terminal("tool returned no resulting state", nil)
			}
			return res, nil
		}

		lastErr = classify(err)
		if !faults.IsRetryable(lastErr) {
			return nil, lastErr
		}
		if attempt == i.backoff.MaxAttempts-1 {
			break
		}

		delay := ComputeBackoff(toolName, tenantID, attempt, i.backoff)
		i.logger.Warn("executor attempt failed, retrying",
			"tool", toolName,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
		)
		if err := i.sleep(ctx, delay); err != nil {
			return nil, faults.Terminal("execution canceled", err)
		}
	}

	// Retries exhausted: the failure surfaces as terminal but keeps its
	// transient classification visible to the caller via the message.
	return nil, faults.Terminal("tool failed after retries", lastErr)
}

func (i *Invoker) attempt(ctx context.Context, exec contracts.Executor, tenantID string, params map[string]any) (*contracts.ExecutionResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return exec(attemptCtx, tenantID, params)
}

// classify maps an executor error to the fault taxonomy. Classification
// is structural only: an unclassified error is terminal even if its
// text happens to mention a timeout.
func classify(err error) error {
	if _, ok := faults.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Terminal("tool timed out", err)
	}
	return faults.Terminal("tool execution failed", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
