package executor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds the retry schedule for transient executor
// failures.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultBackoff is a small bounded schedule: 3 attempts, 100ms base,
// 2s cap.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{BaseMs: 100, MaxMs: 2000, MaxJitterMs: 100, MaxAttempts: 3}
}

// ComputeBackoff returns the delay before attempt (0-based) using
// exponential growth and deterministic jitter, so retry timing is
// reproducible for a given (tool, tenant, attempt).
func ComputeBackoff(toolName, tenantID string, attempt int, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+deterministicJitter(toolName, tenantID, attempt, policy)) * time.Millisecond
}

func deterministicJitter(toolName, tenantID string, attempt int, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", toolName, tenantID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}
