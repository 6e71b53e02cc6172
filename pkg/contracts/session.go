package contracts

import "time"

// SessionSnapshot is a read-only view of one (tenant, session) entry in
// the isolation manager. The underlying state is in-memory and
// rebuildable; no persistence schema exists for it.
type SessionSnapshot struct {
	TenantID            string         `json:"tenant_id"`
	SessionID           string         `json:"session_id"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	CircuitOpen         bool           `json:"circuit_open"`
	CircuitOpenUntil    time.Time      `json:"circuit_open_until,omitempty"`
	WorkingMemory       map[string]any `json:"working_memory,omitempty"`
	LastActivityAt      time.Time      `json:"last_activity_at"`
}
