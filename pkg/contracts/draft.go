package contracts

import "time"

// DraftSnapshot is one copy of a mutable configuration entity, plus an
// accurate flag for which copy the reader is looking at. Consumers that
// render previews must surface IsDraft; this core guarantees the flag is
// correct but not how it is displayed.
type DraftSnapshot struct {
	TenantID         string         `json:"tenant_id"`
	Kind             string         `json:"kind"`
	Content          map[string]any `json:"content"`
	IsDraft          bool           `json:"is_draft"`
	Version          int64          `json:"version"`
	PublishedVersion int64          `json:"published_version"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
