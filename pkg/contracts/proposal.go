package contracts

import "time"

// ProposalState is the lifecycle state of a proposal.
type ProposalState string

const (
	ProposalPending   ProposalState = "PENDING"
	ProposalConfirmed ProposalState = "CONFIRMED"
	ProposalRejected  ProposalState = "REJECTED"
	ProposalExpired   ProposalState = "EXPIRED"
)

// Terminal reports whether the state can never change again.
func (s ProposalState) Terminal() bool {
	return s == ProposalConfirmed || s == ProposalRejected || s == ProposalExpired
}

// Proposal is the durable record of an intended action awaiting or
// having completed confirmation. Transitions only move forward:
// PENDING → CONFIRMED | REJECTED | EXPIRED.
type Proposal struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	SessionID   string         `json:"session_id"`
	ToolName    string         `json:"tool_name"`
	Params      map[string]any `json:"params"`
	PayloadHash string         `json:"payload_hash"` // RFC 8785 canonical hash of Params
	Tier        TrustTier      `json:"tier"`
	State       ProposalState  `json:"state"`
	Preview     string         `json:"preview,omitempty"`
	Result      map[string]any `json:"result,omitempty"`    // executor Data on terminal execution
	Retryable   bool           `json:"retryable,omitempty"` // set on REJECTED when the failure was transient
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
