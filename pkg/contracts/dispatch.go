package contracts

// DispatchOutcome summarizes what the dispatcher did with a request.
type DispatchOutcome string

const (
	// OutcomeExecuted means the executor ran and succeeded.
	OutcomeExecuted DispatchOutcome = "EXECUTED"
	// OutcomePendingConfirmation means a proposal was recorded and the
	// executor will not run until Confirm.
	OutcomePendingConfirmation DispatchOutcome = "PENDING_CONFIRMATION"
	// OutcomeFailed means the executor ran and failed terminally (or the
	// proposal was rejected).
	OutcomeFailed DispatchOutcome = "FAILED"
	// OutcomeUnavailable means the session's circuit is open or its rate
	// limit is exhausted; the caller may retry after a cool-down.
	OutcomeUnavailable DispatchOutcome = "UNAVAILABLE"
	// OutcomeRejected means the proposal settled REJECTED without the
	// executor running (caller reject, or schema drift at confirm).
	OutcomeRejected DispatchOutcome = "REJECTED"
	// OutcomeExpired means the proposal's confirmation window lapsed.
	OutcomeExpired DispatchOutcome = "EXPIRED"
)

// FaultInfo is the sanitized, caller-facing view of a failure: a safe
// message plus a machine-readable kind. It never carries tenant ids,
// internal row ids, or raw downstream bodies.
type FaultInfo struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// DispatchResult is the state-bearing response of every dispatch,
// confirm, and reject call.
type DispatchResult struct {
	Outcome  DispatchOutcome `json:"outcome"`
	Data     map[string]any  `json:"data,omitempty"`
	Proposal *Proposal       `json:"proposal,omitempty"`
	Fault    *FaultInfo      `json:"fault,omitempty"`
}
