// Package faults defines the structured error taxonomy for the dispatch
// core. Retryability is a classification attached where the error
// originates — never inferred by scanning error message text.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

// Kind is the machine-readable category of a fault.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindStateConflict      Kind = "STATE_CONFLICT"
	KindExecutorMissing    Kind = "EXECUTOR_MISSING"
	KindTransientExecution Kind = "TRANSIENT_EXECUTION"
	KindTerminalExecution  Kind = "TERMINAL_EXECUTION"
	KindAuthorization      Kind = "AUTHORIZATION"
)

// Fault is a classified error. Message is safe to show toward the
// conversational surface; cause is internal-only and never surfaced.
type Fault struct {
	Kind      Kind
	Message   string
	Fields    map[string]string // per-field detail for KindValidation
	Tools     []string          // missing tool names for KindExecutorMissing
	Retryable bool
	cause     error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Validation builds a VALIDATION fault with per-field detail.
func Validation(msg string, fields map[string]string) *Fault {
	return &Fault{Kind: KindValidation, Message: msg, Fields: fields}
}

// NotFound builds a NOT_FOUND fault.
func NotFound(msg string) *Fault {
	return &Fault{Kind: KindNotFound, Message: msg}
}

// StateConflict builds a STATE_CONFLICT fault (bad proposal transition
// or draft version mismatch).
func StateConflict(msg string) *Fault {
	return &Fault{Kind: KindStateConflict, Message: msg}
}

// ExecutorMissing builds the aggregated startup fault listing every
// mutating tool that lacks a bound executor.
func ExecutorMissing(tools []string) *Fault {
	sorted := make([]string, len(tools))
	copy(sorted, tools)
	sort.Strings(sorted)
	return &Fault{
		Kind:    KindExecutorMissing,
		Message: fmt.Sprintf("no executor bound for mutating tools: %s", strings.Join(sorted, ", ")),
		Tools:   sorted,
	}
}

// Transient builds a retryable execution fault. Only use this when the
// failure is independently known to be retry-safe.
func Transient(msg string, cause error) *Fault {
	return &Fault{Kind: KindTransientExecution, Message: msg, Retryable: true, cause: cause}
}

// Terminal builds a non-retryable execution fault.
func Terminal(msg string, cause error) *Fault {
	return &Fault{Kind: KindTerminalExecution, Message: msg, cause: cause}
}

// Authorization builds an AUTHORIZATION fault (tenant mismatch on
// proposal access).
func Authorization(msg string) *Fault {
	return &Fault{Kind: KindAuthorization, Message: msg}
}

// As extracts a *Fault from err's chain.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the classification of err, or KindTerminalExecution
// for unclassified errors (unknown failures fail closed).
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return KindTerminalExecution
}

// IsRetryable reports the structured retryability of err. Unclassified
// errors are never retryable.
func IsRetryable(err error) bool {
	f, ok := As(err)
	return ok && f.Retryable
}

// ChainRetryable walks err's whole cause chain and reports whether any
// fault in it was classified retryable. A terminal fault that wraps an
// exhausted transient failure still reads retryable here, so callers
// can offer a "try again later" affordance.
func ChainRetryable(err error) bool {
	for err != nil {
		var f *Fault
		if errors.As(err, &f) {
			if f.Retryable {
				return true
			}
			err = f.cause
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sanitize converts err into its caller-facing shape. Unclassified
// errors collapse to a generic terminal failure so internal detail
// never leaks toward the conversational surface.
func Sanitize(err error) *contracts.FaultInfo {
	f, ok := As(err)
	if !ok {
		return &contracts.FaultInfo{
			Kind:    string(KindTerminalExecution),
			Message: "the request could not be completed",
		}
	}
	return &contracts.FaultInfo{
		Kind:      string(f.Kind),
		Message:   f.Message,
		Retryable: f.Retryable,
		Fields:    f.Fields,
	}
}
