/*
errors.go - Error kinds returned by the engine

ERROR KINDS:
  validation        malformed or out-of-range input; fix input, don't retry
  not_found         referenced tool, catalog item or work order is absent
  duplicate_code    tool code already taken
  state_transition  operation not valid for the tool's lifecycle state
  transaction       timeout, deadlock or commit failure; safe to retry

USAGE:
  Callers match kinds with errors.Is against the sentinels, or errors.As
  against the structured types for details:

    if errors.Is(err, tooling.ErrStateTransition) { ... }

    var dup *tooling.DuplicateCodeError
    if errors.As(err, &dup) { log(dup.Code) }

  Error() strings are meant to be shown to users verbatim.
*/
package tooling

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateCode   = errors.New("duplicate tool code")
	ErrStateTransition = errors.New("invalid state transition")

	// ErrTransaction marks failures of the underlying store transaction.
	// The transaction was rolled back, so the operation can be re-issued.
	ErrTransaction = errors.New("transaction failed")
)

// ErrorKind classifies an error for callers that need a stable code.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindDuplicateCode   ErrorKind = "duplicate_code"
	KindStateTransition ErrorKind = "state_transition"
	KindTransaction     ErrorKind = "transaction"
	KindInternal        ErrorKind = "internal"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string // "tool", "catalog item", "work order"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateCodeError reports a tool code that is already registered.
type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("tool code already exists: %s", e.Code)
}

func (e *DuplicateCodeError) Unwrap() error { return ErrDuplicateCode }

// StateTransitionError reports an operation the tool's state does not allow.
type StateTransitionError struct {
	ToolID string
	From   ToolState
	To     ToolState
	Op     string
	Reason string // optional, replaces the generic message
}

func (e *StateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s tool %s: %s", e.Op, e.ToolID, e.Reason)
	}
	if e.From.IsTerminal() {
		return fmt.Sprintf("cannot %s tool %s: tool is retired (%s)", e.Op, e.ToolID, e.From)
	}
	return fmt.Sprintf("cannot %s tool %s: %s -> %s not allowed", e.Op, e.ToolID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error { return ErrStateTransition }

// TransactionError wraps a store failure that aborted a transaction.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed during %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() []error { return []error{ErrTransaction, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransaction):
		return KindTransaction
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateCode):
		return KindDuplicateCode
	case errors.Is(err, ErrStateTransition):
		return KindStateTransition
	default:
		return KindInternal
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransaction)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrStateTransition)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
