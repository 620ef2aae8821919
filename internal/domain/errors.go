package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrValidation            = errors.New("validation failed")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrModeLocked            = errors.New("mode locked for plan")
	ErrBudgetExhausted       = errors.New("budget exhausted")
	ErrWorkflowStateConflict = errors.New("workflow state conflict")
	ErrSessionNotFound       = errors.New("session not found")
	ErrLedgerEntryNotFound   = errors.New("ledger entry not found")
	ErrSecretNotFound        = errors.New("secret not found")
	ErrCorruptCheckpointLog  = errors.New("corrupt checkpoint log")
	ErrStaleSession          = errors.New("session changed since it was read")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type BudgetReason string

const (
	BudgetReasonCredits BudgetReason = "credits_exhausted"
	BudgetReasonMonthly BudgetReason = "monthly_budget_exhausted"
)

// BudgetExhaustedError reports why an admission was refused and, for credit
// exhaustion, when the oldest charge leaves the window.
type BudgetExhaustedError struct {
	Reason  BudgetReason
	ResetAt *time.Time
}

func (e *BudgetExhaustedError) Error() string {
	if e.ResetAt == nil {
		return fmt.Sprintf("budget exhausted: %s", e.Reason)
	}
	return fmt.Sprintf("budget exhausted: %s (resets at %s)", e.Reason, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *BudgetExhaustedError) Unwrap() error {
	return ErrBudgetExhausted
}

// StateConflictError rejects an event. Stale is set when another writer
// advanced the conversation first; resuming and retrying may succeed.
type StateConflictError struct {
	ConversationID ConversationID
	State          WorkflowState
	Event          EventKind
	Stale          bool
}

func (e *StateConflictError) Error() string {
	if e.Stale {
		return fmt.Sprintf("workflow state conflict: conversation %s changed before %s was applied", e.ConversationID, e.Event)
	}
	return fmt.Sprintf("workflow state conflict: %s does not accept %s in conversation %s", e.State, e.Event, e.ConversationID)
}

func (e *StateConflictError) Unwrap() []error {
	if e.Stale {
		return []error{ErrWorkflowStateConflict, ErrStaleSession}
	}
	return []error{ErrWorkflowStateConflict}
}
