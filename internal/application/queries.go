package application

import (
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/moderation"
)

type RefusalKind string

const (
	RefusalBudgetExhausted     RefusalKind = "budget_exhausted"
	RefusalModeLocked          RefusalKind = "mode_locked"
	RefusalProviderUnavailable RefusalKind = "provider_unavailable"
)

// Refusal explains a turn that was not admitted. Err wraps the matching
// domain sentinel.
type Refusal struct {
	Kind          RefusalKind   `json:"kind"`
	Message       string        `json:"message"`
	ResetAt       *time.Time    `json:"reset_at,omitempty"`
	FallbackModes []domain.Mode `json:"fallback_modes,omitempty"`
	Err           error         `json:"-"`
}

type Decision struct {
	Admitted       bool                    `json:"admitted"`
	ConversationID domain.ConversationID   `json:"conversation_id"`
	Mode           domain.Mode             `json:"mode"`
	Moderation     moderation.Result       `json:"moderation"`
	Model          *domain.ModelDescriptor `json:"model,omitempty"`
	Charge         *domain.Charge          `json:"charge,omitempty"`
	Credits        domain.CreditSnapshot   `json:"credits"`
	Session        *domain.WorkflowSession `json:"session,omitempty"`
	Refusal        *Refusal                `json:"refusal,omitempty"`
}

type SessionView struct {
	Session    domain.WorkflowSession `json:"session"`
	Checkpoint domain.Checkpoint      `json:"checkpoint"`
	Accepts    []domain.EventKind     `json:"accepts"`
}

type ProviderStatus struct {
	Provider   domain.Provider `json:"provider"`
	Configured bool            `json:"configured"`
}
