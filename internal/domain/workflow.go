package domain

import (
	"encoding/json"
	"maps"
	"time"
)

type WorkflowState string

const (
	StateGatheringIntent      WorkflowState = "gathering_intent"
	StateSelectingTemplate    WorkflowState = "selecting_template"
	StateTemplateReview       WorkflowState = "template_review"
	StateCollectingRecipients WorkflowState = "collecting_recipients"
	StateValidatingRecipients WorkflowState = "validating_recipients"
	StateReadyToSend          WorkflowState = "ready_to_send"
	StateSent                 WorkflowState = "sent"
	StateAbandoned            WorkflowState = "abandoned"
)

var WorkflowStates = []WorkflowState{
	StateGatheringIntent,
	StateSelectingTemplate,
	StateTemplateReview,
	StateCollectingRecipients,
	StateValidatingRecipients,
	StateReadyToSend,
	StateSent,
	StateAbandoned,
}

func (s WorkflowState) Terminal() bool {
	return s == StateSent || s == StateAbandoned
}

func (s WorkflowState) Valid() bool {
	for _, state := range WorkflowStates {
		if state == s {
			return true
		}
	}
	return false
}

type EventKind string

const (
	EventIntentCaptured     EventKind = "intent_captured"
	EventTemplateChosen     EventKind = "template_chosen"
	EventTemplateApproved   EventKind = "template_approved"
	EventTemplateRejected   EventKind = "template_rejected"
	EventRecipientsUploaded EventKind = "recipients_uploaded"
	EventValidationPassed   EventKind = "validation_passed"
	EventValidationFailed   EventKind = "validation_failed"
	EventRecipientsEdited   EventKind = "recipients_edited"
	EventSendConfirmed      EventKind = "send_confirmed"
	EventCancelled          EventKind = "cancelled"
	EventContextUpdated     EventKind = "context_updated"

	// EventStarted and EventExpired are recorded on checkpoints only; callers
	// cannot submit them.
	EventStarted EventKind = "started"
	EventExpired EventKind = "expired"
)

const (
	AbandonReasonInactive  = "inactive"
	AbandonReasonCancelled = "cancelled"
)

type RecipientStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

func (r RecipientStats) Validate() error {
	if r.Total < 0 || r.Valid < 0 || r.Invalid < 0 {
		return NewValidationError("recipients", "counts must be >= 0")
	}
	if r.Valid+r.Invalid > r.Total {
		return NewValidationError("recipients", "valid + invalid exceeds total")
	}
	return nil
}

// WorkflowEvent carries the facts a step contributes. Zero-valued facts leave
// the session untouched.
type WorkflowEvent struct {
	Kind       EventKind         `json:"kind"`
	Intent     string            `json:"intent,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Recipients *RecipientStats   `json:"recipients,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"occurred_at,omitempty"`
}

type WorkflowSession struct {
	ConversationID     ConversationID    `json:"conversation_id"`
	UserID             UserID            `json:"user_id"`
	State              WorkflowState     `json:"state"`
	Intent             string            `json:"intent"`
	SelectedTemplateID *string           `json:"selected_template_id"`
	Recipients         RecipientStats    `json:"recipients"`
	Summary            string            `json:"summary"`
	Context            map[string]string `json:"context"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActivityAt     time.Time         `json:"last_activity_at"`
	Version            int               `json:"version"`
	AbandonReason      string            `json:"abandon_reason,omitempty"`
}

func (s WorkflowSession) Clone() WorkflowSession {
	out := s
	if s.SelectedTemplateID != nil {
		id := *s.SelectedTemplateID
		out.SelectedTemplateID = &id
	}
	if s.Context != nil {
		out.Context = maps.Clone(s.Context)
	}
	return out
}

// Checkpoint is an append-only snapshot taken on every state change.
type Checkpoint struct {
	ID             string          `json:"id"`
	ConversationID ConversationID  `json:"conversation_id"`
	Seq            int             `json:"seq"`
	State          WorkflowState   `json:"state"`
	Event          EventKind       `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}
