package workflow

import (
	"slices"

	"github.com/bnema/mailpilot/internal/domain"
)

var forward = map[domain.WorkflowState]map[domain.EventKind]domain.WorkflowState{
	domain.StateGatheringIntent: {
		domain.EventIntentCaptured: domain.StateSelectingTemplate,
	},
	domain.StateSelectingTemplate: {
		domain.EventTemplateChosen: domain.StateTemplateReview,
	},
	domain.StateTemplateReview: {
		domain.EventTemplateApproved: domain.StateCollectingRecipients,
		domain.EventTemplateRejected: domain.StateSelectingTemplate,
	},
	domain.StateCollectingRecipients: {
		domain.EventRecipientsUploaded: domain.StateValidatingRecipients,
	},
	domain.StateValidatingRecipients: {
		domain.EventValidationPassed: domain.StateReadyToSend,
		domain.EventValidationFailed: domain.StateCollectingRecipients,
	},
	domain.StateReadyToSend: {
		domain.EventRecipientsEdited: domain.StateCollectingRecipients,
		domain.EventSendConfirmed:    domain.StateSent,
	},
}

// Next resolves event against the transition table. Cancel and context
// updates apply to every non-terminal state.
func Next(from domain.WorkflowState, event domain.EventKind) (domain.WorkflowState, bool) {
	if from.Terminal() || !from.Valid() {
		return "", false
	}

	switch event {
	case domain.EventCancelled:
		return domain.StateAbandoned, true
	case domain.EventContextUpdated:
		return from, true
	}

	to, ok := forward[from][event]
	return to, ok
}

// Accepts lists the events a state takes, in a stable order.
func Accepts(state domain.WorkflowState) []domain.EventKind {
	if state.Terminal() || !state.Valid() {
		return nil
	}

	events := make([]domain.EventKind, 0, len(forward[state])+2)
	for event := range forward[state] {
		events = append(events, event)
	}
	slices.Sort(events)
	return append(events, domain.EventContextUpdated, domain.EventCancelled)
}

func submittable(event domain.EventKind) bool {
	switch event {
	case domain.EventCancelled, domain.EventContextUpdated:
		return true
	}
	for _, edges := range forward {
		if _, ok := edges[event]; ok {
			return true
		}
	}
	return false
}

// legalStep reports whether a checkpoint recording event may follow one in
// state from.
func legalStep(from domain.WorkflowState, event domain.EventKind, to domain.WorkflowState) bool {
	if event == domain.EventExpired {
		return !from.Terminal() && to == domain.StateAbandoned
	}
	next, ok := Next(from, event)
	return ok && next == to && next != from
}
