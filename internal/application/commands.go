package application

import "github.com/bnema/mailpilot/internal/domain"

// TurnRequest is one inbound user message for a conversation.
type TurnRequest struct {
	User           domain.User
	ConversationID domain.ConversationID
	Prompt         string
	Mode           domain.Mode
}

type AdvanceRequest struct {
	User           domain.User
	ConversationID domain.ConversationID
	Event          domain.WorkflowEvent
}
