package domain

import (
	"fmt"
	"strings"
)

type UserID string

type ConversationID string

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// User is the authenticated identity handed over by the session layer.
type User struct {
	ID   UserID
	Plan Plan
}

func ParsePlan(raw string) (Plan, error) {
	plan := Plan(strings.ToLower(strings.TrimSpace(raw)))
	if plan == "" {
		return "", NewValidationError("plan", "is empty")
	}

	return plan, nil
}

func ParseConversationID(raw string) (ConversationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", NewValidationError("conversation_id", "is empty")
	}
	if len(trimmed) > 128 {
		return "", NewValidationError("conversation_id", fmt.Sprintf("exceeds 128 characters (%d)", len(trimmed)))
	}

	return ConversationID(trimmed), nil
}
