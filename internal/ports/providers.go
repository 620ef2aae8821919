package ports

import (
	"context"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
)

type ProviderDetector interface {
	Configured(ctx context.Context) (domain.ProviderSet, error)
}

// DecisionPublisher forwards admission outcomes to downstream consumers.
// Publish is called on the admission path and must not block on I/O.
type DecisionPublisher interface {
	Publish(ctx context.Context, event DecisionEvent) error
}

type DecisionEvent struct {
	ID             string                `json:"id"`
	UserID         domain.UserID         `json:"user_id"`
	Plan           domain.Plan           `json:"plan"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	Mode           domain.Mode           `json:"mode"`
	Admitted       bool                  `json:"admitted"`
	Moderation     string                `json:"moderation"`
	ModelID        string                `json:"model_id,omitempty"`
	Refusal        string                `json:"refusal,omitempty"`
	Credits        int                   `json:"credits"`
	CostUSD        float64               `json:"cost_usd"`
	OccurredAt     time.Time             `json:"occurred_at"`
}
