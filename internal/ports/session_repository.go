package ports

import (
	"context"

	"github.com/bnema/mailpilot/internal/domain"
)

// SessionRepository persists sessions with their checkpoint log. Save writes
// the session and the optional checkpoint in one step; readers never observe
// one without the other.
//
// Save is conditional on Version: a session at version 1 is only created when
// absent, and any later version only replaces a stored session at
// Version-1. Otherwise Save writes nothing and returns
// domain.ErrStaleSession.
type SessionRepository interface {
	Get(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error)
	Save(ctx context.Context, session domain.WorkflowSession, checkpoint *domain.Checkpoint) error
	Checkpoints(ctx context.Context, id domain.ConversationID) ([]domain.Checkpoint, error)
	LatestForUser(ctx context.Context, userID domain.UserID) (domain.WorkflowSession, error)
}
