package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
)

type SessionRepository struct {
	mu          sync.RWMutex
	sessions    map[domain.ConversationID]domain.WorkflowSession
	checkpoints map[domain.ConversationID][]domain.Checkpoint
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions:    map[domain.ConversationID]domain.WorkflowSession{},
		checkpoints: map[domain.ConversationID][]domain.Checkpoint{},
	}
}

func (r *SessionRepository) Get(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkflowSession{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.WorkflowSession{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *SessionRepository) Save(ctx context.Context, session domain.WorkflowSession, checkpoint *domain.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ConversationID]
	if (ok && stored.Version != session.Version-1) || (!ok && session.Version != 1) {
		return domain.ErrStaleSession
	}

	r.sessions[session.ConversationID] = session.Clone()
	if checkpoint != nil {
		cp := *checkpoint
		cp.Payload = slices.Clone(cp.Payload)
		r.checkpoints[session.ConversationID] = append(r.checkpoints[session.ConversationID], cp)
	}
	return nil
}

func (r *SessionRepository) Checkpoints(ctx context.Context, id domain.ConversationID) ([]domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.checkpoints[id]), nil
}

func (r *SessionRepository) LatestForUser(ctx context.Context, userID domain.UserID) (domain.WorkflowSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkflowSession{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest domain.WorkflowSession
	found := false
	for _, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if !found || newerThan(session, latest) {
			latest = session
			found = true
		}
	}
	if !found {
		return domain.WorkflowSession{}, domain.ErrSessionNotFound
	}
	return latest.Clone(), nil
}

// newerThan orders by last activity, breaking ties on conversation id so the
// result does not depend on map iteration.
func newerThan(a, b domain.WorkflowSession) bool {
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.After(b.LastActivityAt)
	}
	return a.ConversationID > b.ConversationID
}
