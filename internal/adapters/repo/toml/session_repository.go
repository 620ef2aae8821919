package toml

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/spf13/viper"
)

// SessionRepository keeps sessions and their checkpoint log in one file so a
// session and the checkpoint that produced it are written atomically.
type SessionRepository struct {
	path string
	mu   *sync.RWMutex
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(cfg *viper.Viper) (*SessionRepository, error) {
	path, err := resolvePath(cfg, SessionPathKey, sessionsFile)
	if err != nil {
		return nil, err
	}

	return &SessionRepository{path: path, mu: lockForPath(path)}, nil
}

func (r *SessionRepository) Path() string {
	return r.path
}

func (r *SessionRepository) Get(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkflowSession{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	for _, session := range file.Sessions {
		if session.ConversationID == string(id) {
			return sessionFromSchema(session)
		}
	}

	return domain.WorkflowSession{}, domain.ErrSessionNotFound
}

func (r *SessionRepository) Save(ctx context.Context, session domain.WorkflowSession, checkpoint *domain.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock, err := lockForWrite(ctx, r.mu, r.path)
	if err != nil {
		return err
	}
	defer unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := sessionToSchema(session)
	index := -1
	for i := range file.Sessions {
		if file.Sessions[i].ConversationID == encoded.ConversationID {
			index = i
			break
		}
	}
	switch {
	case index < 0 && session.Version != 1:
		return domain.ErrStaleSession
	case index < 0:
		file.Sessions = append(file.Sessions, encoded)
	case file.Sessions[index].Version != session.Version-1:
		return domain.ErrStaleSession
	default:
		file.Sessions[index] = encoded
	}

	if checkpoint != nil {
		file.Checkpoints = append(file.Checkpoints, checkpointToSchema(*checkpoint))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return writeTOMLFile(r.path, file)
}

func (r *SessionRepository) Checkpoints(ctx context.Context, id domain.ConversationID) ([]domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Checkpoint, 0)
	for _, entry := range file.Checkpoints {
		if entry.ConversationID != string(id) {
			continue
		}
		checkpoint, err := checkpointFromSchema(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, checkpoint)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *SessionRepository) LatestForUser(ctx context.Context, userID domain.UserID) (domain.WorkflowSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkflowSession{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	var latest domain.WorkflowSession
	found := false
	for _, entry := range file.Sessions {
		if entry.UserID != string(userID) {
			continue
		}
		session, err := sessionFromSchema(entry)
		if err != nil {
			return domain.WorkflowSession{}, err
		}
		if !found || session.LastActivityAt.After(latest.LastActivityAt) ||
			(session.LastActivityAt.Equal(latest.LastActivityAt) && session.ConversationID > latest.ConversationID) {
			latest = session
			found = true
		}
	}

	if !found {
		return domain.WorkflowSession{}, domain.ErrSessionNotFound
	}
	return latest, nil
}

func (r *SessionRepository) readSchema() (sessionFileSchema, error) {
	var file sessionFileSchema
	if err := readTOMLFile(r.path, &file); err != nil {
		return sessionFileSchema{}, err
	}
	if err := validateVersion("sessions", file.Version); err != nil {
		return sessionFileSchema{}, err
	}
	applyVersionDefault(&file.Version)

	return file, nil
}

func sessionToSchema(session domain.WorkflowSession) sessionSchema {
	var templateID *string
	if session.SelectedTemplateID != nil {
		id := *session.SelectedTemplateID
		templateID = &id
	}

	return sessionSchema{
		ConversationID:     string(session.ConversationID),
		UserID:             string(session.UserID),
		State:              string(session.State),
		Intent:             session.Intent,
		SelectedTemplateID: templateID,
		Recipients: recipientsSchema{
			Total:   session.Recipients.Total,
			Valid:   session.Recipients.Valid,
			Invalid: session.Recipients.Invalid,
		},
		Summary:        session.Summary,
		Context:        maps.Clone(session.Context),
		CreatedAt:      formatTime(session.CreatedAt),
		LastActivityAt: formatTime(session.LastActivityAt),
		Version:        session.Version,
		AbandonReason:  session.AbandonReason,
	}
}

func sessionFromSchema(entry sessionSchema) (domain.WorkflowSession, error) {
	state := domain.WorkflowState(entry.State)
	if !state.Valid() {
		return domain.WorkflowSession{}, fmt.Errorf("session %s has unknown state %q", entry.ConversationID, entry.State)
	}

	createdAt, err := parseTime(entry.CreatedAt)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	lastActivityAt, err := parseTime(entry.LastActivityAt)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	values := map[string]string{}
	maps.Copy(values, entry.Context)

	var templateID *string
	if entry.SelectedTemplateID != nil {
		id := *entry.SelectedTemplateID
		templateID = &id
	}

	return domain.WorkflowSession{
		ConversationID:     domain.ConversationID(entry.ConversationID),
		UserID:             domain.UserID(entry.UserID),
		State:              state,
		Intent:             entry.Intent,
		SelectedTemplateID: templateID,
		Recipients: domain.RecipientStats{
			Total:   entry.Recipients.Total,
			Valid:   entry.Recipients.Valid,
			Invalid: entry.Recipients.Invalid,
		},
		Summary:        entry.Summary,
		Context:        values,
		CreatedAt:      createdAt,
		LastActivityAt: lastActivityAt,
		Version:        entry.Version,
		AbandonReason:  entry.AbandonReason,
	}, nil
}

func checkpointToSchema(checkpoint domain.Checkpoint) checkpointSchema {
	return checkpointSchema{
		ID:             checkpoint.ID,
		ConversationID: string(checkpoint.ConversationID),
		Seq:            checkpoint.Seq,
		State:          string(checkpoint.State),
		Event:          string(checkpoint.Event),
		Payload:        string(checkpoint.Payload),
		CreatedAt:      formatTime(checkpoint.CreatedAt),
	}
}

func checkpointFromSchema(entry checkpointSchema) (domain.Checkpoint, error) {
	createdAt, err := parseTime(entry.CreatedAt)
	if err != nil {
		return domain.Checkpoint{}, err
	}

	var payload json.RawMessage
	if entry.Payload != "" {
		payload = json.RawMessage(entry.Payload)
	}

	return domain.Checkpoint{
		ID:             entry.ID,
		ConversationID: domain.ConversationID(entry.ConversationID),
		Seq:            entry.Seq,
		State:          domain.WorkflowState(entry.State),
		Event:          domain.EventKind(entry.Event),
		Payload:        payload,
		CreatedAt:      createdAt,
	}, nil
}
