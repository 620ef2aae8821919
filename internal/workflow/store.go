// Package workflow drives the campaign conversation state machine and its
// append-only checkpoint log.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/keylock"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultInactivityCeiling = 72 * time.Hour

type Store struct {
	repo    ports.SessionRepository
	clock   ports.Clock
	ceiling time.Duration
	locks   *keylock.Map
	newID   func() string
}

func NewStore(repo ports.SessionRepository, clock ports.Clock, ceiling time.Duration) *Store {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if ceiling <= 0 {
		ceiling = DefaultInactivityCeiling
	}

	return &Store{
		repo:    repo,
		clock:   clock,
		ceiling: ceiling,
		locks:   keylock.New(),
		newID:   uuid.NewString,
	}
}

func (s *Store) InactivityCeiling() time.Duration {
	return s.ceiling
}

// Begin opens a conversation in gathering_intent. Calling it again for the
// same owner returns the existing session; another user gets
// ErrSessionNotFound.
func (s *Store) Begin(ctx context.Context, userID domain.UserID, id domain.ConversationID) (domain.WorkflowSession, domain.Checkpoint, error) {
	if userID == "" {
		return domain.WorkflowSession{}, domain.Checkpoint{}, domain.ErrUnauthenticated
	}
	if id == "" {
		return domain.WorkflowSession{}, domain.Checkpoint{}, domain.NewValidationError("conversation_id", "is empty")
	}

	unlock := s.locks.Lock(string(id))
	defer unlock()

	existing, err := s.repo.Get(ctx, id)
	switch {
	case err == nil:
		return s.reopen(ctx, userID, existing)
	case !errors.Is(err, domain.ErrSessionNotFound):
		return domain.WorkflowSession{}, domain.Checkpoint{}, fmt.Errorf("get session: %w", err)
	}

	now := s.clock.Now()
	session := domain.WorkflowSession{
		ConversationID: id,
		UserID:         userID,
		State:          domain.StateGatheringIntent,
		Context:        map[string]string{},
		CreatedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}

	checkpoint, err := s.checkpoint(session, domain.EventStarted, 1, now)
	if err != nil {
		return domain.WorkflowSession{}, domain.Checkpoint{}, err
	}
	if err := s.repo.Save(ctx, session, &checkpoint); err != nil {
		if !errors.Is(err, domain.ErrStaleSession) {
			return domain.WorkflowSession{}, domain.Checkpoint{}, fmt.Errorf("save session: %w", err)
		}
		// Another process opened the conversation first.
		existing, err := s.repo.Get(ctx, id)
		if err != nil {
			return domain.WorkflowSession{}, domain.Checkpoint{}, fmt.Errorf("get session: %w", err)
		}
		return s.reopen(ctx, userID, existing)
	}

	log.Info().
		Str("conversation_id", string(id)).
		Str("user_id", string(userID)).
		Msg("conversation started")

	return session, checkpoint, nil
}

func (s *Store) reopen(ctx context.Context, userID domain.UserID, existing domain.WorkflowSession) (domain.WorkflowSession, domain.Checkpoint, error) {
	if existing.UserID != userID {
		return domain.WorkflowSession{}, domain.Checkpoint{}, fmt.Errorf("begin conversation %s: %w", existing.ConversationID, domain.ErrSessionNotFound)
	}
	latest, err := s.latestCheckpoint(ctx, existing.ConversationID)
	if err != nil {
		return domain.WorkflowSession{}, domain.Checkpoint{}, err
	}
	return s.effective(existing, s.clock.Now()), latest, nil
}

// Transition applies event or returns a *domain.StateConflictError with the
// stored session unchanged. A session idle past the ceiling is abandoned
// unless the event happened before the ceiling elapsed.
func (s *Store) Transition(ctx context.Context, id domain.ConversationID, event domain.WorkflowEvent) (domain.WorkflowSession, error) {
	if err := validateEvent(event); err != nil {
		return domain.WorkflowSession{}, err
	}

	unlock := s.locks.Lock(string(id))
	defer unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.WorkflowSession{}, fmt.Errorf("get session: %w", err)
	}

	now := s.clock.Now()
	at := clampOccurredAt(event.OccurredAt, session.LastActivityAt, now)

	if !session.State.Terminal() && at.Sub(session.LastActivityAt) > s.ceiling {
		abandoned, err := s.expire(ctx, session, now)
		if errors.Is(err, domain.ErrStaleSession) {
			return session, staleConflict(session, event.Kind)
		}
		if err != nil {
			return domain.WorkflowSession{}, err
		}
		return abandoned, &domain.StateConflictError{ConversationID: id, State: abandoned.State, Event: event.Kind}
	}

	to, ok := Next(session.State, event.Kind)
	if !ok {
		log.Warn().
			Str("conversation_id", string(id)).
			Str("state", string(session.State)).
			Str("event", string(event.Kind)).
			Msg("rejected workflow event")
		return session, &domain.StateConflictError{ConversationID: id, State: session.State, Event: event.Kind}
	}

	next := apply(session, event, to, at)

	var checkpoint *domain.Checkpoint
	if to != session.State {
		latest, err := s.latestCheckpoint(ctx, id)
		if err != nil {
			return domain.WorkflowSession{}, err
		}
		cp, err := s.checkpoint(next, event.Kind, latest.Seq+1, now)
		if err != nil {
			return domain.WorkflowSession{}, err
		}
		checkpoint = &cp
	}

	if err := s.repo.Save(ctx, next, checkpoint); err != nil {
		if errors.Is(err, domain.ErrStaleSession) {
			return session, staleConflict(session, event.Kind)
		}
		return domain.WorkflowSession{}, fmt.Errorf("save session: %w", err)
	}

	log.Info().
		Str("conversation_id", string(id)).
		Str("from", string(session.State)).
		Str("to", string(next.State)).
		Str("event", string(event.Kind)).
		Int("version", next.Version).
		Msg("workflow transition")

	return next, nil
}

// Resume reports the session and its latest checkpoint without writing. An
// idle session is reported as abandoned.
func (s *Store) Resume(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, domain.Checkpoint, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.WorkflowSession{}, domain.Checkpoint{}, fmt.Errorf("get session: %w", err)
	}

	latest, err := s.latestCheckpoint(ctx, id)
	if err != nil {
		return domain.WorkflowSession{}, domain.Checkpoint{}, err
	}

	return s.effective(session, s.clock.Now()), latest, nil
}

func (s *Store) LatestForUser(ctx context.Context, userID domain.UserID) (domain.WorkflowSession, bool, error) {
	session, err := s.repo.LatestForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.WorkflowSession{}, false, nil
		}
		return domain.WorkflowSession{}, false, fmt.Errorf("latest session for user: %w", err)
	}

	return s.effective(session, s.clock.Now()), true, nil
}

func (s *Store) History(ctx context.Context, id domain.ConversationID) ([]domain.Checkpoint, error) {
	checkpoints, err := s.repo.Checkpoints(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return checkpoints, nil
}

// Replay folds the checkpoint log and verifies every step against the
// transition table. Facts from context_updated events that were never followed
// by a state change are not part of the log.
func (s *Store) Replay(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error) {
	checkpoints, err := s.History(ctx, id)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	return Fold(checkpoints)
}

// Fold rebuilds a session from checkpoints ordered by sequence.
func Fold(checkpoints []domain.Checkpoint) (domain.WorkflowSession, error) {
	if len(checkpoints) == 0 {
		return domain.WorkflowSession{}, fmt.Errorf("replay: empty log: %w", domain.ErrCorruptCheckpointLog)
	}

	first := checkpoints[0]
	if first.Seq != 1 || first.State != domain.StateGatheringIntent || first.Event != domain.EventStarted {
		return domain.WorkflowSession{}, fmt.Errorf("replay: log does not start in %s: %w", domain.StateGatheringIntent, domain.ErrCorruptCheckpointLog)
	}

	state := first.State
	for i := 1; i < len(checkpoints); i++ {
		cp := checkpoints[i]
		if cp.Seq != checkpoints[i-1].Seq+1 {
			return domain.WorkflowSession{}, fmt.Errorf("replay: sequence gap at %d: %w", cp.Seq, domain.ErrCorruptCheckpointLog)
		}
		if !legalStep(state, cp.Event, cp.State) {
			return domain.WorkflowSession{}, fmt.Errorf("replay: %s -[%s]-> %s at %d: %w", state, cp.Event, cp.State, cp.Seq, domain.ErrCorruptCheckpointLog)
		}
		state = cp.State
	}

	last := checkpoints[len(checkpoints)-1]
	session, err := decodePayload(last.Payload)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	if session.State != state || session.ConversationID != last.ConversationID {
		return domain.WorkflowSession{}, fmt.Errorf("replay: payload disagrees with checkpoint %d: %w", last.Seq, domain.ErrCorruptCheckpointLog)
	}

	return session, nil
}

func (s *Store) expire(ctx context.Context, session domain.WorkflowSession, now time.Time) (domain.WorkflowSession, error) {
	abandoned := session.Clone()
	abandoned.State = domain.StateAbandoned
	abandoned.AbandonReason = domain.AbandonReasonInactive
	abandoned.Version++

	latest, err := s.latestCheckpoint(ctx, session.ConversationID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	checkpoint, err := s.checkpoint(abandoned, domain.EventExpired, latest.Seq+1, now)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	if err := s.repo.Save(ctx, abandoned, &checkpoint); err != nil {
		if errors.Is(err, domain.ErrStaleSession) {
			return domain.WorkflowSession{}, err
		}
		return domain.WorkflowSession{}, fmt.Errorf("save abandoned session: %w", err)
	}

	log.Info().
		Str("conversation_id", string(session.ConversationID)).
		Str("from", string(session.State)).
		Dur("idle", now.Sub(session.LastActivityAt)).
		Msg("conversation abandoned after inactivity")

	return abandoned, nil
}

// staleConflict reports that another writer moved the session after it was
// read. Nothing was written; the caller resumes and retries.
func staleConflict(read domain.WorkflowSession, event domain.EventKind) *domain.StateConflictError {
	log.Warn().
		Str("conversation_id", string(read.ConversationID)).
		Int("version", read.Version).
		Str("event", string(event)).
		Msg("workflow session changed concurrently")
	return &domain.StateConflictError{ConversationID: read.ConversationID, State: read.State, Event: event, Stale: true}
}

func (s *Store) effective(session domain.WorkflowSession, now time.Time) domain.WorkflowSession {
	if session.State.Terminal() || now.Sub(session.LastActivityAt) <= s.ceiling {
		return session
	}

	view := session.Clone()
	view.State = domain.StateAbandoned
	view.AbandonReason = domain.AbandonReasonInactive
	return view
}

func (s *Store) latestCheckpoint(ctx context.Context, id domain.ConversationID) (domain.Checkpoint, error) {
	checkpoints, err := s.repo.Checkpoints(ctx, id)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(checkpoints) == 0 {
		return domain.Checkpoint{}, fmt.Errorf("conversation %s has no checkpoints: %w", id, domain.ErrCorruptCheckpointLog)
	}
	return checkpoints[len(checkpoints)-1], nil
}

func (s *Store) checkpoint(session domain.WorkflowSession, event domain.EventKind, seq int, now time.Time) (domain.Checkpoint, error) {
	payload, err := encodePayload(session)
	if err != nil {
		return domain.Checkpoint{}, err
	}

	return domain.Checkpoint{
		ID:             s.newID(),
		ConversationID: session.ConversationID,
		Seq:            seq,
		State:          session.State,
		Event:          event,
		Payload:        payload,
		CreatedAt:      now,
	}, nil
}

func validateEvent(event domain.WorkflowEvent) error {
	if !submittable(event.Kind) {
		return domain.NewValidationError("event", fmt.Sprintf("unknown event %q", event.Kind))
	}

	switch event.Kind {
	case domain.EventIntentCaptured:
		if event.Intent == "" {
			return domain.NewValidationError("intent", "is required for "+string(event.Kind))
		}
	case domain.EventTemplateChosen:
		if event.TemplateID == "" {
			return domain.NewValidationError("template_id", "is required for "+string(event.Kind))
		}
	case domain.EventRecipientsUploaded:
		if event.Recipients == nil {
			return domain.NewValidationError("recipients", "is required for "+string(event.Kind))
		}
	}

	if event.Recipients != nil {
		return event.Recipients.Validate()
	}
	return nil
}

func clampOccurredAt(at, lastActivity, now time.Time) time.Time {
	if at.IsZero() || at.After(now) {
		at = now
	}
	if at.Before(lastActivity) {
		at = lastActivity
	}
	return at
}

func apply(session domain.WorkflowSession, event domain.WorkflowEvent, to domain.WorkflowState, at time.Time) domain.WorkflowSession {
	next := session.Clone()
	next.State = to

	if event.Kind == domain.EventTemplateRejected {
		next.SelectedTemplateID = nil
	}
	if event.Intent != "" {
		next.Intent = event.Intent
	}
	if event.TemplateID != "" {
		id := event.TemplateID
		next.SelectedTemplateID = &id
	}
	if event.Recipients != nil {
		next.Recipients = *event.Recipients
	}
	if event.Summary != "" {
		next.Summary = event.Summary
	}
	if len(event.Context) > 0 && next.Context == nil {
		next.Context = map[string]string{}
	}
	for key, value := range event.Context {
		if value == "" {
			delete(next.Context, key)
			continue
		}
		next.Context[key] = value
	}
	if to == domain.StateAbandoned {
		next.AbandonReason = domain.AbandonReasonCancelled
	}

	next.LastActivityAt = at
	next.Version++
	return next
}
