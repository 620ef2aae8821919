package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/mailpilot/internal/adapters/repo/memory"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *memory.SessionRepository, *stepClock) {
	t.Helper()

	repo := memory.NewSessionRepository()
	clock := &stepClock{now: startTime}
	return NewStore(repo, clock, 24*time.Hour), repo, clock
}

func happyPath() []domain.WorkflowEvent {
	return []domain.WorkflowEvent{
		{Kind: domain.EventIntentCaptured, Intent: "spring sale announcement"},
		{Kind: domain.EventTemplateChosen, TemplateID: "tpl-promo"},
		{Kind: domain.EventTemplateApproved},
		{Kind: domain.EventRecipientsUploaded, Recipients: &domain.RecipientStats{Total: 120, Valid: 117, Invalid: 3}},
		{Kind: domain.EventValidationPassed},
		{Kind: domain.EventSendConfirmed, Summary: "Spring sale sent to 117 recipients"},
	}
}

func TestBeginCreatesSessionWithInitialCheckpoint(t *testing.T) {
	t.Parallel()

	store, repo, _ := newTestStore(t)

	session, checkpoint, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateGatheringIntent, session.State)
	assert.Equal(t, startTime, session.CreatedAt)
	assert.Equal(t, startTime, session.LastActivityAt)
	assert.Equal(t, 1, checkpoint.Seq)
	assert.Equal(t, domain.EventStarted, checkpoint.Event)
	assert.NotEmpty(t, checkpoint.ID)
	assert.True(t, json.Valid(checkpoint.Payload))

	again, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, session, again)

	history, err := repo.Checkpoints(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBeginHidesForeignConversation(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)

	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	_, _, err = store.Begin(context.Background(), "u-2", "c-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTransitionWalksHappyPath(t *testing.T) {
	t.Parallel()

	store, _, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	var session domain.WorkflowSession
	for _, event := range happyPath() {
		clock.advance(time.Minute)
		session, err = store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err, event.Kind)
	}

	assert.Equal(t, domain.StateSent, session.State)
	assert.Equal(t, "spring sale announcement", session.Intent)
	require.NotNil(t, session.SelectedTemplateID)
	assert.Equal(t, "tpl-promo", *session.SelectedTemplateID)
	assert.Equal(t, 117, session.Recipients.Valid)
	assert.Equal(t, 7, session.Version)
	assert.Equal(t, startTime.Add(6*time.Minute), session.LastActivityAt)

	history, err := store.History(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, history, 7)
	for i, cp := range history {
		assert.Equal(t, i+1, cp.Seq)
	}
	assert.Equal(t, domain.StateSent, history[6].State)
}

func TestTransitionRejectsIllegalEventsWithoutMutation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []domain.WorkflowEvent
		event domain.WorkflowEvent
	}{
		{name: "skip ahead", event: domain.WorkflowEvent{Kind: domain.EventTemplateApproved}},
		{name: "send before validation", setup: happyPath()[:3], event: domain.WorkflowEvent{Kind: domain.EventSendConfirmed}},
		{name: "event after sent", setup: happyPath(), event: domain.WorkflowEvent{Kind: domain.EventCancelled}},
		{name: "reject outside review", setup: happyPath()[:1], event: domain.WorkflowEvent{Kind: domain.EventTemplateRejected}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, repo, _ := newTestStore(t)
			_, _, err := store.Begin(context.Background(), "u-1", "c-1")
			require.NoError(t, err)
			for _, event := range tt.setup {
				_, err := store.Transition(context.Background(), "c-1", event)
				require.NoError(t, err)
			}

			before, err := repo.Get(context.Background(), "c-1")
			require.NoError(t, err)
			beforeHistory, err := repo.Checkpoints(context.Background(), "c-1")
			require.NoError(t, err)

			_, err = store.Transition(context.Background(), "c-1", tt.event)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrWorkflowStateConflict)

			var conflict *domain.StateConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, before.State, conflict.State)

			after, err := repo.Get(context.Background(), "c-1")
			require.NoError(t, err)
			afterHistory, err := repo.Checkpoints(context.Background(), "c-1")
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, beforeHistory, afterHistory)
		})
	}
}

func TestTransitionBackwardEdges(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	for _, event := range happyPath()[:2] {
		_, err := store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err)
	}

	session, err := store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventTemplateRejected})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelectingTemplate, session.State)
	assert.Nil(t, session.SelectedTemplateID)

	for _, event := range happyPath()[1:5] {
		_, err := store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err)
	}

	session, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventRecipientsEdited})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollectingRecipients, session.State)

	session, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{
		Kind:       domain.EventRecipientsUploaded,
		Recipients: &domain.RecipientStats{Total: 3, Valid: 0, Invalid: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidatingRecipients, session.State)

	session, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventValidationFailed})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollectingRecipients, session.State)
}

func TestValidationPassedIsGatedOnlyByTheTransitionTable(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	for _, event := range happyPath()[:3] {
		_, err := store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err)
	}
	_, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{
		Kind:       domain.EventRecipientsUploaded,
		Recipients: &domain.RecipientStats{Total: 2, Valid: 0, Invalid: 2},
	})
	require.NoError(t, err)

	session, err := store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventValidationPassed})
	require.NoError(t, err)
	assert.Equal(t, domain.StateReadyToSend, session.State)
	assert.Equal(t, 0, session.Recipients.Valid)
}

func TestContextUpdateSelfLoopSkipsCheckpoint(t *testing.T) {
	t.Parallel()

	store, _, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	clock.advance(time.Hour)
	session, err := store.Transition(context.Background(), "c-1", domain.WorkflowEvent{
		Kind:    domain.EventContextUpdated,
		Context: map[string]string{"tone": "playful", "language": "fr"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateGatheringIntent, session.State)
	assert.Equal(t, "playful", session.Context["tone"])
	assert.Equal(t, startTime.Add(time.Hour), session.LastActivityAt)

	session, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{
		Kind:    domain.EventContextUpdated,
		Context: map[string]string{"tone": ""},
	})
	require.NoError(t, err)
	assert.NotContains(t, session.Context, "tone")
	assert.Equal(t, "fr", session.Context["language"])

	history, err := store.History(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransitionValidatesEventFacts(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	tests := []domain.WorkflowEvent{
		{Kind: "teleport"},
		{Kind: domain.EventExpired},
		{Kind: domain.EventIntentCaptured},
		{Kind: domain.EventContextUpdated, Recipients: &domain.RecipientStats{Total: 1, Valid: 2}},
	}
	for _, event := range tests {
		_, err := store.Transition(context.Background(), "c-1", event)
		assert.ErrorIs(t, err, domain.ErrValidation, event.Kind)
	}

	_, err = store.Transition(context.Background(), "missing", domain.WorkflowEvent{Kind: domain.EventCancelled})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCancelAbandonsFromAnyNonTerminalState(t *testing.T) {
	t.Parallel()

	for n := 0; n < len(happyPath()); n++ {
		store, _, _ := newTestStore(t)
		_, _, err := store.Begin(context.Background(), "u-1", "c-1")
		require.NoError(t, err)
		for _, event := range happyPath()[:n] {
			_, err := store.Transition(context.Background(), "c-1", event)
			require.NoError(t, err)
		}

		session, err := store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventCancelled})
		require.NoError(t, err)
		assert.Equal(t, domain.StateAbandoned, session.State)
		assert.Equal(t, domain.AbandonReasonCancelled, session.AbandonReason)

		_, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{Kind: domain.EventContextUpdated})
		assert.ErrorIs(t, err, domain.ErrWorkflowStateConflict)
	}
}

func TestResumeReportsAbandonedWithoutWriting(t *testing.T) {
	t.Parallel()

	store, repo, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)
	_, err = store.Transition(context.Background(), "c-1", happyPath()[0])
	require.NoError(t, err)

	clock.advance(25 * time.Hour)

	session, checkpoint, err := store.Resume(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAbandoned, session.State)
	assert.Equal(t, domain.AbandonReasonInactive, session.AbandonReason)
	assert.Equal(t, domain.StateSelectingTemplate, checkpoint.State)

	stored, err := repo.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelectingTemplate, stored.State)

	latest, ok, err := store.LatestForUser(context.Background(), "u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateAbandoned, latest.State)
}

func TestResumeIsSideEffectFree(t *testing.T) {
	t.Parallel()

	store, repo, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	before, err := repo.Checkpoints(context.Background(), "c-1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		session, checkpoint, err := store.Resume(context.Background(), "c-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StateGatheringIntent, session.State)
		assert.Equal(t, before[0], checkpoint)
	}
	after, err := repo.Checkpoints(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransitionAfterCeilingPersistsAbandonment(t *testing.T) {
	t.Parallel()

	store, repo, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	clock.advance(25 * time.Hour)
	session, err := store.Transition(context.Background(), "c-1", happyPath()[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWorkflowStateConflict)
	assert.Equal(t, domain.StateAbandoned, session.State)

	stored, err := repo.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAbandoned, stored.State)
	assert.Equal(t, domain.AbandonReasonInactive, stored.AbandonReason)

	history, err := store.History(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventExpired, history[1].Event)

	replayed, err := store.Replay(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAbandoned, replayed.State)
}

func TestEventOccurringBeforeCeilingWinsOverAbandonment(t *testing.T) {
	t.Parallel()

	store, _, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	clock.advance(24*time.Hour + time.Minute)
	event := happyPath()[0]
	event.OccurredAt = startTime.Add(23 * time.Hour)

	session, err := store.Transition(context.Background(), "c-1", event)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelectingTemplate, session.State)
	assert.Equal(t, startTime.Add(23*time.Hour), session.LastActivityAt)
}

func TestReplayReproducesStoredSession(t *testing.T) {
	t.Parallel()

	store, _, clock := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	_, err = store.Transition(context.Background(), "c-1", domain.WorkflowEvent{
		Kind:    domain.EventContextUpdated,
		Context: map[string]string{"brand.voice": "warm"},
	})
	require.NoError(t, err)

	for _, event := range happyPath()[:4] {
		clock.advance(time.Minute)
		_, err := store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err)
	}

	stored, _, err := store.Resume(context.Background(), "c-1")
	require.NoError(t, err)

	replayed, err := store.Replay(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, stored, replayed)
	assert.Equal(t, "warm", replayed.Context["brand.voice"])
}

func TestFoldRejectsCorruptLogs(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)
	for _, event := range happyPath()[:3] {
		_, err := store.Transition(context.Background(), "c-1", event)
		require.NoError(t, err)
	}
	history, err := store.History(context.Background(), "c-1")
	require.NoError(t, err)

	skipped := append([]domain.Checkpoint{history[0]}, history[2:]...)
	for i := range skipped {
		skipped[i].Seq = i + 1
	}

	gap := append([]domain.Checkpoint(nil), history...)
	gap[2].Seq = 9

	badPayload := append([]domain.Checkpoint(nil), history...)
	badPayload[3].Payload = []byte(`{"state":`)

	for name, entries := range map[string][]domain.Checkpoint{
		"empty":       nil,
		"skipped":     skipped,
		"gap":         gap,
		"bad payload": badPayload,
		"no start":    history[1:],
	} {
		_, err := Fold(entries)
		assert.ErrorIs(t, err, domain.ErrCorruptCheckpointLog, name)
	}
}

func TestConcurrentTransitionsOnOneConversationStayConsistent(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	_, _, err := store.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(context.Background(), "c-1", happyPath()[0])
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrWorkflowStateConflict)
	}
	assert.Equal(t, 1, succeeded)

	history, err := store.History(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAccepts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []domain.EventKind{
		domain.EventRecipientsEdited,
		domain.EventSendConfirmed,
		domain.EventContextUpdated,
		domain.EventCancelled,
	}, Accepts(domain.StateReadyToSend))
	assert.Empty(t, Accepts(domain.StateSent))
}

// interleavingRepo runs between once, after the first Get has read the
// session and before the caller can write it back.
type interleavingRepo struct {
	*memory.SessionRepository
	once    sync.Once
	between func()
}

func (r *interleavingRepo) Get(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error) {
	session, err := r.SessionRepository.Get(ctx, id)
	r.once.Do(r.between)
	return session, err
}

func TestTransitionFromStaleReadAcrossStoresConflicts(t *testing.T) {
	t.Parallel()

	shared := memory.NewSessionRepository()
	clock := &stepClock{now: startTime}
	first := NewStore(shared, clock, 24*time.Hour)

	_, _, err := first.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	racing := &interleavingRepo{SessionRepository: shared}
	racing.between = func() {
		_, err := first.Transition(context.Background(), "c-1", domain.WorkflowEvent{
			Kind:    domain.EventContextUpdated,
			Context: map[string]string{"tone": "formal"},
		})
		require.NoError(t, err)
	}
	second := NewStore(racing, clock, 24*time.Hour)

	read, err := second.Transition(context.Background(), "c-1", happyPath()[0])
	var conflict *domain.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.Stale)
	assert.ErrorIs(t, err, domain.ErrStaleSession)
	assert.Equal(t, 1, read.Version)

	stored, err := shared.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGatheringIntent, stored.State)
	assert.Equal(t, "formal", stored.Context["tone"])
	assert.Equal(t, 2, stored.Version)

	session, err := second.Transition(context.Background(), "c-1", happyPath()[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelectingTemplate, session.State)
	assert.Equal(t, "formal", session.Context["tone"])
}

func TestBeginRacingAcrossStoresReturnsTheWinner(t *testing.T) {
	t.Parallel()

	shared := memory.NewSessionRepository()
	clock := &stepClock{now: startTime}
	first := NewStore(shared, clock, 24*time.Hour)

	var winner domain.WorkflowSession
	racing := &interleavingRepo{SessionRepository: shared}
	racing.between = func() {
		var err error
		winner, _, err = first.Begin(context.Background(), "u-1", "c-1")
		require.NoError(t, err)
	}
	second := NewStore(racing, clock, 24*time.Hour)

	session, checkpoint, err := second.Begin(context.Background(), "u-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, winner, session)
	assert.Equal(t, 1, checkpoint.Seq)

	checkpoints, err := shared.Checkpoints(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)

	racingOther := &interleavingRepo{SessionRepository: memory.NewSessionRepository()}
	otherFirst := NewStore(racingOther.SessionRepository, clock, 24*time.Hour)
	racingOther.between = func() {
		_, _, err := otherFirst.Begin(context.Background(), "u-1", "c-2")
		require.NoError(t, err)
	}
	_, _, err = NewStore(racingOther, clock, 24*time.Hour).Begin(context.Background(), "u-2", "c-2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
