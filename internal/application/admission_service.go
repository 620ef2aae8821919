package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/mailpilot/internal/catalog"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ledger"
	"github.com/bnema/mailpilot/internal/moderation"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/bnema/mailpilot/internal/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const turnEvent domain.EventKind = "turn"

type AdmissionService struct {
	moderator *moderation.Moderator
	catalog   *catalog.Catalog
	ledger    *ledger.Ledger
	workflow  *workflow.Store
	providers ports.ProviderDetector
	publisher ports.DecisionPublisher
	clock     ports.Clock
}

type AdmissionDeps struct {
	Moderator *moderation.Moderator
	Catalog   *catalog.Catalog
	Ledger    *ledger.Ledger
	Workflow  *workflow.Store
	Providers ports.ProviderDetector
	// Publisher is optional.
	Publisher ports.DecisionPublisher
	Clock     ports.Clock
}

func NewAdmissionService(deps AdmissionDeps) *AdmissionService {
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &AdmissionService{
		moderator: deps.Moderator,
		catalog:   deps.Catalog,
		ledger:    deps.Ledger,
		workflow:  deps.Workflow,
		providers: deps.Providers,
		publisher: deps.Publisher,
		clock:     clock,
	}
}

// Admit runs one turn through moderation, budget and model selection. Refusals
// are reported on the Decision; the error return is for bad input and
// infrastructure failures.
func (s *AdmissionService) Admit(ctx context.Context, req TurnRequest) (Decision, error) {
	if err := s.checkUser(req.User); err != nil {
		return Decision{}, err
	}
	conversationID, err := domain.ParseConversationID(string(req.ConversationID))
	if err != nil {
		return Decision{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeFast
	}
	if mode, err = domain.ParseMode(string(mode)); err != nil {
		return Decision{}, err
	}

	session, _, err := s.workflow.Begin(ctx, req.User.ID, conversationID)
	if err != nil {
		return Decision{}, fmt.Errorf("open conversation: %w", err)
	}
	if session.State.Terminal() {
		return Decision{}, &domain.StateConflictError{ConversationID: conversationID, State: session.State, Event: turnEvent}
	}

	decision := Decision{
		ConversationID: conversationID,
		Mode:           mode,
		Moderation:     s.moderator.Classify(req.Prompt),
		Session:        &session,
	}

	credits, err := s.ledger.Snapshot(ctx, req.User.ID, req.User.Plan)
	if err != nil {
		return Decision{}, fmt.Errorf("read credits: %w", err)
	}
	decision.Credits = credits
	if !credits.HasRemainingCredits() {
		return s.refuse(ctx, req.User, decision, budgetRefusal(&domain.BudgetExhaustedError{
			Reason:  domain.BudgetReasonCredits,
			ResetAt: credits.ResetAt,
		})), nil
	}

	configured, err := s.providers.Configured(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("detect providers: %w", err)
	}

	model, err := s.catalog.SelectModel(mode, req.User.Plan, configured)
	switch {
	case errors.Is(err, domain.ErrModeLocked):
		return s.refuse(ctx, req.User, decision, &Refusal{
			Kind:          RefusalModeLocked,
			Message:       fmt.Sprintf("%s mode is not included in the %s plan", mode, req.User.Plan),
			FallbackModes: s.catalog.FallbackModes(req.User.Plan, configured, mode),
			Err:           err,
		}), nil
	case errors.Is(err, domain.ErrProviderUnavailable):
		return s.refuse(ctx, req.User, decision, &Refusal{
			Kind:          RefusalProviderUnavailable,
			Message:       fmt.Sprintf("no provider is configured for %s mode", mode),
			FallbackModes: s.catalog.FallbackModes(req.User.Plan, configured, mode),
			Err:           err,
		}), nil
	case err != nil:
		return Decision{}, err
	}

	charge, err := s.catalog.Price(mode)
	if err != nil {
		return Decision{}, err
	}

	credits, err = s.ledger.Admit(ctx, req.User.ID, req.User.Plan, charge)
	if err != nil {
		var exhausted *domain.BudgetExhaustedError
		if errors.As(err, &exhausted) {
			decision.Credits = credits
			return s.refuse(ctx, req.User, decision, budgetRefusal(exhausted)), nil
		}
		return Decision{}, fmt.Errorf("charge credits: %w", err)
	}

	decision.Admitted = true
	decision.Model = &model
	decision.Charge = &charge
	decision.Credits = credits

	log.Info().
		Str("user_id", string(req.User.ID)).
		Str("conversation_id", string(conversationID)).
		Str("mode", string(mode)).
		Str("model", model.ID).
		Str("moderation", string(decision.Moderation.Action)).
		Int("credits", charge.Credits).
		Msg("turn admitted")

	s.publish(ctx, req.User, decision)
	return decision, nil
}

// Advance applies a workflow event to a conversation the user owns.
func (s *AdmissionService) Advance(ctx context.Context, req AdvanceRequest) (domain.WorkflowSession, error) {
	if _, err := s.ownedSession(ctx, req.User, req.ConversationID); err != nil {
		return domain.WorkflowSession{}, err
	}

	session, err := s.workflow.Transition(ctx, req.ConversationID, req.Event)
	if err != nil {
		return session, fmt.Errorf("advance conversation: %w", err)
	}
	return session, nil
}

func (s *AdmissionService) Credits(ctx context.Context, user domain.User) (domain.CreditSnapshot, error) {
	if err := s.checkUser(user); err != nil {
		return domain.CreditSnapshot{}, err
	}
	return s.ledger.Snapshot(ctx, user.ID, user.Plan)
}

func (s *AdmissionService) Modes(ctx context.Context, user domain.User) ([]domain.ModeAvailability, error) {
	if err := s.checkUser(user); err != nil {
		return nil, err
	}

	configured, err := s.providers.Configured(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect providers: %w", err)
	}
	return s.catalog.AvailableModes(user.Plan, configured)
}

func (s *AdmissionService) LatestSession(ctx context.Context, user domain.User) (SessionView, bool, error) {
	if err := s.checkUser(user); err != nil {
		return SessionView{}, false, err
	}

	session, ok, err := s.workflow.LatestForUser(ctx, user.ID)
	if err != nil || !ok {
		return SessionView{}, ok, err
	}

	view, err := s.Session(ctx, user, session.ConversationID)
	if err != nil {
		return SessionView{}, false, err
	}
	return view, true, nil
}

func (s *AdmissionService) Session(ctx context.Context, user domain.User, id domain.ConversationID) (SessionView, error) {
	if err := s.checkUser(user); err != nil {
		return SessionView{}, err
	}

	session, checkpoint, err := s.workflow.Resume(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if session.UserID != user.ID {
		return SessionView{}, fmt.Errorf("resume conversation %s: %w", id, domain.ErrSessionNotFound)
	}

	return SessionView{Session: session, Checkpoint: checkpoint, Accepts: workflow.Accepts(session.State)}, nil
}

func (s *AdmissionService) History(ctx context.Context, user domain.User, id domain.ConversationID) ([]domain.Checkpoint, error) {
	if _, err := s.ownedSession(ctx, user, id); err != nil {
		return nil, err
	}
	return s.workflow.History(ctx, id)
}

func (s *AdmissionService) Replay(ctx context.Context, user domain.User, id domain.ConversationID) (domain.WorkflowSession, error) {
	if _, err := s.ownedSession(ctx, user, id); err != nil {
		return domain.WorkflowSession{}, err
	}
	return s.workflow.Replay(ctx, id)
}

func (s *AdmissionService) Moderate(prompt string) moderation.Result {
	return s.moderator.Classify(prompt)
}

func (s *AdmissionService) checkUser(user domain.User) error {
	if user.ID == "" {
		return domain.ErrUnauthenticated
	}
	if _, err := s.catalog.Plan(user.Plan); err != nil {
		return err
	}
	return nil
}

func (s *AdmissionService) ownedSession(ctx context.Context, user domain.User, id domain.ConversationID) (domain.WorkflowSession, error) {
	view, err := s.Session(ctx, user, id)
	if err != nil {
		return domain.WorkflowSession{}, err
	}
	return view.Session, nil
}

func (s *AdmissionService) refuse(ctx context.Context, user domain.User, decision Decision, refusal *Refusal) Decision {
	decision.Refusal = refusal

	log.Info().
		Str("user_id", string(user.ID)).
		Str("conversation_id", string(decision.ConversationID)).
		Str("mode", string(decision.Mode)).
		Str("refusal", string(refusal.Kind)).
		Msg("turn refused")

	s.publish(ctx, user, decision)
	return decision
}

func (s *AdmissionService) publish(ctx context.Context, user domain.User, decision Decision) {
	if s.publisher == nil {
		return
	}

	event := ports.DecisionEvent{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Plan:           user.Plan,
		ConversationID: decision.ConversationID,
		Mode:           decision.Mode,
		Admitted:       decision.Admitted,
		Moderation:     string(decision.Moderation.Action),
		OccurredAt:     s.clock.Now(),
	}
	if decision.Model != nil {
		event.ModelID = decision.Model.ID
	}
	if decision.Charge != nil {
		event.Credits = decision.Charge.Credits
		event.CostUSD = decision.Charge.CostUSD
	}
	if decision.Refusal != nil {
		event.Refusal = string(decision.Refusal.Kind)
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("conversation_id", string(decision.ConversationID)).Msg("publish decision")
	}
}

func budgetRefusal(exhausted *domain.BudgetExhaustedError) *Refusal {
	message := "monthly budget exhausted"
	if exhausted.Reason == domain.BudgetReasonCredits {
		message = "credits exhausted"
	}
	if exhausted.ResetAt != nil {
		message = fmt.Sprintf("%s, resets at %s", message, exhausted.ResetAt.UTC().Format(time.RFC3339))
	}

	return &Refusal{
		Kind:    RefusalBudgetExhausted,
		Message: message,
		ResetAt: exhausted.ResetAt,
		Err:     exhausted,
	}
}
