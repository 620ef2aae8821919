package status

import (
	"errors"
	"testing"
	"time"

	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderNow = time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func TestRenderLimitedCredits(t *testing.T) {
	resetAt := renderNow.Add(13 * time.Hour)

	output, err := RenderCredits(domain.CreditSnapshot{
		Limited:            true,
		MaxCredits:         intPtr(10),
		RemainingCredits:   intPtr(7),
		UsedCredits:        intPtr(3),
		WindowHours:        intPtr(24),
		ResetAt:            &resetAt,
		Congestion:         domain.CongestionModerate,
		MonthlyBudgetUSD:   1,
		RemainingBudgetUSD: 0.994,
	}, domain.PlanFree, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "free plan")
	assert.Contains(t, output, "7/10 credits left")
	assert.Contains(t, output, "resets in 13 hours (00:00)")
	assert.Contains(t, output, "congestion: moderate")
	assert.Contains(t, output, "$0.99 of $1.00 left")
	assert.Contains(t, output, "[")
}

func TestRenderUnlimitedCredits(t *testing.T) {
	output, err := RenderCredits(domain.CreditSnapshot{
		Congestion:         domain.CongestionLow,
		MonthlyBudgetUSD:   200,
		RemainingBudgetUSD: 200,
	}, domain.PlanBusiness, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "credits: unlimited")
	assert.NotContains(t, output, "credits left")
}

func TestRenderModes(t *testing.T) {
	model := &domain.ModelDescriptor{ID: "gpt-4o-mini", Label: "GPT-4o mini", Provider: domain.ProviderOpenAI, Mode: domain.ModeFast}

	output, err := RenderModes([]domain.ModeAvailability{
		domain.NewModeAvailability(domain.ModeFast, false, model),
		domain.NewModeAvailability(domain.ModeBoost, true, nil),
		domain.NewModeAvailability(domain.ModeMax, false, nil),
	}, domain.PlanFree, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "MODE")
	assert.Contains(t, output, "GPT-4o mini")
	assert.Contains(t, output, "available")
	assert.Contains(t, output, "locked")
	assert.Contains(t, output, "no provider")
}

func TestRenderSession(t *testing.T) {
	template := "tpl-spring"

	output, err := RenderSession(application.SessionView{
		Session: domain.WorkflowSession{
			ConversationID:     "c-1",
			State:              domain.StateTemplateReview,
			Intent:             "spring sale",
			SelectedTemplateID: &template,
			LastActivityAt:     renderNow.Add(-2 * time.Hour),
		},
		Checkpoint: domain.Checkpoint{Seq: 3, Event: domain.EventTemplateChosen},
		Accepts:    []domain.EventKind{domain.EventTemplateApproved, domain.EventTemplateRejected},
	}, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "Conversation c-1")
	assert.Contains(t, output, "template_review")
	assert.Contains(t, output, "intent: spring sale")
	assert.Contains(t, output, "template: tpl-spring")
	assert.Contains(t, output, "2 hours ago")
	assert.Contains(t, output, "#3 template_chosen")
	assert.Contains(t, output, "template_approved, template_rejected")
}

func TestRenderAbandonedSession(t *testing.T) {
	output, err := RenderSession(application.SessionView{
		Session: domain.WorkflowSession{
			ConversationID: "c-9",
			State:          domain.StateAbandoned,
			AbandonReason:  domain.AbandonReasonInactive,
		},
	}, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "abandoned (inactive)")
	assert.Contains(t, output, "intent: -")
	assert.Contains(t, output, "No further events accepted.")
}

func TestRenderAdmittedDecision(t *testing.T) {
	output, err := RenderDecision(application.Decision{
		Admitted: true,
		Mode:     domain.ModeFast,
		Model:    &domain.ModelDescriptor{ID: "gpt-4o-mini", Label: "GPT-4o mini", Provider: domain.ProviderOpenAI},
		Charge:   &domain.Charge{Credits: 1, CostUSD: 0.002},
		Moderation: moderation.Result{
			Action:  moderation.ActionRewriteSafety,
			Message: "kept to legitimate outreach",
		},
		Session: &domain.WorkflowSession{ConversationID: "c-1", State: domain.StateGatheringIntent},
		Credits: domain.CreditSnapshot{Limited: true, MaxCredits: intPtr(10), RemainingCredits: intPtr(9)},
	}, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "Admitted")
	assert.Contains(t, output, "GPT-4o mini (openai)")
	assert.Contains(t, output, "1 credits, $0.002")
	assert.Contains(t, output, "moderation: rewrite_safety")
	assert.Contains(t, output, "c-1 (gathering_intent)")
	assert.Contains(t, output, "9/10 credits left")
}

func TestRenderRefusedDecision(t *testing.T) {
	resetAt := renderNow.Add(30 * time.Minute)

	output, err := RenderDecision(application.Decision{
		Refusal: &application.Refusal{
			Kind:          application.RefusalBudgetExhausted,
			Message:       "budget exhausted: credits_exhausted",
			ResetAt:       &resetAt,
			FallbackModes: []domain.Mode{domain.ModeFast},
			Err:           errors.New("ignored"),
		},
	}, RenderOptions{Now: renderNow})

	require.NoError(t, err)
	assert.Contains(t, output, "Refused")
	assert.Contains(t, output, "budget_exhausted")
	assert.Contains(t, output, "resets in 30 min (11:30)")
	assert.Contains(t, output, "try instead: fast")
}

func TestRenderCheckpointsAndProviders(t *testing.T) {
	output, err := RenderCheckpoints([]domain.Checkpoint{
		{Seq: 1, Event: domain.EventStarted, State: domain.StateGatheringIntent, CreatedAt: renderNow},
	}, RenderOptions{Now: renderNow})
	require.NoError(t, err)
	assert.Contains(t, output, "started")
	assert.Contains(t, output, "2026-02-14 11:00")

	output, err = RenderCheckpoints(nil, RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, output, "No checkpoints recorded.")

	output, err = RenderProviders([]application.ProviderStatus{
		{Provider: domain.ProviderOpenAI, Configured: true},
		{Provider: domain.ProviderMistral},
	}, RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, output, "openai")
	assert.Contains(t, output, "yes")
	assert.Contains(t, output, "no")
}

func TestFormatResetRelative(t *testing.T) {
	assert.Equal(t, "reset now", formatResetRelative(renderNow.Add(-time.Minute), renderNow))
	assert.Equal(t, "resets in 1 hour (12:00)", formatResetRelative(renderNow.Add(time.Hour), renderNow))
	assert.Equal(t, "resets in 2 days (11:00 on 16 Feb)", formatResetRelative(renderNow.Add(48*time.Hour), renderNow))
	assert.Equal(t, "resets 2026-02-14T12:00:00Z", formatResetRelative(renderNow.Add(time.Hour), time.Time{}))
}

func TestBarWidth(t *testing.T) {
	assert.Equal(t, defaultBarWidth, barWidth(0))
	assert.Equal(t, 10, barWidth(30))
	assert.Equal(t, 40, barWidth(200))
}
