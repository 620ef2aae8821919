package cmd

import (
	"fmt"
	"strings"
	"time"

	statusadapter "github.com/bnema/mailpilot/internal/adapters/render/status"
	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTurnCmd(app *app) *cobra.Command {
	var conversationID string
	var mode string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "turn <prompt>...",
		Short: "Admit one user turn: moderate, check budget, pick a model and charge credits",
		Long:  "turn runs a prompt through admission. Without --conversation a new conversation is started and its ID printed. A refused turn exits non-zero.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := app.user()
			if err != nil {
				return err
			}

			if strings.TrimSpace(conversationID) == "" {
				conversationID = uuid.NewString()
			}

			decision, err := app.admission.Admit(cmd.Context(), application.TurnRequest{
				User:           user,
				ConversationID: domain.ConversationID(conversationID),
				Prompt:         strings.Join(args, " "),
				Mode:           domain.Mode(mode),
			})
			if err != nil {
				return err
			}

			if err := writeOutput(cmd, app, decision, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderDecision(decision, opts)
			}); err != nil {
				return err
			}

			if decision.Refusal != nil {
				return fmt.Errorf("turn refused: %s", decision.Refusal.Kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (default: start a new conversation)")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeFast), "Mode to run the turn in (fast, boost, max)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newEventCmd(app *app) *cobra.Command {
	var (
		intent     string
		templateID string
		summary    string
		occurredAt string
		total      int
		valid      int
		invalid    int
		values     map[string]string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "event <conversation-id> <kind>",
		Short: "Apply a workflow event to a conversation",
		Long:  "event advances the drafting workflow. Kinds: intent_captured, template_chosen, template_approved, template_rejected, recipients_uploaded, validation_passed, validation_failed, recipients_edited, send_confirmed, cancelled, context_updated.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := app.user()
			if err != nil {
				return err
			}

			id, err := domain.ParseConversationID(args[0])
			if err != nil {
				return err
			}

			event := domain.WorkflowEvent{
				Kind:       domain.EventKind(strings.TrimSpace(args[1])),
				Intent:     intent,
				TemplateID: templateID,
				Summary:    summary,
				Context:    values,
			}
			if cmd.Flags().Changed("total") || cmd.Flags().Changed("valid") || cmd.Flags().Changed("invalid") {
				event.Recipients = &domain.RecipientStats{Total: total, Valid: valid, Invalid: invalid}
			}
			if occurredAt != "" {
				at, err := time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return domain.NewValidationError("at", "must be an RFC3339 timestamp")
				}
				event.OccurredAt = at
			}

			session, err := app.admission.Advance(cmd.Context(), application.AdvanceRequest{
				User:           user,
				ConversationID: id,
				Event:          event,
			})
			if err != nil {
				return err
			}

			view, err := app.admission.Session(cmd.Context(), user, session.ConversationID)
			if err != nil {
				return err
			}

			return writeOutput(cmd, app, view, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderSession(view, opts)
			})
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "", "Campaign intent (intent_captured)")
	cmd.Flags().StringVar(&templateID, "template", "", "Template ID (template_chosen)")
	cmd.Flags().StringVar(&summary, "summary", "", "Conversation summary")
	cmd.Flags().IntVar(&total, "total", 0, "Total recipients")
	cmd.Flags().IntVar(&valid, "valid", 0, "Valid recipients")
	cmd.Flags().IntVar(&invalid, "invalid", 0, "Invalid recipients")
	cmd.Flags().StringToStringVar(&values, "context", nil, "Context values to merge (key=value)")
	cmd.Flags().StringVar(&occurredAt, "at", "", "When the event happened (RFC3339, default: now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}
