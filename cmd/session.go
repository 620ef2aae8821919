package cmd

import (
	"fmt"

	statusadapter "github.com/bnema/mailpilot/internal/adapters/render/status"
	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and resume drafting conversations",
	}

	cmd.AddCommand(
		newSessionLatestCmd(app),
		newSessionShowCmd(app),
		newSessionHistoryCmd(app),
		newSessionReplayCmd(app),
	)

	return cmd
}

func newSessionLatestCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently active conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := app.user()
			if err != nil {
				return err
			}

			view, ok, err := app.admission.LatestSession(cmd.Context(), user)
			if err != nil {
				return err
			}
			if !ok {
				if asJSON {
					return writeJSON(cmd, nil)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
				return err
			}

			return writeSessionView(cmd, app, view, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newSessionShowCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show a conversation's state and the events it accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, id, err := sessionTarget(app, args[0])
			if err != nil {
				return err
			}

			view, err := app.admission.Session(cmd.Context(), user, id)
			if err != nil {
				return err
			}

			return writeSessionView(cmd, app, view, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newSessionHistoryCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "List a conversation's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, id, err := sessionTarget(app, args[0])
			if err != nil {
				return err
			}

			checkpoints, err := app.admission.History(cmd.Context(), user, id)
			if err != nil {
				return err
			}

			return writeOutput(cmd, app, checkpoints, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderCheckpoints(checkpoints, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newSessionReplayCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <conversation-id>",
		Short: "Rebuild a conversation from its checkpoints alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, id, err := sessionTarget(app, args[0])
			if err != nil {
				return err
			}

			session, err := app.admission.Replay(cmd.Context(), user, id)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, session)
			}
			return writeSessionView(cmd, app, application.SessionView{Session: session}, false)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func sessionTarget(app *app, raw string) (domain.User, domain.ConversationID, error) {
	user, err := app.user()
	if err != nil {
		return domain.User{}, "", err
	}

	id, err := domain.ParseConversationID(raw)
	if err != nil {
		return domain.User{}, "", err
	}

	return user, id, nil
}

func writeSessionView(cmd *cobra.Command, app *app, view application.SessionView, asJSON bool) error {
	return writeOutput(cmd, app, view, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
		return statusadapter.RenderSession(view, opts)
	})
}
