package cmd

import (
	"fmt"
	"strings"

	statusadapter "github.com/bnema/mailpilot/internal/adapters/render/status"
	"github.com/spf13/cobra"
)

func newCreditsCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show remaining credits, congestion and monthly budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := app.user()
			if err != nil {
				return err
			}

			snapshot, err := app.admission.Credits(cmd.Context(), user)
			if err != nil {
				return fmt.Errorf("load credits: %w", err)
			}

			return writeOutput(cmd, app, snapshot, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderCredits(snapshot, user.Plan, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newModesCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "modes",
		Short: "List modes with their lock state and the model that would serve them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := app.user()
			if err != nil {
				return err
			}

			modes, err := app.admission.Modes(cmd.Context(), user)
			if err != nil {
				return fmt.Errorf("load modes: %w", err)
			}

			return writeOutput(cmd, app, modes, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderModes(modes, user.Plan, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newModerateCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "moderate <prompt>...",
		Short: "Classify a prompt and print the text that would be sent to the model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := app.admission.Moderate(strings.Join(args, " "))
			if asJSON {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "action: %s\n", result.Action); err != nil {
				return err
			}
			if result.Message != "" {
				if _, err := fmt.Fprintf(out, "message: %s\n", result.Message); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(out, "prompt: %s\n", result.SanitizedPrompt)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}
