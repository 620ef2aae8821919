package cmd

import (
	"fmt"
	"io"
	"strings"

	statusadapter "github.com/bnema/mailpilot/internal/adapters/render/status"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/spf13/cobra"
)

func newProviderCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage model provider API keys",
	}

	cmd.AddCommand(
		newProviderSetCmd(app),
		newProviderRemoveCmd(app),
		newProviderListCmd(app),
	)

	return cmd
}

func newProviderSetCmd(app *app) *cobra.Command {
	var apiKey string
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider API key in the secret store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := domain.ParseProvider(args[0])
			if err != nil {
				return err
			}

			if fromStdin {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read api key from stdin: %w", err)
				}
				apiKey = strings.TrimSpace(string(raw))
			}

			if err := app.providers.SetKey(cmd.Context(), provider, apiKey); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s key\n", provider)
			return err
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key value")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the API key from stdin")
	cmd.MarkFlagsOneRequired("key", "stdin")
	cmd.MarkFlagsMutuallyExclusive("key", "stdin")

	return cmd
}

func newProviderRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <provider>",
		Short: "Remove a provider API key from the secret store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := domain.ParseProvider(args[0])
			if err != nil {
				return err
			}

			if err := app.providers.RemoveKey(cmd.Context(), provider); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s key\n", provider)
			return err
		},
	}
}

func newProviderListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show which providers have credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := listProviders(cmd.Context(), cmd.ErrOrStderr(), app.providers.List)
			if err != nil {
				return err
			}

			return writeOutput(cmd, app, statuses, asJSON, func(opts statusadapter.RenderOptions) (string, error) {
				return statusadapter.RenderProviders(statuses, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}
