package cmd

import (
	"os"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/spf13/cobra"
)

const (
	envUser = "MAILPILOT_USER"
	envPlan = "MAILPILOT_PLAN"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var userID string
	var plan string

	rootCmd := &cobra.Command{
		Use:           "mp",
		Short:         "Mailpilot (mp): admission and workflow control for the email assistant",
		Long:          "mp moderates campaign prompts, admits turns against per-plan credit and monthly budgets, picks a model for the requested mode, and drives the resumable email drafting workflow.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv(envUser), "User ID the request is made for (env "+envUser+")")
	rootCmd.PersistentFlags().StringVar(&plan, "plan", envOrDefault(envPlan, string(domain.PlanFree)), "Subscription plan of the user (env "+envPlan+")")

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	app.identity = func() (domain.User, error) {
		return parseIdentity(userID, plan)
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newCreditsCmd(app),
		newModesCmd(app),
		newModerateCmd(app),
		newTurnCmd(app),
		newEventCmd(app),
		newSessionCmd(app),
		newProviderCmd(app),
		newServeCmd(app),
	)

	return rootCmd
}
