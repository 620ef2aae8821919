package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/mailpilot/internal/adapters/httpapi"
	"github.com/spf13/cobra"
)

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admission API over HTTP",
		Long:  "serve exposes credits, modes, turns and conversations under /v1. Identity is read from the X-User-ID and X-User-Plan headers set by the authenticating proxy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, app, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: http.listen from config)")
	return cmd
}

func serve(ctx context.Context, app *app, listen string) error {
	if listen == "" {
		listen = app.cfg.HTTP.Listen
	}

	server := httpapi.NewServer(app.admission, app.providers)
	return server.Serve(ctx, listen)
}
