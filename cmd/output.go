package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	statusadapter "github.com/bnema/mailpilot/internal/adapters/render/status"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func writeJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// writeOutput prints value as JSON or through render.
func writeOutput(cmd *cobra.Command, app *app, value any, asJSON bool, render func(statusadapter.RenderOptions) (string, error)) error {
	if asJSON {
		return writeJSON(cmd, value)
	}

	rendered, err := render(statusadapter.RenderOptions{
		Now:   app.now(),
		Width: terminalWidth(cmd.OutOrStdout()),
	})
	if err != nil {
		return fmt.Errorf("render output: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
