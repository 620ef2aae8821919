package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type providerCheckResult struct {
	statuses []application.ProviderStatus
	err      error
}

// providerCheckModel animates while the secret store is probed for each
// provider key. The pass backend may prompt gpg-agent, which can take a while.
type providerCheckModel struct {
	spinner spinner.Model
	names   []string
	check   func(context.Context) ([]application.ProviderStatus, error)
	ctx     context.Context
	result  *providerCheckResult
}

func newProviderCheckModel(ctx context.Context, check func(context.Context) ([]application.ProviderStatus, error)) providerCheckModel {
	names := make([]string, 0, len(domain.Providers))
	for _, provider := range domain.Providers {
		names = append(names, string(provider))
	}

	return providerCheckModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("36"))),
		),
		names: names,
		check: check,
		ctx:   ctx,
	}
}

func (m providerCheckModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		statuses, err := m.check(m.ctx)
		return providerCheckResult{statuses: statuses, err: err}
	})
}

func (m providerCheckModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case providerCheckResult:
		m.result = &msg
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m providerCheckModel) View() string {
	if m.result != nil {
		return ""
	}
	return fmt.Sprintf("%s checking %d provider keys (%s)", m.spinner.View(), len(m.names), strings.Join(m.names, ", "))
}

// listProviders runs check behind a spinner on status when it is a terminal,
// and directly otherwise so piped and scripted output stays clean.
func listProviders(ctx context.Context, status io.Writer, check func(context.Context) ([]application.ProviderStatus, error)) ([]application.ProviderStatus, error) {
	f, ok := status.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return check(ctx)
	}

	final, err := tea.NewProgram(
		newProviderCheckModel(ctx, check),
		tea.WithInput(nil),
		tea.WithOutput(status),
		tea.WithContext(ctx),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("provider check: %w", err)
	}

	m, ok := final.(providerCheckModel)
	if !ok || m.result == nil {
		return nil, fmt.Errorf("provider check ended without a result")
	}
	return m.result.statuses, m.result.err
}
