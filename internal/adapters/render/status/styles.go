package status

import (
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title       lipgloss.Style
	subject     lipgloss.Style
	detail      lipgloss.Style
	warning     lipgloss.Style
	success     lipgloss.Style
	section     lipgloss.Style
	empty       lipgloss.Style
	key         lipgloss.Style
	meta        lipgloss.Style
	barBracket  lipgloss.Style
	barFill     lipgloss.Style
	barEmpty    lipgloss.Style
	tableHeader lipgloss.Style
	tableCell   lipgloss.Style
	congestion  map[domain.Congestion]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:       lipgloss.NewStyle().Bold(true),
		subject:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		success:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		section:     lipgloss.NewStyle().MarginTop(1),
		empty:       lipgloss.NewStyle().Faint(true),
		key:         lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		barBracket:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:     lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barEmpty:    lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		tableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).PaddingRight(2),
		tableCell:   lipgloss.NewStyle().PaddingRight(2),
		congestion: map[domain.Congestion]lipgloss.Style{
			domain.CongestionLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			domain.CongestionModerate: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			domain.CongestionHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
			domain.CongestionSevere:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		},
	}
}
