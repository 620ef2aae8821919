package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const defaultBarWidth = 24

type RenderOptions struct {
	Now   time.Time
	Width int
}

func RenderCredits(snapshot domain.CreditSnapshot, plan domain.Plan, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderCredits(snapshot, plan, opts, s)
	})
}

func RenderModes(modes []domain.ModeAvailability, plan domain.Plan, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderModes(modes, plan, s)
	})
}

func RenderSession(view application.SessionView, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderSession(view, opts, s)
	})
}

func RenderDecision(decision application.Decision, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderDecision(decision, opts, s)
	})
}

func RenderCheckpoints(checkpoints []domain.Checkpoint, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderCheckpoints(checkpoints, opts, s)
	})
}

func RenderProviders(statuses []application.ProviderStatus, opts RenderOptions) (string, error) {
	return run(func(s styles) string {
		return renderProviders(statuses, s)
	})
}

func renderCredits(snapshot domain.CreditSnapshot, plan domain.Plan, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Credits") + " " + s.meta.Render("("+string(plan)+" plan)"),
		creditLine(snapshot, opts, s),
		s.key.Render("congestion:") + " " + congestionStyle(snapshot.Congestion, s).Render(snapshot.Congestion.String()),
		s.key.Render("monthly budget:") + " " + s.detail.Render(fmt.Sprintf("$%.2f of $%.2f left", snapshot.RemainingBudgetUSD, snapshot.MonthlyBudgetUSD)),
	}
	return strings.Join(lines, "\n")
}

func creditLine(snapshot domain.CreditSnapshot, opts RenderOptions, s styles) string {
	if !snapshot.Limited || snapshot.MaxCredits == nil || snapshot.RemainingCredits == nil {
		return s.key.Render("credits:") + " " + s.detail.Render("unlimited")
	}

	maxCredits := *snapshot.MaxCredits
	remaining := *snapshot.RemainingCredits
	usedPercent := 100.0
	if maxCredits > 0 {
		usedPercent = float64(maxCredits-remaining) / float64(maxCredits) * 100
	}

	parts := []string{
		renderProgressBar(usedPercent, barWidth(opts.Width), s),
		fmt.Sprintf("%d/%d credits left", remaining, maxCredits),
	}
	if snapshot.ResetAt != nil {
		parts = append(parts, s.meta.Render("("+formatResetRelative(*snapshot.ResetAt, opts.Now)+")"))
	} else if snapshot.WindowHours != nil {
		parts = append(parts, s.meta.Render(fmt.Sprintf("(%dh window)", *snapshot.WindowHours)))
	}
	return strings.Join(parts, " ")
}

func congestionStyle(level domain.Congestion, s styles) lipgloss.Style {
	if style, ok := s.congestion[level]; ok {
		return style
	}
	return s.detail
}

func renderModes(modes []domain.ModeAvailability, plan domain.Plan, s styles) string {
	lines := []string{s.title.Render("Modes") + " " + s.meta.Render("("+string(plan)+" plan)")}
	if len(modes) == 0 {
		return strings.Join(append(lines, s.empty.Render("No modes configured.")), "\n")
	}

	rows := [][]string{{"MODE", "STATUS", "MODEL", "PROVIDER"}}
	for _, mode := range modes {
		model, provider := "-", "-"
		if descriptor, ok := mode.Model(); ok {
			model = descriptor.Label
			provider = string(descriptor.Provider)
		}
		rows = append(rows, []string{string(mode.Mode), modeStatus(mode), model, provider})
	}

	return strings.Join(append(lines, renderTable(rows, s)), "\n")
}

func modeStatus(mode domain.ModeAvailability) string {
	switch {
	case mode.Locked:
		return "locked"
	case !mode.Available:
		return "no provider"
	default:
		return "available"
	}
}

func renderTable(rows [][]string, s styles) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	out := make([]string, 0, len(rows))
	for r, row := range rows {
		style := s.tableCell
		if r == 0 {
			style = s.tableHeader
		}
		cells := make([]string, 0, len(row))
		for i, cell := range row {
			cells = append(cells, style.Width(widths[i]+2).Render(cell))
		}
		out = append(out, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
	}
	return strings.Join(out, "\n")
}

func renderSession(view application.SessionView, opts RenderOptions, s styles) string {
	session := view.Session

	stateStyle := s.subject
	switch session.State {
	case domain.StateAbandoned:
		stateStyle = s.warning
	case domain.StateSent:
		stateStyle = s.success
	}

	state := string(session.State)
	if session.AbandonReason != "" {
		state += " (" + session.AbandonReason + ")"
	}

	lines := []string{
		s.title.Render("Conversation "+string(session.ConversationID)) + " " + stateStyle.Render(state),
		field("intent", orDash(session.Intent), s),
		field("template", orDash(deref(session.SelectedTemplateID)), s),
		field("recipients", fmt.Sprintf("%d total, %d valid, %d invalid", session.Recipients.Total, session.Recipients.Valid, session.Recipients.Invalid), s),
	}
	if session.Summary != "" {
		lines = append(lines, field("summary", session.Summary, s))
	}
	lines = append(lines, field("last activity", formatSince(session.LastActivityAt, opts.Now), s))
	if view.Checkpoint.Seq > 0 {
		lines = append(lines, field("checkpoint", fmt.Sprintf("#%d %s", view.Checkpoint.Seq, view.Checkpoint.Event), s))
	}

	accepts := make([]string, 0, len(view.Accepts))
	for _, kind := range view.Accepts {
		accepts = append(accepts, string(kind))
	}
	if len(accepts) == 0 {
		lines = append(lines, s.section.Render(s.empty.Render("No further events accepted.")))
	} else {
		lines = append(lines, s.section.Render(field("next", strings.Join(accepts, ", "), s)))
	}

	return strings.Join(lines, "\n")
}

func renderCheckpoints(checkpoints []domain.Checkpoint, opts RenderOptions, s styles) string {
	if len(checkpoints) == 0 {
		return s.empty.Render("No checkpoints recorded.")
	}

	rows := [][]string{{"SEQ", "EVENT", "STATE", "AT"}}
	for _, checkpoint := range checkpoints {
		rows = append(rows, []string{
			fmt.Sprintf("%d", checkpoint.Seq),
			string(checkpoint.Event),
			string(checkpoint.State),
			formatTimestamp(checkpoint.CreatedAt, opts.Now),
		})
	}
	return renderTable(rows, s)
}

func renderDecision(decision application.Decision, opts RenderOptions, s styles) string {
	var lines []string
	if decision.Admitted {
		lines = append(lines, s.success.Render("Admitted")+" "+s.meta.Render(string(decision.Mode)+" mode"))
		if decision.Model != nil {
			lines = append(lines, field("model", fmt.Sprintf("%s (%s)", decision.Model.Label, decision.Model.Provider), s))
		}
		if decision.Charge != nil {
			lines = append(lines, field("charge", fmt.Sprintf("%d credits, $%.3f", decision.Charge.Credits, decision.Charge.CostUSD), s))
		}
	} else if decision.Refusal != nil {
		refusal := decision.Refusal
		lines = append(lines, s.warning.Render("Refused")+" "+s.meta.Render(string(refusal.Kind)))
		lines = append(lines, s.detail.Render(refusal.Message))
		if refusal.ResetAt != nil {
			lines = append(lines, field("credits", formatResetRelative(*refusal.ResetAt, opts.Now), s))
		}
		if len(refusal.FallbackModes) > 0 {
			modes := make([]string, 0, len(refusal.FallbackModes))
			for _, mode := range refusal.FallbackModes {
				modes = append(modes, string(mode))
			}
			lines = append(lines, field("try instead", strings.Join(modes, ", "), s))
		}
	}

	if decision.Moderation.Rewritten() {
		lines = append(lines, field("moderation", string(decision.Moderation.Action), s))
		if decision.Moderation.Message != "" {
			lines = append(lines, s.meta.Render(decision.Moderation.Message))
		}
	}

	if decision.Session != nil {
		lines = append(lines, field("conversation", fmt.Sprintf("%s (%s)", decision.Session.ConversationID, decision.Session.State), s))
	}
	lines = append(lines, creditLine(decision.Credits, opts, s))

	return strings.Join(lines, "\n")
}

func renderProviders(statuses []application.ProviderStatus, s styles) string {
	if len(statuses) == 0 {
		return s.empty.Render("No providers known.")
	}

	rows := [][]string{{"PROVIDER", "CONFIGURED"}}
	for _, status := range statuses {
		configured := "no"
		if status.Configured {
			configured = "yes"
		}
		rows = append(rows, []string{string(status.Provider), configured})
	}
	return renderTable(rows, s)
}

func field(key, value string, s styles) string {
	return s.key.Render(key+":") + " " + s.detail.Render(value)
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func barWidth(termWidth int) int {
	if termWidth <= 0 {
		return defaultBarWidth
	}
	return min(max(termWidth-40, 10), 40)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := int(math.Round(float64(width) * leftFraction))
	filled = min(max(filled, 0), width)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if now.IsZero() {
		return t.UTC().Format(time.RFC3339)
	}
	return t.In(now.Location()).Format("2006-01-02 15:04")
}

func formatSince(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if now.IsZero() || t.After(now) {
		return formatTimestamp(t, now)
	}

	elapsed := now.Sub(t)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%d min ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(elapsed.Hours()/24))
	}
}

func formatResetRelative(resetsAt, now time.Time) string {
	if now.IsZero() {
		return "resets " + resetsAt.UTC().Format(time.RFC3339)
	}

	if !resetsAt.After(now) {
		return "reset now"
	}

	remaining := resetsAt.Sub(now)
	if remaining < time.Hour {
		minutes := max(int(math.Ceil(remaining.Minutes())), 1)
		return fmt.Sprintf("resets in %d min (%s)", minutes, resetsAt.In(now.Location()).Format("15:04"))
	}
	if remaining < 24*time.Hour {
		hours := int(math.Ceil(remaining.Hours()))
		suffix := "hours"
		if hours == 1 {
			suffix = "hour"
		}
		return fmt.Sprintf("resets in %d %s (%s)", hours, suffix, resetsAt.In(now.Location()).Format("15:04"))
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	suffix := "days"
	if days == 1 {
		suffix = "day"
	}
	return fmt.Sprintf("resets in %d %s (%s)", days, suffix, resetsAt.In(now.Location()).Format("15:04 on 02 Jan"))
}
