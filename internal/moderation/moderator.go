// Package moderation classifies raw user prompts before any budget or model
// work happens.
package moderation

import (
	"strings"
	"unicode"
)

type Action string

const (
	ActionAllow         Action = "allow"
	ActionRewriteScope  Action = "rewrite_scope"
	ActionRewriteSafety Action = "rewrite_safety"
)

type Result struct {
	Action          Action `json:"action"`
	SanitizedPrompt string `json:"sanitized_prompt"`
	Message         string `json:"message,omitempty"`
}

func (r Result) Rewritten() bool {
	return r.Action != ActionAllow
}

type Moderator struct {
	maxRunes      int
	defaultPrompt string
	safetyRewrite string
	scopeTemplate string
	safetyMessage string
	scopeMessage  string
	safetyHints   []string
	scopeHints    []string
}

func NewModerator(rules Rules) (*Moderator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return &Moderator{
		maxRunes:      rules.MaxPromptRunes,
		defaultPrompt: strings.TrimSpace(rules.DefaultPrompt),
		safetyRewrite: strings.TrimSpace(rules.SafetyRewrite),
		scopeTemplate: strings.TrimSpace(rules.ScopeRewriteTemplate),
		safetyMessage: rules.SafetyMessage,
		scopeMessage:  rules.ScopeMessage,
		safetyHints:   normalizeHints(rules.SafetyHints),
		scopeHints:    normalizeHints(rules.ScopeHints),
	}, nil
}

// Classify returns exactly one action for any input. Safety is checked before
// scope.
func (m *Moderator) Classify(raw string) Result {
	cleaned := m.sanitize(raw)
	if cleaned == "" {
		return Result{Action: ActionAllow, SanitizedPrompt: m.defaultPrompt}
	}

	haystack := collapseSpaces(strings.ToLower(cleaned))
	if containsAny(haystack, m.safetyHints) {
		return Result{Action: ActionRewriteSafety, SanitizedPrompt: m.safetyRewrite, Message: m.safetyMessage}
	}
	if !containsAny(haystack, m.scopeHints) {
		return Result{
			Action:          ActionRewriteScope,
			SanitizedPrompt: strings.ReplaceAll(m.scopeTemplate, promptPlaceholder, cleaned),
			Message:         m.scopeMessage,
		}
	}

	return Result{Action: ActionAllow, SanitizedPrompt: cleaned}
}

func (m *Moderator) sanitize(raw string) string {
	stripped := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, raw)
	stripped = strings.TrimSpace(stripped)

	runes := []rune(stripped)
	if len(runes) > m.maxRunes {
		stripped = strings.TrimSpace(string(runes[:m.maxRunes]))
	}

	return stripped
}

func containsAny(haystack string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
