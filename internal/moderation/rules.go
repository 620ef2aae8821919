package moderation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const promptPlaceholder = "{prompt}"

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Rules is the keyword configuration of a Moderator. A Moderator copies it on
// construction, so later edits to a Rules value never affect a running one.
type Rules struct {
	MaxPromptRunes       int      `yaml:"max_prompt_runes"`
	DefaultPrompt        string   `yaml:"default_prompt"`
	SafetyRewrite        string   `yaml:"safety_rewrite"`
	ScopeRewriteTemplate string   `yaml:"scope_rewrite_template"`
	SafetyMessage        string   `yaml:"safety_message"`
	ScopeMessage         string   `yaml:"scope_message"`
	SafetyHints          []string `yaml:"safety_hints"`
	ScopeHints           []string `yaml:"scope_hints"`
}

// DefaultRules returns the built-in tables.
func DefaultRules() Rules {
	var rules Rules
	if err := decodeRules(defaultRulesYAML, &rules); err != nil {
		panic(fmt.Sprintf("decode embedded moderation rules: %v", err))
	}
	return rules
}

// LoadRules reads a YAML rules file. Keys missing from the file keep their
// built-in values.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read moderation rules: %w", err)
	}

	rules := DefaultRules()
	if err := decodeRules(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("decode moderation rules %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}

	return rules, nil
}

func (r Rules) Validate() error {
	var errs []error
	if r.MaxPromptRunes <= 0 {
		errs = append(errs, fmt.Errorf("max_prompt_runes must be > 0, got %d", r.MaxPromptRunes))
	}
	if strings.TrimSpace(r.DefaultPrompt) == "" {
		errs = append(errs, errors.New("default_prompt is empty"))
	}
	if strings.TrimSpace(r.SafetyRewrite) == "" {
		errs = append(errs, errors.New("safety_rewrite is empty"))
	}
	if !strings.Contains(r.ScopeRewriteTemplate, promptPlaceholder) {
		errs = append(errs, fmt.Errorf("scope_rewrite_template must contain %s", promptPlaceholder))
	}
	if len(normalizeHints(r.SafetyHints)) == 0 {
		errs = append(errs, errors.New("safety_hints is empty"))
	}
	if len(normalizeHints(r.ScopeHints)) == 0 {
		errs = append(errs, errors.New("scope_hints is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid moderation rules: %w", errors.Join(errs...))
	}
	return nil
}

func decodeRules(data []byte, rules *Rules) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(rules)
}

func normalizeHints(hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, hint := range hints {
		normalized := collapseSpaces(strings.ToLower(hint))
		if normalized == "" || slices.Contains(out, normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}
