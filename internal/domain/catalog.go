package domain

import (
	"slices"
	"strings"
	"time"
)

type Mode string

const (
	ModeFast  Mode = "fast"
	ModeBoost Mode = "boost"
	ModeMax   Mode = "max"
)

// Modes is the fixed declaration order used for every mode listing.
var Modes = []Mode{ModeFast, ModeBoost, ModeMax}

func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(Modes, mode) {
		return "", NewValidationError("mode", "unknown mode "+quote(raw))
	}

	return mode, nil
}

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderMistral   Provider = "mistral"
)

var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderMistral}

func ParseProvider(raw string) (Provider, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(Providers, provider) {
		return "", NewValidationError("provider", "unknown provider "+quote(raw))
	}

	return provider, nil
}

type ProviderSet map[Provider]struct{}

func NewProviderSet(providers ...Provider) ProviderSet {
	set := make(ProviderSet, len(providers))
	for _, provider := range providers {
		set[provider] = struct{}{}
	}
	return set
}

func (s ProviderSet) Has(provider Provider) bool {
	_, ok := s[provider]
	return ok
}

// Sorted lists the set in Providers order.
func (s ProviderSet) Sorted() []Provider {
	out := make([]Provider, 0, len(s))
	for _, provider := range Providers {
		if s.Has(provider) {
			out = append(out, provider)
		}
	}
	return out
}

type ModelDescriptor struct {
	ID       string   `json:"model_id"`
	Label    string   `json:"model_label"`
	Provider Provider `json:"provider"`
	Mode     Mode     `json:"mode"`
}

// ModeAvailability reports one mode for one plan. Locked and Available are
// independent: a locked mode may still have a configured provider.
type ModeAvailability struct {
	Mode       Mode      `json:"mode"`
	Available  bool      `json:"available"`
	Locked     bool      `json:"locked"`
	ModelID    *string   `json:"model_id"`
	ModelLabel *string   `json:"model_label"`
	Provider   *Provider `json:"provider"`
}

func NewModeAvailability(mode Mode, locked bool, model *ModelDescriptor) ModeAvailability {
	availability := ModeAvailability{Mode: mode, Locked: locked}
	if model == nil {
		return availability
	}

	id, label, provider := model.ID, model.Label, model.Provider
	availability.Available = true
	availability.ModelID = &id
	availability.ModelLabel = &label
	availability.Provider = &provider
	return availability
}

func (a ModeAvailability) Model() (ModelDescriptor, bool) {
	if !a.Available || a.ModelID == nil {
		return ModelDescriptor{}, false
	}

	model := ModelDescriptor{ID: *a.ModelID, Mode: a.Mode}
	if a.ModelLabel != nil {
		model.Label = *a.ModelLabel
	}
	if a.Provider != nil {
		model.Provider = *a.Provider
	}
	return model, true
}

// Charge is what one invocation of a mode costs against both budgets.
type Charge struct {
	Credits int     `json:"credits"`
	CostUSD float64 `json:"cost_usd"`
}

type CreditPolicy struct {
	Limited     bool
	MaxCredits  int
	WindowHours int
}

func (p CreditPolicy) Window() time.Duration {
	return time.Duration(p.WindowHours) * time.Hour
}

type PlanBudget struct {
	Plan             Plan
	ModelAccess      []Mode
	MonthlyBudgetUSD float64
	Credits          CreditPolicy
}

func (b PlanBudget) Allows(mode Mode) bool {
	return slices.Contains(b.ModelAccess, mode)
}

func quote(raw string) string {
	return "\"" + raw + "\""
}

// ProviderSecretKey is where a provider API key lives in the secret store.
func ProviderSecretKey(provider Provider) string {
	return "mailpilot/providers/" + string(provider) + "/api_key"
}
