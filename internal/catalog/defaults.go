package catalog

import "github.com/bnema/mailpilot/internal/domain"

// DefaultRegistry lists models per mode in provider priority order.
func DefaultRegistry() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{ID: "gpt-4o-mini", Label: "GPT-4o mini", Provider: domain.ProviderOpenAI, Mode: domain.ModeFast},
		{ID: "claude-3-5-haiku-latest", Label: "Claude Haiku", Provider: domain.ProviderAnthropic, Mode: domain.ModeFast},
		{ID: "gemini-2.0-flash", Label: "Gemini Flash", Provider: domain.ProviderGoogle, Mode: domain.ModeFast},
		{ID: "mistral-small-latest", Label: "Mistral Small", Provider: domain.ProviderMistral, Mode: domain.ModeFast},

		{ID: "claude-sonnet-4-0", Label: "Claude Sonnet", Provider: domain.ProviderAnthropic, Mode: domain.ModeBoost},
		{ID: "gpt-4o", Label: "GPT-4o", Provider: domain.ProviderOpenAI, Mode: domain.ModeBoost},
		{ID: "mistral-medium-latest", Label: "Mistral Medium", Provider: domain.ProviderMistral, Mode: domain.ModeBoost},

		{ID: "claude-opus-4-0", Label: "Claude Opus", Provider: domain.ProviderAnthropic, Mode: domain.ModeMax},
		{ID: "o3", Label: "OpenAI o3", Provider: domain.ProviderOpenAI, Mode: domain.ModeMax},
		{ID: "gemini-2.5-pro", Label: "Gemini Pro", Provider: domain.ProviderGoogle, Mode: domain.ModeMax},
	}
}

func DefaultPlans() []domain.PlanBudget {
	return []domain.PlanBudget{
		{
			Plan:             domain.PlanFree,
			ModelAccess:      []domain.Mode{domain.ModeFast},
			MonthlyBudgetUSD: 1,
			Credits:          domain.CreditPolicy{Limited: true, MaxCredits: 10, WindowHours: 24},
		},
		{
			Plan:             domain.PlanPro,
			ModelAccess:      []domain.Mode{domain.ModeFast, domain.ModeBoost, domain.ModeMax},
			MonthlyBudgetUSD: 20,
			Credits:          domain.CreditPolicy{Limited: true, MaxCredits: 150, WindowHours: 5},
		},
		{
			Plan:             domain.PlanBusiness,
			ModelAccess:      []domain.Mode{domain.ModeFast, domain.ModeBoost, domain.ModeMax},
			MonthlyBudgetUSD: 200,
			Credits:          domain.CreditPolicy{Limited: false},
		},
	}
}

func DefaultPrices() map[domain.Mode]domain.Charge {
	return map[domain.Mode]domain.Charge{
		domain.ModeFast:  {Credits: 1, CostUSD: 0.002},
		domain.ModeBoost: {Credits: 3, CostUSD: 0.01},
		domain.ModeMax:   {Credits: 8, CostUSD: 0.05},
	}
}
