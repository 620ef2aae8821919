// Package catalog resolves which model serves a mode for a plan.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/mailpilot/internal/domain"
)

// Catalog is immutable after New and safe for concurrent use.
type Catalog struct {
	registry []domain.ModelDescriptor
	plans    map[domain.Plan]domain.PlanBudget
	prices   map[domain.Mode]domain.Charge
}

func New(registry []domain.ModelDescriptor, plans []domain.PlanBudget, prices map[domain.Mode]domain.Charge) (*Catalog, error) {
	var errs []error
	for i, model := range registry {
		if strings.TrimSpace(model.ID) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id is empty", i))
		}
		if !slices.Contains(domain.Modes, model.Mode) {
			errs = append(errs, fmt.Errorf("models[%d]: unknown mode %q", i, model.Mode))
		}
		if !slices.Contains(domain.Providers, model.Provider) {
			errs = append(errs, fmt.Errorf("models[%d]: unknown provider %q", i, model.Provider))
		}
	}

	planIndex := make(map[domain.Plan]domain.PlanBudget, len(plans))
	for _, plan := range plans {
		if plan.Plan == "" {
			errs = append(errs, errors.New("plan name is empty"))
			continue
		}
		if _, dup := planIndex[plan.Plan]; dup {
			errs = append(errs, fmt.Errorf("plan %q declared twice", plan.Plan))
		}
		if plan.MonthlyBudgetUSD < 0 {
			errs = append(errs, fmt.Errorf("plan %q: monthly budget must be >= 0, got %v", plan.Plan, plan.MonthlyBudgetUSD))
		}
		if plan.Credits.Limited && (plan.Credits.MaxCredits < 0 || plan.Credits.WindowHours <= 0) {
			errs = append(errs, fmt.Errorf("plan %q: limited plans need max_credits >= 0 and window_hours > 0", plan.Plan))
		}
		for _, mode := range plan.ModelAccess {
			if !slices.Contains(domain.Modes, mode) {
				errs = append(errs, fmt.Errorf("plan %q: unknown mode %q", plan.Plan, mode))
			}
		}
		planIndex[plan.Plan] = clonePlan(plan)
	}
	if len(planIndex) == 0 {
		errs = append(errs, errors.New("no plans configured"))
	}

	priceIndex := make(map[domain.Mode]domain.Charge, len(domain.Modes))
	for _, mode := range domain.Modes {
		price, ok := prices[mode]
		if !ok {
			errs = append(errs, fmt.Errorf("mode %q has no price", mode))
			continue
		}
		if price.Credits < 0 || price.CostUSD < 0 {
			errs = append(errs, fmt.Errorf("mode %q: price must be >= 0", mode))
		}
		priceIndex[mode] = price
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}

	return &Catalog{
		registry: slices.Clone(registry),
		plans:    planIndex,
		prices:   priceIndex,
	}, nil
}

func Default() *Catalog {
	c, err := New(DefaultRegistry(), DefaultPlans(), DefaultPrices())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Plan(plan domain.Plan) (domain.PlanBudget, error) {
	budget, ok := c.plans[plan]
	if !ok {
		return domain.PlanBudget{}, domain.NewValidationError("plan", fmt.Sprintf("unknown plan %q", plan))
	}
	return clonePlan(budget), nil
}

func (c *Catalog) Price(mode domain.Mode) (domain.Charge, error) {
	price, ok := c.prices[mode]
	if !ok {
		return domain.Charge{}, domain.NewValidationError("mode", fmt.Sprintf("unknown mode %q", mode))
	}
	return price, nil
}

func (c *Catalog) Registry() []domain.ModelDescriptor {
	return slices.Clone(c.registry)
}

// AvailableModes reports every mode in declaration order. The result depends
// only on the arguments and the registry.
func (c *Catalog) AvailableModes(plan domain.Plan, configured domain.ProviderSet) ([]domain.ModeAvailability, error) {
	budget, err := c.Plan(plan)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ModeAvailability, 0, len(domain.Modes))
	for _, mode := range domain.Modes {
		out = append(out, domain.NewModeAvailability(mode, !budget.Allows(mode), c.firstConfigured(mode, configured)))
	}
	return out, nil
}

func (c *Catalog) SelectModel(mode domain.Mode, plan domain.Plan, configured domain.ProviderSet) (domain.ModelDescriptor, error) {
	budget, err := c.Plan(plan)
	if err != nil {
		return domain.ModelDescriptor{}, err
	}
	if !slices.Contains(domain.Modes, mode) {
		return domain.ModelDescriptor{}, domain.NewValidationError("mode", fmt.Sprintf("unknown mode %q", mode))
	}
	if !budget.Allows(mode) {
		return domain.ModelDescriptor{}, fmt.Errorf("select %s for %s: %w", mode, plan, domain.ErrModeLocked)
	}

	model := c.firstConfigured(mode, configured)
	if model == nil {
		return domain.ModelDescriptor{}, fmt.Errorf("select %s for %s: %w", mode, plan, domain.ErrProviderUnavailable)
	}
	return *model, nil
}

// FallbackModes lists modes the plan may use right now, excluding one.
func (c *Catalog) FallbackModes(plan domain.Plan, configured domain.ProviderSet, exclude domain.Mode) []domain.Mode {
	modes, err := c.AvailableModes(plan, configured)
	if err != nil {
		return nil
	}

	out := make([]domain.Mode, 0, len(modes))
	for _, availability := range modes {
		if availability.Mode == exclude || availability.Locked || !availability.Available {
			continue
		}
		out = append(out, availability.Mode)
	}
	return out
}

func (c *Catalog) firstConfigured(mode domain.Mode, configured domain.ProviderSet) *domain.ModelDescriptor {
	for i := range c.registry {
		if c.registry[i].Mode == mode && configured.Has(c.registry[i].Provider) {
			model := c.registry[i]
			return &model
		}
	}
	return nil
}

func clonePlan(plan domain.PlanBudget) domain.PlanBudget {
	plan.ModelAccess = slices.Clone(plan.ModelAccess)
	return plan
}
