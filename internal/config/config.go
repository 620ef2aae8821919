// Package config loads mp settings from ~/.mailpilot/config.toml and
// MAILPILOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bnema/mailpilot/internal/catalog"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/moderation"
	"github.com/bnema/mailpilot/internal/workflow"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "MAILPILOT"
	DefaultDirName = ".mailpilot"
	configName     = "config"
	configType     = "toml"
)

const (
	DriverTOML     = "toml"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	Store      StoreConfig           `mapstructure:"store"`
	Workflow   WorkflowConfig        `mapstructure:"workflow"`
	Moderation ModerationConfig      `mapstructure:"moderation"`
	Providers  ProvidersConfig       `mapstructure:"providers"`
	Secrets    SecretsConfig         `mapstructure:"secrets"`
	Log        LogConfig             `mapstructure:"log"`
	HTTP       HTTPConfig            `mapstructure:"http"`
	Events     EventsConfig          `mapstructure:"events"`
	Plans      map[string]PlanConfig `mapstructure:"plans"`
	Modes      map[string]ModeConfig `mapstructure:"modes"`
	Models     []ModelConfig         `mapstructure:"models"`

	viper *viper.Viper
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	DSN    string `mapstructure:"dsn"`
}

type WorkflowConfig struct {
	InactivityCeiling time.Duration `mapstructure:"inactivity_ceiling"`
}

type ModerationConfig struct {
	RulesPath      string `mapstructure:"rules_path"`
	MaxPromptRunes int    `mapstructure:"max_prompt_runes"`
}

type ProvidersConfig struct {
	EnvFile string `mapstructure:"env_file"`
}

type SecretsConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type EventsConfig struct {
	AMQPURL   string `mapstructure:"amqp_url"`
	Exchange  string `mapstructure:"exchange"`
	QueueSize int    `mapstructure:"queue_size"`
}

type PlanConfig struct {
	ModelAccess      []string `mapstructure:"model_access"`
	MonthlyBudgetUSD float64  `mapstructure:"monthly_budget_usd"`
	Limited          bool     `mapstructure:"limited"`
	MaxCredits       int      `mapstructure:"max_credits"`
	WindowHours      int      `mapstructure:"window_hours"`
}

type ModeConfig struct {
	Credits int     `mapstructure:"credits"`
	CostUSD float64 `mapstructure:"cost_usd"`
}

type ModelConfig struct {
	ID       string `mapstructure:"id"`
	Label    string `mapstructure:"label"`
	Provider string `mapstructure:"provider"`
	Mode     string `mapstructure:"mode"`
}

// Load reads the config file from dir (the default data directory when empty)
// and applies environment overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}

	v := viper.New()
	setDefaults(v, dir)
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{viper: v}
	if err := decode(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("store.driver", DriverTOML)
	v.SetDefault("store.dir", dir)
	v.SetDefault("store.dsn", "")
	v.SetDefault("workflow.inactivity_ceiling", workflow.DefaultInactivityCeiling)
	v.SetDefault("moderation.rules_path", "")
	v.SetDefault("moderation.max_prompt_runes", 0)
	v.SetDefault("providers.env_file", "")
	v.SetDefault("secrets.backend", "auto")
	v.SetDefault("secrets.dir", filepath.Join(dir, "secrets"))
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("http.listen", "127.0.0.1:8080")
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "mailpilot.decisions")
	v.SetDefault("events.queue_size", 256)
}

func decode(v *viper.Viper, cfg *Config) error {
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return nil
}

// Viper exposes the underlying settings for adapters keyed by viper paths.
func (c *Config) Viper() *viper.Viper {
	return c.viper
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverTOML, DriverMemory, DriverSQLite:
	case DriverPostgres, DriverMySQL:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of toml, memory, sqlite, postgres, mysql, got %q", c.Store.Driver)
	}
	if c.Workflow.InactivityCeiling <= 0 {
		return fmt.Errorf("workflow.inactivity_ceiling must be > 0, got %s", c.Workflow.InactivityCeiling)
	}
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("events.queue_size must be >= 0, got %d", c.Events.QueueSize)
	}
	if c.Moderation.MaxPromptRunes < 0 {
		return fmt.Errorf("moderation.max_prompt_runes must be >= 0, got %d", c.Moderation.MaxPromptRunes)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	for name, mode := range c.Modes {
		if mode.Credits < 0 {
			return fmt.Errorf("modes.%s.credits must be >= 0, got %d", name, mode.Credits)
		}
		if mode.CostUSD < 0 {
			return fmt.Errorf("modes.%s.cost_usd must be >= 0, got %f", name, mode.CostUSD)
		}
	}
	for name, plan := range c.Plans {
		if plan.MonthlyBudgetUSD < 0 {
			return fmt.Errorf("plans.%s.monthly_budget_usd must be >= 0, got %f", name, plan.MonthlyBudgetUSD)
		}
		if plan.Limited && plan.MaxCredits <= 0 {
			return fmt.Errorf("plans.%s.max_credits must be > 0 for a limited plan, got %d", name, plan.MaxCredits)
		}
		if plan.Limited && plan.WindowHours <= 0 {
			return fmt.Errorf("plans.%s.window_hours must be > 0 for a limited plan, got %d", name, plan.WindowHours)
		}
	}
	return nil
}

// Catalog builds the model catalog. Sections left out of the config keep the
// built-in registry, plans and prices.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	registry := catalog.DefaultRegistry()
	if len(c.Models) > 0 {
		registry = make([]domain.ModelDescriptor, 0, len(c.Models))
		for i, model := range c.Models {
			provider, err := domain.ParseProvider(model.Provider)
			if err != nil {
				return nil, fmt.Errorf("models[%d]: %w", i, err)
			}
			mode, err := domain.ParseMode(model.Mode)
			if err != nil {
				return nil, fmt.Errorf("models[%d]: %w", i, err)
			}
			registry = append(registry, domain.ModelDescriptor{ID: model.ID, Label: model.Label, Provider: provider, Mode: mode})
		}
	}

	plans := catalog.DefaultPlans()
	if len(c.Plans) > 0 {
		plans = make([]domain.PlanBudget, 0, len(c.Plans))
		for _, name := range sortedKeys(c.Plans) {
			budget, err := c.Plans[name].budget(name)
			if err != nil {
				return nil, err
			}
			plans = append(plans, budget)
		}
	}

	prices := catalog.DefaultPrices()
	for name, mode := range c.Modes {
		parsed, err := domain.ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("modes.%s: %w", name, err)
		}
		prices[parsed] = domain.Charge{Credits: mode.Credits, CostUSD: mode.CostUSD}
	}

	cat, err := catalog.New(registry, plans, prices)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return cat, nil
}

func (p PlanConfig) budget(name string) (domain.PlanBudget, error) {
	plan, err := domain.ParsePlan(name)
	if err != nil {
		return domain.PlanBudget{}, err
	}

	access := make([]domain.Mode, 0, len(p.ModelAccess))
	for _, raw := range p.ModelAccess {
		mode, err := domain.ParseMode(raw)
		if err != nil {
			return domain.PlanBudget{}, fmt.Errorf("plans.%s.model_access: %w", name, err)
		}
		access = append(access, mode)
	}

	return domain.PlanBudget{
		Plan:             plan,
		ModelAccess:      access,
		MonthlyBudgetUSD: p.MonthlyBudgetUSD,
		Credits: domain.CreditPolicy{
			Limited:     p.Limited,
			MaxCredits:  p.MaxCredits,
			WindowHours: p.WindowHours,
		},
	}, nil
}

// ModerationRules loads the rules file when one is configured and applies the
// prompt length override.
func (c *Config) ModerationRules() (moderation.Rules, error) {
	rules := moderation.DefaultRules()
	if c.Moderation.RulesPath != "" {
		loaded, err := moderation.LoadRules(c.Moderation.RulesPath)
		if err != nil {
			return moderation.Rules{}, err
		}
		rules = loaded
	}
	if c.Moderation.MaxPromptRunes > 0 {
		rules.MaxPromptRunes = c.Moderation.MaxPromptRunes
	}
	if err := rules.Validate(); err != nil {
		return moderation.Rules{}, err
	}
	return rules, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
