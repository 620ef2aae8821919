package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqpevents "github.com/bnema/mailpilot/internal/adapters/events/amqp"
	envdetector "github.com/bnema/mailpilot/internal/adapters/providers/env"
	"github.com/bnema/mailpilot/internal/adapters/repo/memory"
	sqlrepo "github.com/bnema/mailpilot/internal/adapters/repo/sql"
	tomlrepo "github.com/bnema/mailpilot/internal/adapters/repo/toml"
	chainstore "github.com/bnema/mailpilot/internal/adapters/secrets/chain"
	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/config"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ledger"
	"github.com/bnema/mailpilot/internal/logging"
	"github.com/bnema/mailpilot/internal/moderation"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/bnema/mailpilot/internal/workflow"
)

type app struct {
	cfg       *config.Config
	admission *application.AdmissionService
	providers *application.ProviderService
	identity  func() (domain.User, error)
	now       func() time.Time
	closers   []func() error
}

type repositories struct {
	ledger   ports.LedgerRepository
	sessions ports.SessionRepository
	close    func() error
}

func wireApp() (*app, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	rules, err := cfg.ModerationRules()
	if err != nil {
		return nil, err
	}
	moderator, err := moderation.NewModerator(rules)
	if err != nil {
		return nil, fmt.Errorf("build moderator: %w", err)
	}

	repos, err := openRepositories(cfg)
	if err != nil {
		return nil, err
	}

	secretStore, err := chainstore.Open(cfg.Secrets.Backend, cfg.Secrets.Dir)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("wire secret store: %w", err), repos.close())
	}

	detector := envdetector.NewDetector(
		envdetector.WithEnvFile(cfg.Providers.EnvFile),
		envdetector.WithSecretStore(secretStore),
	)

	a := &app{
		cfg:     cfg,
		now:     time.Now,
		closers: []func() error{repos.close},
	}

	var publisher ports.DecisionPublisher
	if strings.TrimSpace(cfg.Events.AMQPURL) != "" {
		p, err := amqpevents.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("wire decision publisher: %w", err), a.close())
		}
		async := amqpevents.NewAsync(p, cfg.Events.QueueSize)
		publisher = async
		// Closers run in reverse, so the queue drains before the channel closes.
		a.closers = append(a.closers, p.Close, async.Close)
	}

	clock := ports.SystemClock{}
	a.admission = application.NewAdmissionService(application.AdmissionDeps{
		Moderator: moderator,
		Catalog:   cat,
		Ledger:    ledger.New(repos.ledger, cat, clock),
		Workflow:  workflow.NewStore(repos.sessions, clock, cfg.Workflow.InactivityCeiling),
		Providers: detector,
		Publisher: publisher,
		Clock:     clock,
	})
	a.providers = application.NewProviderService(secretStore, detector)

	return a, nil
}

func openRepositories(cfg *config.Config) (repositories, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverMemory:
		return repositories{
			ledger:   memory.NewLedgerRepository(),
			sessions: memory.NewSessionRepository(),
			close:    noop,
		}, nil
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		dsn := cfg.Store.DSN
		if cfg.Store.Driver == config.DriverSQLite && strings.TrimSpace(dsn) == "" {
			if err := os.MkdirAll(cfg.Store.Dir, 0o700); err != nil {
				return repositories{}, fmt.Errorf("create store dir: %w", err)
			}
			dsn = filepath.Join(cfg.Store.Dir, "mailpilot.db")
		}
		db, err := sqlrepo.Open(cfg.Store.Driver, dsn)
		if err != nil {
			return repositories{}, fmt.Errorf("wire %s store: %w", cfg.Store.Driver, err)
		}
		return repositories{
			ledger:   sqlrepo.NewLedgerRepository(db),
			sessions: sqlrepo.NewSessionRepository(db),
			close:    func() error { return sqlrepo.Close(db) },
		}, nil
	default:
		ledgerRepo, err := tomlrepo.NewLedgerRepository(cfg.Viper())
		if err != nil {
			return repositories{}, fmt.Errorf("wire ledger repository: %w", err)
		}
		sessionRepo, err := tomlrepo.NewSessionRepository(cfg.Viper())
		if err != nil {
			return repositories{}, fmt.Errorf("wire session repository: %w", err)
		}
		return repositories{ledger: ledgerRepo, sessions: sessionRepo, close: noop}, nil
	}
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) user() (domain.User, error) {
	if a.identity == nil {
		return domain.User{}, domain.ErrUnauthenticated
	}
	return a.identity()
}

func parseIdentity(userID string, plan string) (domain.User, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.User{}, fmt.Errorf("%w: pass --user or set %s", domain.ErrUnauthenticated, envUser)
	}

	parsed, err := domain.ParsePlan(plan)
	if err != nil {
		return domain.User{}, err
	}

	return domain.User{ID: domain.UserID(id), Plan: parsed}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
