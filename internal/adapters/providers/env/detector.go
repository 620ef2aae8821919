// Package env detects which model providers have credentials, looking at the
// process environment, an optional .env file and the secret store.
package env

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Variables lists the environment variables accepted for each provider.
var Variables = map[domain.Provider][]string{
	domain.ProviderOpenAI:    {"OPENAI_API_KEY"},
	domain.ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	domain.ProviderGoogle:    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	domain.ProviderMistral:   {"MISTRAL_API_KEY"},
}

type Detector struct {
	envFile string
	secrets ports.SecretStore
	lookup  func(string) (string, bool)
}

var _ ports.ProviderDetector = (*Detector)(nil)

type Option func(*Detector)

// WithEnvFile adds a dotenv file as a credential source. A missing file is
// not an error.
func WithEnvFile(path string) Option {
	return func(d *Detector) {
		d.envFile = strings.TrimSpace(path)
	}
}

// WithSecretStore adds keys saved through `mp provider set`.
func WithSecretStore(store ports.SecretStore) Option {
	return func(d *Detector) {
		d.secrets = store
	}
}

func withLookup(lookup func(string) (string, bool)) Option {
	return func(d *Detector) {
		d.lookup = lookup
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) Configured(ctx context.Context) (domain.ProviderSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fileValues, err := d.readEnvFile()
	if err != nil {
		return nil, err
	}

	set := domain.NewProviderSet()
	for _, provider := range domain.Providers {
		source, err := d.sourceOf(ctx, provider, fileValues)
		if err != nil {
			return nil, err
		}
		if source == "" {
			continue
		}

		set[provider] = struct{}{}
		log.Debug().Str("provider", string(provider)).Str("source", source).Msg("provider configured")
	}

	return set, nil
}

func (d *Detector) sourceOf(ctx context.Context, provider domain.Provider, fileValues map[string]string) (string, error) {
	for _, name := range Variables[provider] {
		if value, ok := d.lookup(name); ok && strings.TrimSpace(value) != "" {
			return "env", nil
		}
		if strings.TrimSpace(fileValues[name]) != "" {
			return "env_file", nil
		}
	}

	if d.secrets == nil {
		return "", nil
	}

	value, err := d.secrets.Get(ctx, domain.ProviderSecretKey(provider))
	switch {
	case err == nil && strings.TrimSpace(value) != "":
		return "secret_store", nil
	case err == nil, errors.Is(err, domain.ErrSecretNotFound):
		return "", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	default:
		// An unreadable store means the key cannot be used; treat the
		// provider as unconfigured rather than failing every request.
		log.Warn().Err(err).Str("provider", string(provider)).Msg("read provider key")
		return "", nil
	}
}

func (d *Detector) readEnvFile() (map[string]string, error) {
	if d.envFile == "" {
		return nil, nil
	}

	values, err := godotenv.Read(d.envFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", d.envFile, err)
	}
	return values, nil
}
