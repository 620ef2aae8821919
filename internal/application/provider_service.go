package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/rs/zerolog/log"
)

// ProviderService manages provider API keys in the secret store.
type ProviderService struct {
	store    ports.SecretStore
	detector ports.ProviderDetector
}

func NewProviderService(store ports.SecretStore, detector ports.ProviderDetector) *ProviderService {
	return &ProviderService{store: store, detector: detector}
}

func (s *ProviderService) SetKey(ctx context.Context, provider domain.Provider, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.NewValidationError("api_key", "is empty")
	}

	key := domain.ProviderSecretKey(provider)
	if err := s.store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("store provider key: %w", err)
	}

	log.Info().Str("provider", string(provider)).Msg("provider key stored")
	return nil
}

func (s *ProviderService) RemoveKey(ctx context.Context, provider domain.Provider) error {
	if err := s.store.Delete(ctx, domain.ProviderSecretKey(provider)); err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}

	log.Info().Str("provider", string(provider)).Msg("provider key removed")
	return nil
}

func (s *ProviderService) List(ctx context.Context) ([]ProviderStatus, error) {
	configured, err := s.detector.Configured(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect providers: %w", err)
	}

	out := make([]ProviderStatus, 0, len(domain.Providers))
	for _, provider := range domain.Providers {
		out = append(out, ProviderStatus{Provider: provider, Configured: configured.Has(provider)})
	}
	return out, nil
}
