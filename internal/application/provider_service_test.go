package application

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySecrets struct {
	values map[string]string
	err    error
}

func (m *memorySecrets) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	value, ok := m.values[key]
	if !ok {
		return "", domain.ErrSecretNotFound
	}
	return value, nil
}

func (m *memorySecrets) Put(_ context.Context, key string, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func (m *memorySecrets) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.values, key)
	return nil
}

type secretsDetector struct {
	store *memorySecrets
}

func (d secretsDetector) Configured(ctx context.Context) (domain.ProviderSet, error) {
	set := domain.NewProviderSet()
	for _, provider := range domain.Providers {
		if _, err := d.store.Get(ctx, domain.ProviderSecretKey(provider)); err == nil {
			set[provider] = struct{}{}
		}
	}
	return set, nil
}

func TestProviderServiceSetListRemove(t *testing.T) {
	t.Parallel()

	store := &memorySecrets{values: map[string]string{}}
	service := NewProviderService(store, secretsDetector{store: store})

	require.NoError(t, service.SetKey(context.Background(), domain.ProviderAnthropic, "  sk-ant-123\n"))
	assert.Equal(t, "sk-ant-123", store.values["mailpilot/providers/anthropic/api_key"])

	statuses, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, len(domain.Providers))
	assert.Equal(t, ProviderStatus{Provider: domain.ProviderOpenAI, Configured: false}, statuses[0])
	assert.Equal(t, ProviderStatus{Provider: domain.ProviderAnthropic, Configured: true}, statuses[1])

	require.NoError(t, service.RemoveKey(context.Background(), domain.ProviderAnthropic))
	assert.Empty(t, store.values)
}

func TestProviderServiceRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store := &memorySecrets{values: map[string]string{}}
	service := NewProviderService(store, secretsDetector{store: store})

	err := service.SetKey(context.Background(), domain.ProviderOpenAI, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, store.values)
}

func TestProviderServiceWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	store := &memorySecrets{values: map[string]string{}, err: errors.New("pass unavailable")}
	service := NewProviderService(store, secretsDetector{store: store})

	err := service.SetKey(context.Background(), domain.ProviderOpenAI, "sk-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "store provider key: pass unavailable")

	err = service.RemoveKey(context.Background(), domain.ProviderOpenAI)
	assert.ErrorContains(t, err, "delete provider key")
}
