// Package chain combines two secret stores: reads and writes go to the primary
// and fall back to the secondary when the primary fails.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	filestore "github.com/bnema/mailpilot/internal/adapters/secrets/file"
	passstore "github.com/bnema/mailpilot/internal/adapters/secrets/pass"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
)

const (
	BackendAuto = "auto"
	BackendPass = "pass"
	BackendFile = "file"
)

type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{primary: primary, fallback: fallback}, nil
}

func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(fileRoot))
}

// Open builds the store named by backend. fileRoot is used by the file
// backend and by the auto fallback.
func Open(backend string, fileRoot string) (ports.SecretStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		return NewPassFirstWithFileFallback(fileRoot)
	case BackendPass:
		return passstore.NewStore(), nil
	case BackendFile:
		return filestore.NewStore(fileRoot), nil
	default:
		return nil, domain.NewValidationError("secrets.backend", fmt.Sprintf("unknown backend %q", backend))
	}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}

	fallbackValue, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}

	if errors.Is(fallbackErr, domain.ErrSecretNotFound) && (errors.Is(err, domain.ErrSecretNotFound) || errors.Is(err, passstore.ErrUnavailable)) {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	}

	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %w", err, fallbackErr)
}

// Delete removes the key from both backends so a stale copy in the fallback
// cannot resurface on the next Get.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	switch {
	case err == nil || errors.Is(err, passstore.ErrUnavailable):
		return fallbackErr
	case fallbackErr == nil:
		return err
	default:
		return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
	}
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
