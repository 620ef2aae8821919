// Package memory keeps ledger entries and sessions in process memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
)

type LedgerRepository struct {
	mu      sync.RWMutex
	entries map[domain.UserID]domain.LedgerEntry
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{entries: map[domain.UserID]domain.LedgerEntry{}}
}

func (r *LedgerRepository) Get(ctx context.Context, userID domain.UserID) (domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerEntry{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
	}
	entry.Records = slices.Clone(entry.Records)
	return entry, nil
}

func (r *LedgerRepository) Save(ctx context.Context, entry domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Records = slices.Clone(entry.Records)
	r.entries[entry.UserID] = entry
	return nil
}

func (r *LedgerRepository) Update(ctx context.Context, userID domain.UserID, fn ports.LedgerUpdate) (domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerEntry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	if !ok {
		current = domain.LedgerEntry{UserID: userID}
	}
	current.Records = slices.Clone(current.Records)

	next, err := fn(current)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	next.UserID = userID
	next.Records = slices.Clone(next.Records)
	r.entries[userID] = next

	next.Records = slices.Clone(next.Records)
	return next, nil
}
