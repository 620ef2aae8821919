package ports

import (
	"context"

	"github.com/bnema/mailpilot/internal/domain"
)

// LedgerUpdate receives the stored entry, or an empty entry for the user when
// none exists, and returns the entry to store. An error aborts the update and
// is returned unchanged.
type LedgerUpdate func(current domain.LedgerEntry) (domain.LedgerEntry, error)

// LedgerRepository stores one entry per user. Get returns
// domain.ErrLedgerEntryNotFound for users that never spent anything.
//
// Update is the only read-modify-write path: implementations hold the user's
// entry exclusively, across processes sharing the store, from the read to the
// write.
type LedgerRepository interface {
	Get(ctx context.Context, userID domain.UserID) (domain.LedgerEntry, error)
	Save(ctx context.Context, entry domain.LedgerEntry) error
	Update(ctx context.Context, userID domain.UserID, fn LedgerUpdate) (domain.LedgerEntry, error)
}
