package toml

import (
	"context"
	"sync"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/spf13/viper"
)

type LedgerRepository struct {
	path string
	mu   *sync.RWMutex
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

func NewLedgerRepository(cfg *viper.Viper) (*LedgerRepository, error) {
	path, err := resolvePath(cfg, LedgerPathKey, ledgerFile)
	if err != nil {
		return nil, err
	}

	return &LedgerRepository{path: path, mu: lockForPath(path)}, nil
}

func (r *LedgerRepository) Path() string {
	return r.path
}

func (r *LedgerRepository) Get(ctx context.Context, userID domain.UserID) (domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerEntry{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	for _, entry := range file.Entries {
		if entry.UserID == string(userID) {
			return ledgerFromSchema(entry)
		}
	}

	return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
}

func (r *LedgerRepository) Save(ctx context.Context, entry domain.LedgerEntry) error {
	_, err := r.Update(ctx, entry.UserID, func(domain.LedgerEntry) (domain.LedgerEntry, error) {
		return entry, nil
	})
	return err
}

// Update runs fn under the ledger file lock, so the entry cannot change
// between the read and the rename.
func (r *LedgerRepository) Update(ctx context.Context, userID domain.UserID, fn ports.LedgerUpdate) (domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerEntry{}, err
	}

	unlock, err := lockForWrite(ctx, r.mu, r.path)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer unlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	index := -1
	current := domain.LedgerEntry{UserID: userID}
	for i, entry := range file.Entries {
		if entry.UserID != string(userID) {
			continue
		}
		index = i
		if current, err = ledgerFromSchema(entry); err != nil {
			return domain.LedgerEntry{}, err
		}
		break
	}

	next, err := fn(current)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	next.UserID = userID

	encoded := ledgerToSchema(next)
	if index >= 0 {
		file.Entries[index] = encoded
	} else {
		file.Entries = append(file.Entries, encoded)
	}

	if err := ctx.Err(); err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := writeTOMLFile(r.path, file); err != nil {
		return domain.LedgerEntry{}, err
	}

	return next, nil
}

func (r *LedgerRepository) readSchema() (ledgerFileSchema, error) {
	var file ledgerFileSchema
	if err := readTOMLFile(r.path, &file); err != nil {
		return ledgerFileSchema{}, err
	}
	if err := validateVersion("ledger", file.Version); err != nil {
		return ledgerFileSchema{}, err
	}
	applyVersionDefault(&file.Version)

	return file, nil
}

func ledgerToSchema(entry domain.LedgerEntry) ledgerEntrySchema {
	records := make([]usageRecordSchema, 0, len(entry.Records))
	for _, record := range entry.Records {
		records = append(records, usageRecordSchema{
			At:      formatTime(record.At),
			Credits: record.Credits,
			CostUSD: record.CostUSD,
		})
	}

	return ledgerEntrySchema{
		UserID:      string(entry.UserID),
		BudgetMonth: entry.BudgetMonth,
		SpentUSD:    entry.SpentUSD,
		UpdatedAt:   formatTime(entry.UpdatedAt),
		Records:     records,
	}
}

func ledgerFromSchema(entry ledgerEntrySchema) (domain.LedgerEntry, error) {
	updatedAt, err := parseTime(entry.UpdatedAt)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	records := make([]domain.UsageRecord, 0, len(entry.Records))
	for _, record := range entry.Records {
		at, err := parseTime(record.At)
		if err != nil {
			return domain.LedgerEntry{}, err
		}
		records = append(records, domain.UsageRecord{At: at, Credits: record.Credits, CostUSD: record.CostUSD})
	}

	return domain.LedgerEntry{
		UserID:      domain.UserID(entry.UserID),
		Records:     records,
		BudgetMonth: entry.BudgetMonth,
		SpentUSD:    entry.SpentUSD,
		UpdatedAt:   updatedAt,
	}, nil
}
