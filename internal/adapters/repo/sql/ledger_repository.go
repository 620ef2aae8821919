package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	lockShare  = "SHARE"
	lockUpdate = "UPDATE"
)

type LedgerRepository struct {
	db *gorm.DB
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Get reads the entry and its records in one transaction with the entry row
// share-locked, so a concurrent Update is seen entirely or not at all.
func (r *LedgerRepository) Get(ctx context.Context, userID domain.UserID) (domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := loadEntry(tx, userID, lockShare)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	return out, nil
}

// Save replaces the entry and its records in one transaction.
func (r *LedgerRepository) Save(ctx context.Context, entry domain.LedgerEntry) error {
	_, err := r.Update(ctx, entry.UserID, func(domain.LedgerEntry) (domain.LedgerEntry, error) {
		return entry, nil
	})
	return err
}

// Update claims the user's row, locks it for update and applies fn inside
// the same transaction. Writers on other connections or processes wait for
// the commit and then read the new entry.
func (r *LedgerRepository) Update(ctx context.Context, userID domain.UserID, fn ports.LedgerUpdate) (domain.LedgerEntry, error) {
	var stored domain.LedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := ledgerEntryModel{UserID: string(userID), UpdatedAt: time.Unix(0, 0).UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim).Error; err != nil {
			return fmt.Errorf("claim ledger entry: %w", err)
		}

		current, err := loadEntry(tx, userID, lockUpdate)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		next.UserID = userID

		if err := writeEntry(tx, next); err != nil {
			return fmt.Errorf("save ledger entry: %w", err)
		}
		stored = next
		return nil
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	return stored, nil
}

func loadEntry(tx *gorm.DB, userID domain.UserID, strength string) (domain.LedgerEntry, error) {
	var entry ledgerEntryModel
	err := tx.Clauses(clause.Locking{Strength: strength}).
		Where("user_id = ?", string(userID)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("load ledger entry: %w", err)
	}

	var records []usageRecordModel
	if err := tx.Where("user_id = ?", string(userID)).Order("at asc, id asc").Find(&records).Error; err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("load usage records: %w", err)
	}

	out := domain.LedgerEntry{
		UserID:      userID,
		Records:     make([]domain.UsageRecord, 0, len(records)),
		BudgetMonth: entry.BudgetMonth,
		SpentUSD:    entry.SpentUSD,
		UpdatedAt:   entry.UpdatedAt.UTC(),
	}
	for _, record := range records {
		out.Records = append(out.Records, domain.UsageRecord{At: record.At.UTC(), Credits: record.Credits, CostUSD: record.CostUSD})
	}

	return out, nil
}

func writeEntry(tx *gorm.DB, entry domain.LedgerEntry) error {
	model := ledgerEntryModel{
		UserID:      string(entry.UserID),
		BudgetMonth: entry.BudgetMonth,
		SpentUSD:    entry.SpentUSD,
		UpdatedAt:   entry.UpdatedAt.UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return err
	}

	if err := tx.Where("user_id = ?", model.UserID).Delete(&usageRecordModel{}).Error; err != nil {
		return err
	}
	if len(entry.Records) == 0 {
		return nil
	}

	records := make([]usageRecordModel, 0, len(entry.Records))
	for _, record := range entry.Records {
		records = append(records, usageRecordModel{
			UserID:  model.UserID,
			At:      record.At.UTC(),
			Credits: record.Credits,
			CostUSD: record.CostUSD,
		})
	}
	return tx.Create(&records).Error
}
