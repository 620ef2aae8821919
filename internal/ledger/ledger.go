// Package ledger tracks per-user credit consumption over a rolling window and
// monetary spend per calendar month.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/keylock"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/rs/zerolog/log"
)

const usdEpsilon = 1e-9

type PlanSource interface {
	Plan(plan domain.Plan) (domain.PlanBudget, error)
}

type Ledger struct {
	repo  ports.LedgerRepository
	plans PlanSource
	clock ports.Clock
	locks *keylock.Map
}

func New(repo ports.LedgerRepository, plans PlanSource, clock ports.Clock) *Ledger {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Ledger{
		repo:  repo,
		plans: plans,
		clock: clock,
		locks: keylock.New(),
	}
}

// Snapshot reads without taking the user lock.
func (l *Ledger) Snapshot(ctx context.Context, userID domain.UserID, plan domain.Plan) (domain.CreditSnapshot, error) {
	budget, err := l.plans.Plan(plan)
	if err != nil {
		return domain.CreditSnapshot{}, err
	}

	entry, err := l.load(ctx, userID)
	if err != nil {
		return domain.CreditSnapshot{}, err
	}

	return snapshotOf(entry, budget, l.clock.Now()), nil
}

// Admit records charge against both budgets or returns a
// *domain.BudgetExhaustedError and leaves the entry untouched.
func (l *Ledger) Admit(ctx context.Context, userID domain.UserID, plan domain.Plan, charge domain.Charge) (domain.CreditSnapshot, error) {
	if userID == "" {
		return domain.CreditSnapshot{}, domain.ErrUnauthenticated
	}
	if charge.Credits < 0 || charge.CostUSD < 0 {
		return domain.CreditSnapshot{}, domain.NewValidationError("charge", "must be >= 0")
	}

	budget, err := l.plans.Plan(plan)
	if err != nil {
		return domain.CreditSnapshot{}, err
	}

	unlock := l.locks.Lock(string(userID))
	defer unlock()

	// Update holds the entry across processes from the read to the write.
	var current domain.CreditSnapshot
	var now time.Time
	stored, err := l.repo.Update(ctx, userID, func(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
		now = l.clock.Now()
		current = snapshotOf(entry, budget, now)
		if refusal := refuse(current, charge, now); refusal != nil {
			return domain.LedgerEntry{}, refusal
		}
		return charged(entry, budget, charge, now), nil
	})
	if err != nil {
		var refusal *domain.BudgetExhaustedError
		if errors.As(err, &refusal) {
			log.Debug().
				Str("user_id", string(userID)).
				Str("reason", string(refusal.Reason)).
				Msg("ledger admission refused")
			return current, refusal
		}
		return domain.CreditSnapshot{}, fmt.Errorf("update ledger entry: %w", err)
	}

	return snapshotOf(stored, budget, now), nil
}

func (l *Ledger) load(ctx context.Context, userID domain.UserID) (domain.LedgerEntry, error) {
	entry, err := l.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerEntryNotFound) {
			return domain.LedgerEntry{UserID: userID}, nil
		}
		return domain.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func refuse(current domain.CreditSnapshot, charge domain.Charge, now time.Time) *domain.BudgetExhaustedError {
	if current.Limited {
		remaining := *current.RemainingCredits
		if remaining == 0 || charge.Credits > remaining {
			return &domain.BudgetExhaustedError{Reason: domain.BudgetReasonCredits, ResetAt: current.ResetAt}
		}
	}

	if charge.CostUSD-current.RemainingBudgetUSD > usdEpsilon {
		resetAt := nextMonth(now)
		return &domain.BudgetExhaustedError{Reason: domain.BudgetReasonMonthly, ResetAt: &resetAt}
	}

	return nil
}

func charged(entry domain.LedgerEntry, budget domain.PlanBudget, charge domain.Charge, now time.Time) domain.LedgerEntry {
	month := domain.BudgetMonthOf(now)
	next := domain.LedgerEntry{
		UserID:      entry.UserID,
		BudgetMonth: month,
		SpentUSD:    roundUSD(entry.SpentIn(month) + charge.CostUSD),
		UpdatedAt:   now,
	}

	if budget.Credits.Limited {
		next.Records = append(entry.Active(now, budget.Credits.Window()), domain.UsageRecord{
			At:      now,
			Credits: charge.Credits,
			CostUSD: charge.CostUSD,
		})
	}

	return next
}

func snapshotOf(entry domain.LedgerEntry, budget domain.PlanBudget, now time.Time) domain.CreditSnapshot {
	spent := entry.SpentIn(domain.BudgetMonthOf(now))
	snapshot := domain.CreditSnapshot{
		Limited:            budget.Credits.Limited,
		Congestion:         domain.CongestionLow,
		MonthlyBudgetUSD:   budget.MonthlyBudgetUSD,
		RemainingBudgetUSD: roundUSD(math.Max(0, budget.MonthlyBudgetUSD-spent)),
	}
	if !budget.Credits.Limited {
		return snapshot
	}

	window := budget.Credits.Window()
	used := 0
	var oldest time.Time
	for _, record := range entry.Active(now, window) {
		used += record.Credits
		if oldest.IsZero() || record.At.Before(oldest) {
			oldest = record.At
		}
	}

	maxCredits := budget.Credits.MaxCredits
	used = min(used, maxCredits)
	remaining := maxCredits - used
	windowHours := budget.Credits.WindowHours

	snapshot.MaxCredits = &maxCredits
	snapshot.UsedCredits = &used
	snapshot.RemainingCredits = &remaining
	snapshot.WindowHours = &windowHours
	snapshot.Congestion = domain.CongestionFor(used, maxCredits)
	if !oldest.IsZero() {
		resetAt := oldest.Add(window)
		snapshot.ResetAt = &resetAt
	}

	return snapshot
}

func nextMonth(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
