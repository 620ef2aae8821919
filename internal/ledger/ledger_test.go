package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/mailpilot/internal/catalog"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUnlimitedPlanHasNullCreditFields(t *testing.T) {
	t.Parallel()

	l := New(newInMemoryLedgerRepo(), catalog.Default(), &stepClock{now: baseTime})

	snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanBusiness)
	require.NoError(t, err)

	assert.False(t, snapshot.Limited)
	assert.Nil(t, snapshot.MaxCredits)
	assert.Nil(t, snapshot.RemainingCredits)
	assert.Nil(t, snapshot.UsedCredits)
	assert.Nil(t, snapshot.WindowHours)
	assert.Nil(t, snapshot.ResetAt)
	assert.Equal(t, domain.CongestionLow, snapshot.Congestion)
	assert.InDelta(t, 200, snapshot.MonthlyBudgetUSD, 1e-9)
	assert.InDelta(t, 200, snapshot.RemainingBudgetUSD, 1e-9)
	assert.True(t, snapshot.HasRemainingCredits())
}

func TestAdmitConsumesCreditsAndReportsResetAt(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: baseTime}
	l := New(newInMemoryLedgerRepo(), catalog.Default(), clock)

	_, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1, CostUSD: 0.002})
	require.NoError(t, err)

	clock.advance(time.Hour)
	snapshot, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 2, CostUSD: 0.002})
	require.NoError(t, err)

	assert.True(t, snapshot.Limited)
	assert.Equal(t, 3, *snapshot.UsedCredits)
	assert.Equal(t, 7, *snapshot.RemainingCredits)
	assert.Equal(t, 10, *snapshot.MaxCredits)
	assert.Equal(t, 24, *snapshot.WindowHours)
	require.NotNil(t, snapshot.ResetAt)
	assert.Equal(t, baseTime.Add(24*time.Hour), *snapshot.ResetAt)
	assert.InDelta(t, 0.996, snapshot.RemainingBudgetUSD, 1e-9)
}

func TestAdmitRefusesWhenCreditsExhaustedWithoutMutation(t *testing.T) {
	t.Parallel()

	repo := newInMemoryLedgerRepo()
	clock := &stepClock{now: baseTime}
	l := New(repo, catalog.Default(), clock)

	_, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 10})
	require.NoError(t, err)
	saves := repo.saveCount()
	before, err := repo.Get(context.Background(), "u-1")
	require.NoError(t, err)

	_, err = l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1})
	require.Error(t, err)

	var exhausted *domain.BudgetExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, err, domain.ErrBudgetExhausted)
	assert.Equal(t, domain.BudgetReasonCredits, exhausted.Reason)
	require.NotNil(t, exhausted.ResetAt)
	assert.Equal(t, baseTime.Add(24*time.Hour), *exhausted.ResetAt)

	after, err := repo.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, saves, repo.saveCount())
}

func TestAdmitRefusesChargeLargerThanRemaining(t *testing.T) {
	t.Parallel()

	l := New(newInMemoryLedgerRepo(), catalog.Default(), &stepClock{now: baseTime})

	_, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 8})
	require.NoError(t, err)

	_, err = l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 3})
	assert.ErrorIs(t, err, domain.ErrBudgetExhausted)

	snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 2, *snapshot.RemainingCredits)
}

func TestAdmitRefusesWhenMonthlyBudgetWouldGoNegative(t *testing.T) {
	t.Parallel()

	repo := newInMemoryLedgerRepo()
	l := New(repo, catalog.Default(), &stepClock{now: baseTime})

	_, err := l.Admit(context.Background(), "u-1", domain.PlanBusiness, domain.Charge{CostUSD: 199.99})
	require.NoError(t, err)
	saves := repo.saveCount()

	_, err = l.Admit(context.Background(), "u-1", domain.PlanBusiness, domain.Charge{CostUSD: 0.05})
	require.Error(t, err)

	var exhausted *domain.BudgetExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, domain.BudgetReasonMonthly, exhausted.Reason)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *exhausted.ResetAt)
	assert.Equal(t, saves, repo.saveCount())

	_, err = l.Admit(context.Background(), "u-1", domain.PlanBusiness, domain.Charge{CostUSD: 0.01})
	assert.NoError(t, err)
}

func TestAdmitRestoresCreditsAfterWindowExpires(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: baseTime}
	l := New(newInMemoryLedgerRepo(), catalog.Default(), clock)

	_, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 10})
	require.NoError(t, err)

	clock.advance(24 * time.Hour)
	snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 10, *snapshot.RemainingCredits)
	assert.Nil(t, snapshot.ResetAt)

	snapshot, err = l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, *snapshot.UsedCredits)
}

func TestMonthlySpendResetsOnCalendarMonth(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)}
	l := New(newInMemoryLedgerRepo(), catalog.Default(), clock)

	_, err := l.Admit(context.Background(), "u-1", domain.PlanPro, domain.Charge{Credits: 1, CostUSD: 5})
	require.NoError(t, err)

	clock.advance(2 * time.Hour)
	snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanPro)
	require.NoError(t, err)
	assert.InDelta(t, 20, snapshot.RemainingBudgetUSD, 1e-9)
}

func TestUsedCreditsNeverDecreaseWithinWindow(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: baseTime}
	l := New(newInMemoryLedgerRepo(), catalog.Default(), clock)

	previous := 0
	previousCongestion := domain.CongestionLow
	for i := 0; i < 12; i++ {
		clock.advance(time.Minute)
		_, _ = l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1})

		snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanFree)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, *snapshot.UsedCredits, previous)
		assert.LessOrEqual(t, *snapshot.UsedCredits, *snapshot.MaxCredits)
		assert.GreaterOrEqual(t, snapshot.Congestion, previousCongestion)
		previous = *snapshot.UsedCredits
		previousCongestion = snapshot.Congestion
	}
	assert.Equal(t, 10, previous)
	assert.Equal(t, domain.CongestionSevere, previousCongestion)
}

func TestConcurrentAdmitsNeverExceedMaxCredits(t *testing.T) {
	t.Parallel()

	const (
		maxCredits = 7
		callers    = 64
	)

	plans, err := catalog.New(catalog.DefaultRegistry(), []domain.PlanBudget{{
		Plan:             domain.PlanFree,
		ModelAccess:      []domain.Mode{domain.ModeFast},
		MonthlyBudgetUSD: 100,
		Credits:          domain.CreditPolicy{Limited: true, MaxCredits: maxCredits, WindowHours: 1},
	}}, catalog.DefaultPrices())
	require.NoError(t, err)

	l := New(newInMemoryLedgerRepo(), plans, &stepClock{now: baseTime})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1, CostUSD: 0.001}); err == nil {
				admitted.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrBudgetExhausted)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(maxCredits), admitted.Load())

	snapshot, err := l.Snapshot(context.Background(), "u-1", domain.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 0, *snapshot.RemainingCredits)
}

func TestConcurrentAdmitsAcrossLedgersSharingOneStore(t *testing.T) {
	t.Parallel()

	const (
		maxCredits = 5
		callers    = 40
	)

	plans, err := catalog.New(catalog.DefaultRegistry(), []domain.PlanBudget{{
		Plan:             domain.PlanFree,
		ModelAccess:      []domain.Mode{domain.ModeFast},
		MonthlyBudgetUSD: 100,
		Credits:          domain.CreditPolicy{Limited: true, MaxCredits: maxCredits, WindowHours: 1},
	}}, catalog.DefaultPrices())
	require.NoError(t, err)

	repo := newInMemoryLedgerRepo()
	clock := &stepClock{now: baseTime}
	ledgers := []*Ledger{New(repo, plans, clock), New(repo, plans, clock)}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			if _, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1, CostUSD: 0.001}); err == nil {
				admitted.Add(1)
			}
		}(ledgers[i%len(ledgers)])
	}
	wg.Wait()

	assert.Equal(t, int32(maxCredits), admitted.Load())
	assert.Equal(t, maxCredits, repo.saveCount())
}

func TestAdmitRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	l := New(newInMemoryLedgerRepo(), catalog.Default(), nil)

	_, err := l.Admit(context.Background(), "", domain.PlanFree, domain.Charge{Credits: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = l.Admit(context.Background(), "u-1", domain.Plan("gold"), domain.Charge{Credits: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdmitPropagatesRepositoryFailure(t *testing.T) {
	t.Parallel()

	repo := newInMemoryLedgerRepo()
	repo.saveErr = errors.New("disk full")
	l := New(repo, catalog.Default(), &stepClock{now: baseTime})

	_, err := l.Admit(context.Background(), "u-1", domain.PlanFree, domain.Charge{Credits: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "update ledger entry: disk full")
	assert.NotErrorIs(t, err, domain.ErrBudgetExhausted)
}

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type inMemoryLedgerRepo struct {
	mu      sync.RWMutex
	entries map[domain.UserID]domain.LedgerEntry
	saves   int
	saveErr error
}

func newInMemoryLedgerRepo() *inMemoryLedgerRepo {
	return &inMemoryLedgerRepo{entries: map[domain.UserID]domain.LedgerEntry{}}
}

func (r *inMemoryLedgerRepo) Get(_ context.Context, userID domain.UserID) (domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
	}
	entry.Records = append([]domain.UsageRecord(nil), entry.Records...)
	return entry, nil
}

func (r *inMemoryLedgerRepo) Save(_ context.Context, entry domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}
	entry.Records = append([]domain.UsageRecord(nil), entry.Records...)
	r.entries[entry.UserID] = entry
	r.saves++
	return nil
}

func (r *inMemoryLedgerRepo) Update(_ context.Context, userID domain.UserID, fn ports.LedgerUpdate) (domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	if !ok {
		current = domain.LedgerEntry{UserID: userID}
	}
	current.Records = append([]domain.UsageRecord(nil), current.Records...)

	next, err := fn(current)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if r.saveErr != nil {
		return domain.LedgerEntry{}, r.saveErr
	}
	next.Records = append([]domain.UsageRecord(nil), next.Records...)
	r.entries[userID] = next
	r.saves++
	return next, nil
}

func (r *inMemoryLedgerRepo) saveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}
