package domain

import (
	"fmt"
	"time"
)

const budgetMonthLayout = "2006-01"

type UsageRecord struct {
	At      time.Time
	Credits int
	CostUSD float64
}

// LedgerEntry is the persisted consumption of one user. Records older than
// the plan window are pruned on the next admission.
type LedgerEntry struct {
	UserID      UserID
	Records     []UsageRecord
	BudgetMonth string
	SpentUSD    float64
	UpdatedAt   time.Time
}

func BudgetMonthOf(t time.Time) string {
	return t.UTC().Format(budgetMonthLayout)
}

// Active returns the records still inside the rolling window, oldest first.
func (e LedgerEntry) Active(now time.Time, window time.Duration) []UsageRecord {
	active := make([]UsageRecord, 0, len(e.Records))
	for _, record := range e.Records {
		if record.At.Add(window).After(now) {
			active = append(active, record)
		}
	}
	return active
}

func (e LedgerEntry) SpentIn(month string) float64 {
	if e.BudgetMonth != month {
		return 0
	}
	return e.SpentUSD
}

type Congestion int

const (
	CongestionLow Congestion = iota
	CongestionModerate
	CongestionHigh
	CongestionSevere
)

func (c Congestion) String() string {
	switch c {
	case CongestionLow:
		return "low"
	case CongestionModerate:
		return "moderate"
	case CongestionHigh:
		return "high"
	case CongestionSevere:
		return "severe"
	default:
		return fmt.Sprintf("congestion(%d)", int(c))
	}
}

func (c Congestion) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Congestion) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*c = CongestionLow
	case "moderate":
		*c = CongestionModerate
	case "high":
		*c = CongestionHigh
	case "severe":
		*c = CongestionSevere
	default:
		return fmt.Errorf("unknown congestion level %q", string(text))
	}
	return nil
}

// CongestionFor maps window usage to a level. It never decreases as used grows.
func CongestionFor(used, maxCredits int) Congestion {
	if maxCredits <= 0 {
		return CongestionSevere
	}

	ratio := float64(used) / float64(maxCredits)
	switch {
	case ratio < 0.5:
		return CongestionLow
	case ratio < 0.75:
		return CongestionModerate
	case ratio < 0.9:
		return CongestionHigh
	default:
		return CongestionSevere
	}
}

// CreditSnapshot is the read model of a user's budgets. Credit fields are nil
// for unlimited plans; the monetary fields always apply.
type CreditSnapshot struct {
	Limited            bool       `json:"limited"`
	MaxCredits         *int       `json:"max_credits"`
	RemainingCredits   *int       `json:"remaining_credits"`
	UsedCredits        *int       `json:"used_credits"`
	WindowHours        *int       `json:"window_hours"`
	ResetAt            *time.Time `json:"reset_at"`
	Congestion         Congestion `json:"congestion"`
	MonthlyBudgetUSD   float64    `json:"monthly_budget_usd"`
	RemainingBudgetUSD float64    `json:"remaining_budget_usd"`
}

func (s CreditSnapshot) HasRemainingCredits() bool {
	if !s.Limited {
		return true
	}
	return s.RemainingCredits != nil && *s.RemainingCredits > 0
}
