package models

import "time"

// BudgetPeriod is the reset window for a spending envelope.
type BudgetPeriod string

const (
	PeriodHourly   BudgetPeriod = "hourly"
	PeriodDaily    BudgetPeriod = "daily"
	PeriodWeekly   BudgetPeriod = "weekly"
	PeriodMonthly  BudgetPeriod = "monthly"
	PeriodLifetime BudgetPeriod = "lifetime"
)

// Valid reports whether the period is a known enum value.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodLifetime:
		return true
	}
	return false
}

// Duration returns the length of one period window. The second return is
// false for the lifetime period, which never resets.
func (p BudgetPeriod) Duration() (time.Duration, bool) {
	switch p {
	case PeriodHourly:
		return time.Hour, true
	case PeriodDaily:
		return 24 * time.Hour, true
	case PeriodWeekly:
		return 7 * 24 * time.Hour, true
	case PeriodMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// SpendingEnvelope is a bounded spending allocation for one cost category.
// Recreation replaces the envelope wholesale; previous accumulators are
// discarded.
type SpendingEnvelope struct {
	ID          string       `json:"id" db:"id"`
	Category    string       `json:"category" db:"category"`
	Limit       float64      `json:"limit" db:"limit_amount"`
	Period      BudgetPeriod `json:"period" db:"period"`
	Spent       float64      `json:"spent" db:"spent"`
	Committed   float64      `json:"committed" db:"committed"`
	PeriodStart time.Time    `json:"period_start" db:"period_start"`
	Suspended   bool         `json:"suspended" db:"suspended"`
}

// Available returns the remaining balance: limit minus spent minus committed,
// floored at zero.
func (e SpendingEnvelope) Available() float64 {
	available := e.Limit - e.Spent - e.Committed
	if available < 0 {
		return 0
	}
	return available
}

// BudgetCheckReason is the machine-checkable outcome of a budget check.
type BudgetCheckReason string

const (
	BudgetWithinBudget  BudgetCheckReason = "within_budget"
	BudgetExceedsBudget BudgetCheckReason = "exceeds_budget"
	BudgetNoEnvelope    BudgetCheckReason = "no_envelope"
	BudgetSuspended     BudgetCheckReason = "suspended"
)

// BudgetCheckResult is the outcome of a budget gate evaluation.
type BudgetCheckResult struct {
	Permitted bool              `json:"permitted"`
	Available float64           `json:"available"`
	Requested float64           `json:"requested"`
	Limit     float64           `json:"limit"`
	Spent     float64           `json:"spent"`
	Committed float64           `json:"committed"`
	Reason    BudgetCheckReason `json:"reason"`
}

// Transaction records one completed spend against an envelope.
type Transaction struct {
	ID          string    `json:"id" db:"id"`
	EnvelopeID  string    `json:"envelope_id" db:"envelope_id"`
	Category    string    `json:"category" db:"category"`
	Amount      float64   `json:"amount" db:"amount"`
	Description string    `json:"description,omitempty" db:"description"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// TransactionFilter selects transactions from the history. All set fields are
// AND-ed together; zero values match everything.
type TransactionFilter struct {
	Category  string    `json:"category,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	MinAmount *float64  `json:"min_amount,omitempty"`
	MaxAmount *float64  `json:"max_amount,omitempty"`
}

// PendingCommit is a two-phase budget reservation held for an in-flight
// operation. It reduces the envelope's available balance without touching
// spent until it is released or superseded by a recorded transaction.
type PendingCommit struct {
	ID        string    `json:"id" db:"id"`
	Category  string    `json:"category" db:"category"`
	Amount    float64   `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CommitResult is the outcome of a budget reservation attempt.
type CommitResult struct {
	Permitted bool              `json:"permitted"`
	CommitID  string            `json:"commit_id,omitempty"`
	Available float64           `json:"available"`
	Requested float64           `json:"requested"`
	Reason    BudgetCheckReason `json:"reason"`
}

// BudgetUtilization is a point-in-time snapshot of one envelope.
type BudgetUtilization struct {
	Category    string       `json:"category"`
	Limit       float64      `json:"limit"`
	Spent       float64      `json:"spent"`
	Committed   float64      `json:"committed"`
	Available   float64      `json:"available"`
	Percent     float64      `json:"percent"`
	Period      BudgetPeriod `json:"period"`
	PeriodStart time.Time    `json:"period_start"`
	Suspended   bool         `json:"suspended"`
}
