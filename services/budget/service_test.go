package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories/memory"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(context.Background(), memory.New(), zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)
	return svc, clock
}

func TestCreateEnvelopeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateEnvelope(ctx, "", 100, models.PeriodDaily)
	assert.Error(t, err)

	_, err = svc.CreateEnvelope(ctx, "api-calls", 0, models.PeriodDaily)
	assert.Error(t, err)

	_, err = svc.CreateEnvelope(ctx, "api-calls", 100, models.BudgetPeriod("fortnightly"))
	assert.Error(t, err)
}

func TestCheckIsReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result := svc.Check(ctx, "api-calls", 60)
		assert.True(t, result.Permitted)
		assert.Equal(t, models.BudgetWithinBudget, result.Reason)
		assert.Equal(t, 100.0, result.Available)
	}

	envelope, err := svc.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Zero(t, envelope.Spent)
}

func TestCheckReasons(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	t.Run("no envelope", func(t *testing.T) {
		result := svc.Check(ctx, "unknown", 1)
		assert.False(t, result.Permitted)
		assert.Equal(t, models.BudgetNoEnvelope, result.Reason)
	})

	t.Run("exceeds budget", func(t *testing.T) {
		result := svc.Check(ctx, "api-calls", 101)
		assert.False(t, result.Permitted)
		assert.Equal(t, models.BudgetExceedsBudget, result.Reason)
	})

	t.Run("exact available amount is permitted", func(t *testing.T) {
		result := svc.Check(ctx, "api-calls", 100)
		assert.True(t, result.Permitted)
	})

	t.Run("suspended", func(t *testing.T) {
		require.NoError(t, svc.Suspend(ctx, "api-calls"))
		result := svc.Check(ctx, "api-calls", 1)
		assert.False(t, result.Permitted)
		assert.Equal(t, models.BudgetSuspended, result.Reason)

		require.NoError(t, svc.Resume(ctx, "api-calls"))
		assert.True(t, svc.Check(ctx, "api-calls", 1).Permitted)
	})
}

func TestRecordDoesNotRecheck(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	// Record never gates; an envelope can go over its limit.
	_, err = svc.Record(ctx, "api-calls", 150, "bulk import")
	require.NoError(t, err)

	envelope, err := svc.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Equal(t, 150.0, envelope.Spent)
	assert.Zero(t, envelope.Available())

	result := svc.Check(ctx, "api-calls", 1)
	assert.False(t, result.Permitted)
	assert.Equal(t, models.BudgetExceedsBudget, result.Reason)
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Record(ctx, "missing", 10, "")
	assert.Error(t, err)

	_, err = svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)
	_, err = svc.Record(ctx, "api-calls", -5, "")
	assert.Error(t, err)
}

func TestLazyRollover(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	_, err = svc.Record(ctx, "api-calls", 80, "day one")
	require.NoError(t, err)

	// Three full days pass with no activity. The next touch rolls the
	// window forward by whole periods and zeroes the accumulators.
	clock.Advance(72*time.Hour + 30*time.Minute)

	result := svc.Check(ctx, "api-calls", 100)
	assert.True(t, result.Permitted)
	assert.Zero(t, result.Spent)

	envelope, err := svc.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC), envelope.PeriodStart)
}

func TestLifetimeNeverResets(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "total-spend", 1000, models.PeriodLifetime)
	require.NoError(t, err)

	_, err = svc.Record(ctx, "total-spend", 400, "")
	require.NoError(t, err)

	clock.Advance(365 * 24 * time.Hour)

	envelope, err := svc.GetEnvelope(ctx, "total-spend")
	require.NoError(t, err)
	assert.Equal(t, 400.0, envelope.Spent)
}

func TestCommitAndRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	result, err := svc.Commit(ctx, "api-calls", 60)
	require.NoError(t, err)
	require.True(t, result.Permitted)
	require.NotEmpty(t, result.CommitID)
	assert.Equal(t, 40.0, result.Available)

	t.Run("reservation reduces availability", func(t *testing.T) {
		check := svc.Check(ctx, "api-calls", 50)
		assert.False(t, check.Permitted)
		assert.Equal(t, 40.0, check.Available)
	})

	t.Run("release as spent converts to transaction", func(t *testing.T) {
		require.NoError(t, svc.Release(ctx, result.CommitID, true, "completed"))

		envelope, err := svc.GetEnvelope(ctx, "api-calls")
		require.NoError(t, err)
		assert.Equal(t, 60.0, envelope.Spent)
		assert.Zero(t, envelope.Committed)
		assert.Equal(t, 40.0, envelope.Available())

		transactions := svc.Transactions(ctx, models.TransactionFilter{Category: "api-calls"})
		require.Len(t, transactions, 1)
		assert.Equal(t, 60.0, transactions[0].Amount)
	})

	t.Run("double release fails", func(t *testing.T) {
		assert.Error(t, svc.Release(ctx, result.CommitID, true, ""))
	})
}

func TestReleaseUnspentRestoresBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	result, err := svc.Commit(ctx, "api-calls", 60)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, result.CommitID, false, ""))

	envelope, err := svc.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Zero(t, envelope.Spent)
	assert.Zero(t, envelope.Committed)
	assert.Equal(t, 100.0, envelope.Available())
	assert.Empty(t, svc.Transactions(ctx, models.TransactionFilter{}))
}

func TestCommitDenials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)

	t.Run("over available", func(t *testing.T) {
		result, err := svc.Commit(ctx, "api-calls", 150)
		require.NoError(t, err)
		assert.False(t, result.Permitted)
		assert.Empty(t, result.CommitID)
		assert.Equal(t, models.BudgetExceedsBudget, result.Reason)

		// A denied commit reserves nothing.
		envelope, err := svc.GetEnvelope(ctx, "api-calls")
		require.NoError(t, err)
		assert.Zero(t, envelope.Committed)
	})

	t.Run("no envelope", func(t *testing.T) {
		result, err := svc.Commit(ctx, "unknown", 10)
		require.NoError(t, err)
		assert.Equal(t, models.BudgetNoEnvelope, result.Reason)
	})

	t.Run("suspended", func(t *testing.T) {
		require.NoError(t, svc.Suspend(ctx, "api-calls"))
		result, err := svc.Commit(ctx, "api-calls", 10)
		require.NoError(t, err)
		assert.Equal(t, models.BudgetSuspended, result.Reason)
	})
}

func TestRolloverVoidsPendingCommits(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodHourly)
	require.NoError(t, err)

	result, err := svc.Commit(ctx, "api-calls", 60)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	check := svc.Check(ctx, "api-calls", 100)
	assert.True(t, check.Permitted)

	assert.Error(t, svc.Release(ctx, result.CommitID, true, ""))
}

func TestUtilization(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)
	_, err = svc.CreateEnvelope(ctx, "compute", 200, models.PeriodLifetime)
	require.NoError(t, err)

	_, err = svc.Record(ctx, "api-calls", 25, "")
	require.NoError(t, err)

	utilization := svc.Utilization(ctx)
	require.Len(t, utilization, 2)
	assert.Equal(t, "api-calls", utilization[0].Category)
	assert.Equal(t, 25.0, utilization[0].Percent)
	assert.Equal(t, "compute", utilization[1].Category)
	assert.Zero(t, utilization[1].Percent)
}

func TestTransactionFilters(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	_, err := svc.CreateEnvelope(ctx, "api-calls", 1000, models.PeriodLifetime)
	require.NoError(t, err)

	amounts := []float64{10, 20, 30}
	for _, amount := range amounts {
		_, err := svc.Record(ctx, "api-calls", amount, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	min := 15.0
	max := 25.0
	filtered := svc.Transactions(ctx, models.TransactionFilter{MinAmount: &min, MaxAmount: &max})
	require.Len(t, filtered, 1)
	assert.Equal(t, 20.0, filtered[0].Amount)

	since := time.Date(2026, 2, 1, 0, 1, 0, 0, time.UTC)
	recent := svc.Transactions(ctx, models.TransactionFilter{Since: since})
	assert.Len(t, recent, 2)
}

func TestEnvelopesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	first, err := NewService(ctx, store, zap.NewNop())
	require.NoError(t, err)
	_, err = first.CreateEnvelope(ctx, "api-calls", 100, models.PeriodLifetime)
	require.NoError(t, err)
	_, err = first.Record(ctx, "api-calls", 30, "")
	require.NoError(t, err)

	second, err := NewService(ctx, store, zap.NewNop())
	require.NoError(t, err)
	envelope, err := second.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Equal(t, 30.0, envelope.Spent)
}
