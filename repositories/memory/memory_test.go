package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelware/agentgate/models"
)

func TestTrustAssignmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	key := models.TrustKey{AgentID: "agent-1", Scope: "payments"}

	got, err := store.GetTrustAssignment(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	assignment := models.TrustAssignment{
		AgentID:    "agent-1",
		Scope:      "payments",
		Level:      models.TrustSuggest,
		AssignedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		AssignedBy: "alice",
	}
	require.NoError(t, store.SetTrustAssignment(ctx, assignment))

	got, err = store.GetTrustAssignment(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, assignment, *got)

	all, err := store.ListTrustAssignments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteTrustAssignment(ctx, key))
	got, err = store.GetTrustAssignment(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnvelopeReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	store := New()

	first := models.SpendingEnvelope{ID: "env-1", Category: "api-calls", Limit: 100, Period: models.PeriodDaily, Spent: 40}
	require.NoError(t, store.SetEnvelope(ctx, first))

	second := models.SpendingEnvelope{ID: "env-2", Category: "api-calls", Limit: 200, Period: models.PeriodDaily}
	require.NoError(t, store.SetEnvelope(ctx, second))

	got, err := store.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "env-2", got.ID)
	assert.Zero(t, got.Spent)

	envelopes, err := store.ListEnvelopes(ctx)
	require.NoError(t, err)
	assert.Len(t, envelopes, 1)
}

func TestConsentRecords(t *testing.T) {
	ctx := context.Background()
	store := New()

	grants := []models.ConsentRecord{
		{ID: "c-1", AgentID: "agent-1", DataType: "email", Purpose: "summarization", Active: true},
		{ID: "c-2", AgentID: "agent-1", DataType: "email", Purpose: "training", Active: true},
		{ID: "c-3", AgentID: "agent-2", DataType: "calendar", Purpose: "scheduling", Active: true},
	}
	for _, grant := range grants {
		require.NoError(t, store.AddConsentRecord(ctx, grant))
	}

	t.Run("by agent", func(t *testing.T) {
		records, err := store.GetConsentRecords(ctx, "agent-1")
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("empty agent returns full log", func(t *testing.T) {
		records, err := store.GetConsentRecords(ctx, "")
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("revoke with empty purpose matches all", func(t *testing.T) {
		count, err := store.RevokeConsentRecords(ctx, "agent-1", "email", "")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		records, err := store.GetConsentRecords(ctx, "agent-1")
		require.NoError(t, err)
		for _, record := range records {
			assert.False(t, record.Active)
		}
	})

	t.Run("already revoked records do not count again", func(t *testing.T) {
		count, err := store.RevokeConsentRecords(ctx, "agent-1", "email", "")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func seedAudit(t *testing.T, store *Storage, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		record := models.AuditRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			Timestamp: models.FormatAuditTime(time.Date(2026, 2, 1, 0, i, 0, 0, time.UTC)),
			AgentID:   fmt.Sprintf("agent-%d", i%2),
			Action:    "read",
			Permitted: i%2 == 0,
		}
		require.NoError(t, store.AppendAuditRecord(ctx, record))
	}
}

func TestAuditQuery(t *testing.T) {
	ctx := context.Background()
	store := New()
	seedAudit(t, store, 6)

	t.Run("no filter returns append order", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, records, 6)
		assert.Equal(t, "rec-0", records[0].ID)
		assert.Equal(t, "rec-5", records[5].ID)
	})

	t.Run("by agent", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{AgentID: "agent-1"})
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("permitted only", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{PermittedOnly: true})
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("time window", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{
			Since: time.Date(2026, 2, 1, 0, 2, 0, 0, time.UTC),
			Until: time.Date(2026, 2, 1, 0, 4, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("offset past the end", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("limit truncates", func(t *testing.T) {
		records, err := store.QueryAuditRecords(ctx, models.AuditFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestAuditTipAndCount(t *testing.T) {
	ctx := context.Background()
	store := New()

	latest, err := store.LatestAuditRecord(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	seedAudit(t, store, 3)

	latest, err = store.LatestAuditRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "rec-2", latest.ID)

	count, err := store.AuditRecordCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
