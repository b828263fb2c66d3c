package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories/memory"
	"github.com/modelware/agentgate/services/audit"
	"github.com/modelware/agentgate/services/budget"
	"github.com/modelware/agentgate/services/consent"
	"github.com/modelware/agentgate/services/trust"
)

type testHarness struct {
	engine  *Engine
	trust   *trust.Service
	budget  *budget.Service
	consent *consent.Service
	audit   *audit.Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	logger := zap.NewNop()

	trustSvc, err := trust.NewService(ctx, store, logger, trust.Config{DefaultLevel: models.TrustObserver})
	require.NoError(t, err)
	budgetSvc, err := budget.NewService(ctx, store, logger)
	require.NoError(t, err)
	consentSvc, err := consent.NewService(ctx, store, logger, consent.Config{RequireExplicit: true})
	require.NoError(t, err)
	auditSvc, err := audit.NewService(ctx, store, logger)
	require.NoError(t, err)

	return &testHarness{
		engine:  NewEngine(trustSvc, budgetSvc, consentSvc, auditSvc, logger),
		trust:   trustSvc,
		budget:  budgetSvc,
		consent: consentSvc,
		audit:   auditSvc,
	}
}

func requiredTrust(level models.TrustLevel) *models.TrustLevel {
	return &level
}

func (h *testHarness) grantAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := h.trust.Assign(ctx, "agent-1", "payments", models.TrustActAndReport, "alice")
	require.NoError(t, err)
	_, err = h.budget.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
	require.NoError(t, err)
	_, err = h.consent.Record(ctx, "agent-1", "email", "summarization", "alice")
	require.NoError(t, err)
}

func fullRequest() models.ActionRequest {
	return models.ActionRequest{
		AgentID:        "agent-1",
		Action:         "send-summary",
		RequiredTrust:  requiredTrust(models.TrustSuggest),
		Scope:          "payments",
		BudgetCategory: "api-calls",
		Cost:           10,
		DataType:       "email",
		Purpose:        "summarization",
	}
}

func TestEvaluateAllGatesPass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.grantAll(t)

	decision, err := h.engine.Evaluate(ctx, fullRequest())
	require.NoError(t, err)

	assert.True(t, decision.Permitted)
	assert.Equal(t, models.GateNone, decision.Gate)
	assert.NotNil(t, decision.Trust)
	assert.NotNil(t, decision.Budget)
	assert.NotNil(t, decision.Consent)
	assert.NotEmpty(t, decision.AuditRecordID)
}

func TestEvaluateShortCircuitsInOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("trust fails first", func(t *testing.T) {
		h := newHarness(t)
		// No trust assignment, no envelope, no consent: every gate would
		// fail, so the reported gate proves the evaluation order.
		decision, err := h.engine.Evaluate(ctx, fullRequest())
		require.NoError(t, err)

		assert.False(t, decision.Permitted)
		assert.Equal(t, models.GateTrust, decision.Gate)
		assert.NotNil(t, decision.Trust)
		assert.Nil(t, decision.Budget)
		assert.Nil(t, decision.Consent)
	})

	t.Run("budget fails second", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.trust.Assign(ctx, "agent-1", "payments", models.TrustActAndReport, "alice")
		require.NoError(t, err)

		decision, err := h.engine.Evaluate(ctx, fullRequest())
		require.NoError(t, err)

		assert.Equal(t, models.GateBudget, decision.Gate)
		assert.NotNil(t, decision.Budget)
		assert.Equal(t, models.BudgetNoEnvelope, decision.Budget.Reason)
		assert.Nil(t, decision.Consent)
	})

	t.Run("consent fails last", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.trust.Assign(ctx, "agent-1", "payments", models.TrustActAndReport, "alice")
		require.NoError(t, err)
		_, err = h.budget.CreateEnvelope(ctx, "api-calls", 100, models.PeriodDaily)
		require.NoError(t, err)

		decision, err := h.engine.Evaluate(ctx, fullRequest())
		require.NoError(t, err)

		assert.Equal(t, models.GateConsent, decision.Gate)
		assert.NotNil(t, decision.Trust)
		assert.NotNil(t, decision.Budget)
		assert.NotNil(t, decision.Consent)
	})
}

func TestEvaluateSkipsGatesWithoutInputs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	decision, err := h.engine.Evaluate(ctx, models.ActionRequest{
		AgentID: "agent-1",
		Action:  "noop",
	})
	require.NoError(t, err)

	assert.True(t, decision.Permitted)
	assert.Equal(t, models.GateNone, decision.Gate)
	assert.Nil(t, decision.Trust)
	assert.Nil(t, decision.Budget)
	assert.Nil(t, decision.Consent)
	assert.NotEmpty(t, decision.AuditRecordID)
}

func TestEvaluateAlwaysAudits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.grantAll(t)

	permitted := fullRequest()
	denied := fullRequest()
	denied.RequiredTrust = requiredTrust(models.TrustAutonomous)

	for _, request := range []models.ActionRequest{permitted, denied} {
		_, err := h.engine.Evaluate(ctx, request)
		require.NoError(t, err)
	}

	count, err := h.audit.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records, err := h.audit.Query(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Permitted)
	assert.False(t, records[1].Permitted)

	verification, err := h.audit.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestEvaluateNeverRecordsSpending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.grantAll(t)

	for i := 0; i < 5; i++ {
		decision, err := h.engine.Evaluate(ctx, fullRequest())
		require.NoError(t, err)
		require.True(t, decision.Permitted)
	}

	envelope, err := h.budget.GetEnvelope(ctx, "api-calls")
	require.NoError(t, err)
	assert.Zero(t, envelope.Spent)
	assert.Zero(t, envelope.Committed)
}

func TestEvaluateCapturesGateNumbers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.grantAll(t)

	decision, err := h.engine.Evaluate(ctx, fullRequest())
	require.NoError(t, err)

	records, err := h.audit.Query(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, decision.AuditRecordID, record.ID)
	require.NotNil(t, record.TrustLevel)
	assert.Equal(t, int(models.TrustActAndReport), *record.TrustLevel)
	require.NotNil(t, record.RequiredLevel)
	assert.Equal(t, int(models.TrustSuggest), *record.RequiredLevel)
	require.NotNil(t, record.BudgetUsed)
	assert.Equal(t, 10.0, *record.BudgetUsed)
	require.NotNil(t, record.BudgetRemaining)
	assert.Equal(t, 100.0, *record.BudgetRemaining)
}

func TestEvaluateValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.Evaluate(ctx, models.ActionRequest{Action: "x"})
	assert.Error(t, err)

	_, err = h.engine.Evaluate(ctx, models.ActionRequest{AgentID: "agent-1"})
	assert.Error(t, err)
}

type failingAuditor struct{}

func (failingAuditor) Append(ctx context.Context, entry audit.Entry) (*models.AuditRecord, error) {
	return nil, errors.New("disk full")
}

func TestEvaluateSurfacesAuditFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	engine := NewEngine(h.trust, h.budget, h.consent, failingAuditor{}, zap.NewNop(),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }))

	decision, err := engine.Evaluate(ctx, models.ActionRequest{AgentID: "agent-1", Action: "noop"})
	require.Error(t, err)
	require.NotNil(t, decision)
	assert.True(t, decision.Permitted)
	assert.Empty(t, decision.AuditRecordID)
}
