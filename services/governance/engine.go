package governance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services"
	"github.com/modelware/agentgate/services/audit"
	"github.com/modelware/agentgate/services/budget"
	"github.com/modelware/agentgate/services/consent"
	"github.com/modelware/agentgate/services/trust"
)

// TrustChecker is the slice of the trust registry the engine consumes.
type TrustChecker interface {
	Check(ctx context.Context, agentID string, required models.TrustLevel, scope string) *models.TrustCheckResult
}

// BudgetChecker is the slice of the budget ledger the engine consumes.
// Evaluation only probes affordability; recording a spend is a separate,
// explicit call the caller makes after the action completes.
type BudgetChecker interface {
	Check(ctx context.Context, category string, amount float64) *models.BudgetCheckResult
}

// ConsentChecker is the slice of the consent store the engine consumes.
type ConsentChecker interface {
	Check(ctx context.Context, agentID, dataType, purpose string) *models.ConsentCheckResult
}

// Auditor appends decisions to the tamper-evident chain.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (*models.AuditRecord, error)
}

var (
	_ TrustChecker   = (*trust.Service)(nil)
	_ BudgetChecker  = (*budget.Service)(nil)
	_ ConsentChecker = (*consent.Service)(nil)
	_ Auditor        = (*audit.Service)(nil)
)

// Engine runs governed actions through the gate pipeline: trust, then
// budget, then consent, in that fixed order, short-circuiting on the first
// denial. The audit stage is not a gate and never short-circuits: every
// evaluation, permitted or denied, lands in the chain.
type Engine struct {
	trust   TrustChecker
	budget  BudgetChecker
	consent ConsentChecker
	auditor Auditor
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the three gate services and the audit chain into an
// evaluation pipeline.
func NewEngine(trustSvc TrustChecker, budgetSvc BudgetChecker, consentSvc ConsentChecker, auditor Auditor, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		trust:   trustSvc,
		budget:  budgetSvc,
		consent: consentSvc,
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs one action request through the pipeline and returns the
// decision. Each gate runs only when its inputs are present on the request;
// a request with no gate inputs is permitted and still audited. Evaluation
// never records spending: a permitted budget gate means the action would
// fit, nothing more.
//
// A non-nil error means the audit append failed; the decision is still
// returned so callers can fail open or closed by policy.
func (e *Engine) Evaluate(ctx context.Context, request models.ActionRequest) (*models.Decision, error) {
	if request.AgentID == "" {
		return nil, fmt.Errorf("governance: agent id is required: %w", services.ErrInvalidInput)
	}
	if request.Action == "" {
		return nil, fmt.Errorf("governance: action is required: %w", services.ErrInvalidInput)
	}

	decision := &models.Decision{
		Permitted: true,
		Gate:      models.GateNone,
		Reason:    "all gates passed",
		AgentID:   request.AgentID,
		Action:    request.Action,
		Timestamp: e.now(),
	}

	if request.RequiredTrust != nil {
		result := e.trust.Check(ctx, request.AgentID, *request.RequiredTrust, request.Scope)
		decision.Trust = result
		if !result.Permitted {
			e.deny(decision, models.GateTrust, result.Reason)
		}
	}

	if decision.Permitted && request.BudgetCategory != "" {
		result := e.budget.Check(ctx, request.BudgetCategory, request.Cost)
		decision.Budget = result
		if !result.Permitted {
			e.deny(decision, models.GateBudget, fmt.Sprintf("budget check failed for category %q: %s", request.BudgetCategory, result.Reason))
		}
	}

	if decision.Permitted && request.DataType != "" {
		result := e.consent.Check(ctx, request.AgentID, request.DataType, request.Purpose)
		decision.Consent = result
		if !result.Permitted {
			e.deny(decision, models.GateConsent, result.Reason)
		}
	}

	record, err := e.auditor.Append(ctx, e.auditEntry(request, decision))
	if err != nil {
		e.logger.Error("audit append failed for evaluated action",
			zap.String("agent_id", request.AgentID),
			zap.String("action", request.Action),
			zap.Error(err))
		return decision, fmt.Errorf("governance: recording decision: %w", err)
	}
	decision.AuditRecordID = record.ID

	e.logger.Info("action evaluated",
		zap.String("agent_id", request.AgentID),
		zap.String("action", request.Action),
		zap.Bool("permitted", decision.Permitted),
		zap.String("gate", string(decision.Gate)))

	return decision, nil
}

func (e *Engine) deny(decision *models.Decision, gate models.Gate, reason string) {
	decision.Permitted = false
	decision.Gate = gate
	decision.Reason = reason
}

// auditEntry flattens a decision into the chain's record shape. Gate fields
// are present only when the corresponding gate ran.
func (e *Engine) auditEntry(request models.ActionRequest, decision *models.Decision) audit.Entry {
	entry := audit.Entry{
		AgentID:   request.AgentID,
		Action:    request.Action,
		Permitted: decision.Permitted,
		Reason:    decision.Reason,
		Metadata:  request.Metadata,
	}
	if decision.Trust != nil {
		current := int(decision.Trust.CurrentLevel)
		required := int(decision.Trust.RequiredLevel)
		entry.TrustLevel = &current
		entry.RequiredLevel = &required
	}
	if decision.Budget != nil {
		used := decision.Budget.Requested
		remaining := decision.Budget.Available
		entry.BudgetUsed = &used
		entry.BudgetRemaining = &remaining
	}
	return entry
}
