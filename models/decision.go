package models

import "time"

// Gate identifies which evaluation stage produced a decision outcome.
type Gate string

const (
	GateTrust   Gate = "trust"
	GateBudget  Gate = "budget"
	GateConsent Gate = "consent"
	GateNone    Gate = "none"
)

// ActionRequest describes one governed action to be evaluated. Each gate runs
// only when its inputs are present: RequiredTrust for the trust gate,
// BudgetCategory for the budget gate, DataType for the consent gate. The
// audit stage always runs.
type ActionRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Action  string `json:"action" validate:"required"`

	RequiredTrust *TrustLevel `json:"required_trust,omitempty" validate:"omitempty,gte=0,lte=5"`
	Scope         string      `json:"scope,omitempty"`

	BudgetCategory string  `json:"budget_category,omitempty"`
	Cost           float64 `json:"cost,omitempty" validate:"gte=0"`

	DataType string `json:"data_type,omitempty"`
	Purpose  string `json:"purpose,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Decision is the engine's verdict on one ActionRequest. It is returned to
// the caller and captured in the audit chain, but never persisted as a
// separate entity. Gate names the first failing stage, or GateNone when the
// action was permitted.
type Decision struct {
	Permitted     bool      `json:"permitted"`
	Reason        string    `json:"reason"`
	Gate          Gate      `json:"gate"`
	AgentID       string    `json:"agent_id"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`
	AuditRecordID string    `json:"audit_record_id"`

	Trust   *TrustCheckResult   `json:"trust,omitempty"`
	Budget  *BudgetCheckResult  `json:"budget,omitempty"`
	Consent *ConsentCheckResult `json:"consent,omitempty"`
}
