package repositories

import (
	"context"

	"github.com/modelware/agentgate/models"
)

// Storage is the persistence contract shared by every governance manager.
// Implementations may be backed by memory, a key-value store, or a relational
// database; the managers treat all of them as best-effort mirrors of their
// authoritative in-memory state. Methods take a context because network
// backends may block.
//
// Storage is a capability interface, not a base type: backends are selected
// at construction and are freely swappable.
type Storage interface {
	// GetTrustAssignment returns the live assignment for the key, or
	// (nil, nil) when none exists.
	GetTrustAssignment(ctx context.Context, key models.TrustKey) (*models.TrustAssignment, error)

	// SetTrustAssignment stores the assignment, replacing any existing one
	// for the same key.
	SetTrustAssignment(ctx context.Context, assignment models.TrustAssignment) error

	// DeleteTrustAssignment removes the assignment for the key. Removing a
	// missing key is not an error.
	DeleteTrustAssignment(ctx context.Context, key models.TrustKey) error

	// ListTrustAssignments returns every live assignment.
	ListTrustAssignments(ctx context.Context) ([]models.TrustAssignment, error)

	// GetEnvelope returns the envelope for the category, or (nil, nil) when
	// none exists.
	GetEnvelope(ctx context.Context, category string) (*models.SpendingEnvelope, error)

	// SetEnvelope stores the envelope, replacing any existing one for the
	// same category.
	SetEnvelope(ctx context.Context, envelope models.SpendingEnvelope) error

	// ListEnvelopes returns every stored envelope.
	ListEnvelopes(ctx context.Context) ([]models.SpendingEnvelope, error)

	// AddTransaction appends a completed spend record.
	AddTransaction(ctx context.Context, tx models.Transaction) error

	// AddConsentRecord appends a consent grant.
	AddConsentRecord(ctx context.Context, record models.ConsentRecord) error

	// GetConsentRecords returns every consent record for the agent, oldest
	// first, including revoked and expired records. An empty agent id
	// returns the full log.
	GetConsentRecords(ctx context.Context, agentID string) ([]models.ConsentRecord, error)

	// RevokeConsentRecords marks matching active records inactive and
	// returns how many were revoked. An empty purpose matches every purpose.
	RevokeConsentRecords(ctx context.Context, agentID, dataType, purpose string) (int, error)

	// AppendAuditRecord appends a finalized record to the durable chain.
	AppendAuditRecord(ctx context.Context, record models.AuditRecord) error

	// QueryAuditRecords returns records matching the filter in append order.
	QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)

	// LatestAuditRecord returns the most recently appended record, or
	// (nil, nil) for an empty chain. Used to seed the chain tip on restart.
	LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error)

	// AuditRecordCount returns the number of durably stored audit records.
	AuditRecordCount(ctx context.Context) (int, error)
}

// MatchAudit reports whether a record satisfies the filter, ignoring
// Limit/Offset. Shared by backends that filter in application code.
func MatchAudit(record models.AuditRecord, filter models.AuditFilter) bool {
	if filter.AgentID != "" && record.AgentID != filter.AgentID {
		return false
	}
	if filter.Action != "" && record.Action != filter.Action {
		return false
	}
	if filter.PermittedOnly && !record.Permitted {
		return false
	}
	if filter.DeniedOnly && record.Permitted {
		return false
	}
	if !filter.Since.IsZero() && record.Time().Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && record.Time().After(filter.Until) {
		return false
	}
	return true
}
