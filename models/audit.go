package models

import "time"

// GenesisHash is the previous-hash sentinel for the first record in a chain:
// 64 zero hex characters, mirroring the Bitcoin genesis block convention.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditTimeLayout is the wire format for audit timestamps: ISO-8601 UTC with
// millisecond precision. Timestamps are stored as pre-formatted strings so a
// record hashed before persistence and re-hashed after a round trip through
// any storage backend produces the identical digest.
const AuditTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatAuditTime renders a time in the audit wire format.
func FormatAuditTime(t time.Time) string {
	return t.UTC().Format(AuditTimeLayout)
}

// AuditRecord is one immutable entry in the tamper-evident hash chain.
// RecordHash is a pure function of every other field plus PreviousHash, so
// adding a field is a compatibility decision, not a patch.
type AuditRecord struct {
	ID              string            `json:"id" db:"id"`
	Timestamp       string            `json:"timestamp" db:"timestamp"`
	AgentID         string            `json:"agent_id" db:"agent_id"`
	Action          string            `json:"action" db:"action"`
	Permitted       bool              `json:"permitted" db:"permitted"`
	TrustLevel      *int              `json:"trust_level,omitempty" db:"trust_level"`
	RequiredLevel   *int              `json:"required_level,omitempty" db:"required_level"`
	BudgetUsed      *float64          `json:"budget_used,omitempty" db:"budget_used"`
	BudgetRemaining *float64          `json:"budget_remaining,omitempty" db:"budget_remaining"`
	Reason          string            `json:"reason,omitempty" db:"reason"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"metadata"`
	PreviousHash    string            `json:"previous_hash" db:"previous_hash"`
	RecordHash      string            `json:"record_hash" db:"record_hash"`
}

// Time parses the record's wire timestamp. Returns the zero time when the
// timestamp is malformed.
func (r AuditRecord) Time() time.Time {
	t, err := time.Parse(AuditTimeLayout, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AuditFilter selects records from the chain. Zero values match everything.
// PermittedOnly and DeniedOnly are mutually exclusive; setting both matches
// nothing.
type AuditFilter struct {
	AgentID       string    `json:"agent_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Since         time.Time `json:"since,omitempty"`
	Until         time.Time `json:"until,omitempty"`
	PermittedOnly bool      `json:"permitted_only,omitempty"`
	DeniedOnly    bool      `json:"denied_only,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

// ChainBreakKind classifies a verification failure.
type ChainBreakKind string

const (
	// BreakLinkage means a record's previous_hash did not match the hash of
	// its predecessor: a record was deleted, inserted, or reordered.
	BreakLinkage ChainBreakKind = "linkage"

	// BreakContent means a record's recomputed hash did not match its stored
	// record_hash: the record was mutated in place.
	BreakContent ChainBreakKind = "content"
)

// ChainVerification is the result of walking a chain from genesis.
type ChainVerification struct {
	Valid       bool           `json:"valid"`
	RecordCount int            `json:"record_count"`
	BrokenAt    *int           `json:"broken_at,omitempty"`
	BreakKind   ChainBreakKind `json:"break_kind,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}
