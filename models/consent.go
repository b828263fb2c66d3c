package models

import "time"

// ConsentRecord is one explicit, revocable grant permitting an agent to
// access a data type for a stated purpose. Records are append-only:
// revocation clears Active but never deletes the record, and multiple
// overlapping grants for the same triple are valid and independently
// revocable.
type ConsentRecord struct {
	ID        string     `json:"id" db:"id"`
	AgentID   string     `json:"agent_id" db:"agent_id"`
	DataType  string     `json:"data_type" db:"data_type"`
	Purpose   string     `json:"purpose,omitempty" db:"purpose"`
	GrantedBy string     `json:"granted_by" db:"granted_by"`
	GrantedAt time.Time  `json:"granted_at" db:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Active    bool       `json:"active" db:"active"`
}

// Expired reports whether the grant has passed its expiry time. Records
// without an expiry never expire.
func (r ConsentRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// ConsentCheckResult is the outcome of a consent gate evaluation. Record is
// the matching grant when one exists, including in permissive mode where the
// check permits regardless.
type ConsentCheckResult struct {
	Permitted bool           `json:"permitted"`
	Record    *ConsentRecord `json:"record,omitempty"`
	Reason    string         `json:"reason"`
}
