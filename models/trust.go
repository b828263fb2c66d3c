package models

import "time"

// TrustLevel is the ordinal 0-5 capability tier manually assigned to an
// (agent, scope) pair. Levels are strictly ordered; a higher level supersedes
// every level below it.
type TrustLevel int

const (
	TrustObserver        TrustLevel = 0
	TrustMonitor         TrustLevel = 1
	TrustSuggest         TrustLevel = 2
	TrustActWithApproval TrustLevel = 3
	TrustActAndReport    TrustLevel = 4
	TrustAutonomous      TrustLevel = 5
)

// Valid reports whether the level is inside the [0, 5] range.
func (l TrustLevel) Valid() bool {
	return l >= TrustObserver && l <= TrustAutonomous
}

// String returns the human-readable display name for the level.
func (l TrustLevel) String() string {
	switch l {
	case TrustObserver:
		return "Observer"
	case TrustMonitor:
		return "Monitor"
	case TrustSuggest:
		return "Suggest"
	case TrustActWithApproval:
		return "Act-with-Approval"
	case TrustActAndReport:
		return "Act-and-Report"
	case TrustAutonomous:
		return "Autonomous"
	default:
		return "Unknown"
	}
}

// TrustKey is the composite lookup key for trust assignments. Modelled as a
// struct rather than a concatenated string so scope names containing
// delimiters cannot collide.
type TrustKey struct {
	AgentID string `json:"agent_id"`
	Scope   string `json:"scope"`
}

// TrustAssignment is one live trust-level assignment for an (agent, scope)
// pair. Reassignment replaces the record wholesale; the replaced level is
// carried forward in PreviousLevel for audit purposes.
type TrustAssignment struct {
	AgentID       string      `json:"agent_id" db:"agent_id"`
	Scope         string      `json:"scope" db:"scope"`
	Level         TrustLevel  `json:"level" db:"level"`
	AssignedAt    time.Time   `json:"assigned_at" db:"assigned_at"`
	AssignedBy    string      `json:"assigned_by" db:"assigned_by"`
	Reason        string      `json:"reason,omitempty" db:"reason"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	PreviousLevel *TrustLevel `json:"previous_level,omitempty" db:"previous_level"`
}

// Key returns the composite key for this assignment.
func (a TrustAssignment) Key() TrustKey {
	return TrustKey{AgentID: a.AgentID, Scope: a.Scope}
}

// TrustCheckResult is the outcome of a trust gate evaluation. Denials are
// expressed through Permitted=false, never through an error.
type TrustCheckResult struct {
	Permitted     bool       `json:"permitted"`
	CurrentLevel  TrustLevel `json:"current_level"`
	RequiredLevel TrustLevel `json:"required_level"`
	Scope         string     `json:"scope"`
	Reason        string     `json:"reason"`
}

// TrustChangeKind classifies an entry in the trust change history.
type TrustChangeKind string

const (
	TrustChangeAssignment TrustChangeKind = "assignment"
	TrustChangeDecayCliff TrustChangeKind = "decay_cliff"
	TrustChangeDecayStep  TrustChangeKind = "decay_step"
	TrustChangeRevocation TrustChangeKind = "revocation"
)

// TrustChangeRecord is one immutable entry in the per-(agent, scope) trust
// history: manual assignments, decay events, and revocations.
type TrustChangeRecord struct {
	AgentID       string          `json:"agent_id"`
	Scope         string          `json:"scope"`
	PreviousLevel TrustLevel      `json:"previous_level"`
	NewLevel      TrustLevel      `json:"new_level"`
	Kind          TrustChangeKind `json:"kind"`
	ChangedAt     time.Time       `json:"changed_at"`
	ChangedBy     string          `json:"changed_by,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}
