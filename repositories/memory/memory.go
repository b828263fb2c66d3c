// Package memory provides the default in-process Storage backend. It is the
// authoritative store for single-node deployments and the reference
// implementation the other backends are tested against.
package memory

import (
	"context"
	"sync"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
)

// Storage is an in-memory implementation of repositories.Storage. Safe for
// concurrent use; every method copies on the way in and out so callers can
// never alias internal state.
type Storage struct {
	mu           sync.RWMutex
	trust        map[models.TrustKey]models.TrustAssignment
	envelopes    map[string]models.SpendingEnvelope
	transactions []models.Transaction
	consents     []models.ConsentRecord
	audit        []models.AuditRecord
}

// New creates an empty in-memory storage backend.
func New() *Storage {
	return &Storage{
		trust:     make(map[models.TrustKey]models.TrustAssignment),
		envelopes: make(map[string]models.SpendingEnvelope),
	}
}

var _ repositories.Storage = (*Storage)(nil)

// GetTrustAssignment returns the live assignment for the key.
func (s *Storage) GetTrustAssignment(ctx context.Context, key models.TrustKey) (*models.TrustAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignment, ok := s.trust[key]
	if !ok {
		return nil, nil
	}
	return &assignment, nil
}

// SetTrustAssignment stores the assignment, replacing any existing one.
func (s *Storage) SetTrustAssignment(ctx context.Context, assignment models.TrustAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trust[assignment.Key()] = assignment
	return nil
}

// DeleteTrustAssignment removes the assignment for the key.
func (s *Storage) DeleteTrustAssignment(ctx context.Context, key models.TrustKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trust, key)
	return nil
}

// ListTrustAssignments returns every live assignment.
func (s *Storage) ListTrustAssignments(ctx context.Context) ([]models.TrustAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments := make([]models.TrustAssignment, 0, len(s.trust))
	for _, assignment := range s.trust {
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

// GetEnvelope returns the envelope for the category.
func (s *Storage) GetEnvelope(ctx context.Context, category string) (*models.SpendingEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	envelope, ok := s.envelopes[category]
	if !ok {
		return nil, nil
	}
	return &envelope, nil
}

// SetEnvelope stores the envelope, replacing any existing one.
func (s *Storage) SetEnvelope(ctx context.Context, envelope models.SpendingEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.envelopes[envelope.Category] = envelope
	return nil
}

// ListEnvelopes returns every stored envelope.
func (s *Storage) ListEnvelopes(ctx context.Context) ([]models.SpendingEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	envelopes := make([]models.SpendingEnvelope, 0, len(s.envelopes))
	for _, envelope := range s.envelopes {
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// AddTransaction appends a completed spend record.
func (s *Storage) AddTransaction(ctx context.Context, tx models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, tx)
	return nil
}

// AddConsentRecord appends a consent grant.
func (s *Storage) AddConsentRecord(ctx context.Context, record models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consents = append(s.consents, record)
	return nil
}

// GetConsentRecords returns every consent record for the agent, oldest first.
func (s *Storage) GetConsentRecords(ctx context.Context, agentID string) ([]models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.ConsentRecord
	for _, record := range s.consents {
		if agentID == "" || record.AgentID == agentID {
			records = append(records, record)
		}
	}
	return records, nil
}

// RevokeConsentRecords marks matching active records inactive.
func (s *Storage) RevokeConsentRecords(ctx context.Context, agentID, dataType, purpose string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for i := range s.consents {
		record := &s.consents[i]
		if !record.Active || record.AgentID != agentID || record.DataType != dataType {
			continue
		}
		if purpose != "" && record.Purpose != purpose {
			continue
		}
		record.Active = false
		count++
	}
	return count, nil
}

// AppendAuditRecord appends a finalized record to the chain.
func (s *Storage) AppendAuditRecord(ctx context.Context, record models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, record)
	return nil
}

// QueryAuditRecords returns records matching the filter in append order.
func (s *Storage) QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.AuditRecord
	for _, record := range s.audit {
		if repositories.MatchAudit(record, filter) {
			matched = append(matched, record)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// LatestAuditRecord returns the most recently appended record.
func (s *Storage) LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.audit) == 0 {
		return nil, nil
	}
	record := s.audit[len(s.audit)-1]
	return &record, nil
}

// AuditRecordCount returns the number of stored audit records.
func (s *Storage) AuditRecordCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.audit), nil
}
