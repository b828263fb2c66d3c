package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
	"github.com/modelware/agentgate/services"
)

// Config holds consent policy settings.
type Config struct {
	// RequireExplicit makes the consent gate deny when no matching grant
	// exists. When false the gate runs permissive: missing consent is
	// permitted but the absence is surfaced in the check reason.
	RequireExplicit bool
}

// Service is the consent store: an append-only log of explicit data-access
// grants. Revocation deactivates records in place; nothing is ever deleted,
// so the grant history stays reconstructable.
//
// In-memory state is authoritative. Persistence is best effort: storage
// failures are logged and do not fail the mutating call.
type Service struct {
	store  repositories.Storage
	logger *zap.Logger
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	records []models.ConsentRecord
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a consent store backed by the given storage. Existing
// records are loaded so grants survive a restart.
func NewService(ctx context.Context, store repositories.Storage, logger *zap.Logger, cfg Config, opts ...Option) (*Service, error) {
	s := &Service{
		store:  store,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// An empty agent id matches every agent in the storage contract.
	persisted, err := store.GetConsentRecords(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("consent: loading records: %w", err)
	}
	s.records = persisted

	return s, nil
}

// GrantOption customizes a consent grant.
type GrantOption func(*models.ConsentRecord)

// WithExpiry bounds the grant in time.
func WithExpiry(at time.Time) GrantOption {
	return func(r *models.ConsentRecord) {
		t := at
		r.ExpiresAt = &t
	}
}

// Record appends a new consent grant. Overlapping grants for the same
// (agent, data type, purpose) triple are valid and independently revocable.
func (s *Service) Record(ctx context.Context, agentID, dataType, purpose, grantedBy string, opts ...GrantOption) (*models.ConsentRecord, error) {
	if agentID == "" {
		return nil, fmt.Errorf("consent: agent id is required: %w", services.ErrInvalidInput)
	}
	if dataType == "" {
		return nil, fmt.Errorf("consent: data type is required: %w", services.ErrInvalidInput)
	}
	if grantedBy == "" {
		grantedBy = "owner"
	}

	record := models.ConsentRecord{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		DataType:  dataType,
		Purpose:   purpose,
		GrantedBy: grantedBy,
		GrantedAt: s.now(),
		Active:    true,
	}
	for _, opt := range opts {
		opt(&record)
	}

	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()

	if err := s.store.AddConsentRecord(ctx, record); err != nil {
		s.logger.Warn("failed to persist consent record",
			zap.String("agent_id", agentID),
			zap.String("data_type", dataType),
			zap.Error(err))
	}

	s.logger.Info("consent granted",
		zap.String("agent_id", agentID),
		zap.String("data_type", dataType),
		zap.String("purpose", purpose),
		zap.String("granted_by", grantedBy))

	return &record, nil
}

// Check evaluates whether an agent holds an active, unexpired grant for the
// exact (data type, purpose) pair. In permissive mode a missing grant still
// permits, with the absence surfaced in the reason; the matching record,
// when one exists, is attached either way.
func (s *Service) Check(ctx context.Context, agentID, dataType, purpose string) *models.ConsentCheckResult {
	now := s.now()

	s.mu.RLock()
	match := s.findMatchLocked(agentID, dataType, purpose, now)
	s.mu.RUnlock()

	if match != nil {
		return &models.ConsentCheckResult{
			Permitted: true,
			Record:    match,
			Reason:    fmt.Sprintf("active consent for %q with purpose %q", dataType, purpose),
		}
	}

	if s.config.RequireExplicit {
		return &models.ConsentCheckResult{
			Reason: fmt.Sprintf("no active consent for %q with purpose %q", dataType, purpose),
		}
	}
	return &models.ConsentCheckResult{
		Permitted: true,
		Reason:    fmt.Sprintf("no active consent for %q with purpose %q; permitted by permissive policy", dataType, purpose),
	}
}

// Revoke deactivates matching active grants and returns how many were
// revoked. An empty purpose matches grants with any purpose. Records stay
// in the log with Active cleared.
func (s *Service) Revoke(ctx context.Context, agentID, dataType, purpose string) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("consent: agent id is required: %w", services.ErrInvalidInput)
	}
	if dataType == "" {
		return 0, fmt.Errorf("consent: data type is required: %w", services.ErrInvalidInput)
	}

	s.mu.Lock()
	revoked := 0
	for i := range s.records {
		record := &s.records[i]
		if !record.Active || record.AgentID != agentID || record.DataType != dataType {
			continue
		}
		if purpose != "" && record.Purpose != purpose {
			continue
		}
		record.Active = false
		revoked++
	}
	s.mu.Unlock()

	if _, err := s.store.RevokeConsentRecords(ctx, agentID, dataType, purpose); err != nil {
		s.logger.Warn("failed to persist consent revocation",
			zap.String("agent_id", agentID),
			zap.String("data_type", dataType),
			zap.Error(err))
	}

	if revoked > 0 {
		s.logger.Info("consent revoked",
			zap.String("agent_id", agentID),
			zap.String("data_type", dataType),
			zap.String("purpose", purpose),
			zap.Int("revoked", revoked))
	}
	return revoked, nil
}

// List returns the agent's consent records, oldest first, revoked ones
// included. An empty agent id returns the full log.
func (s *Service) List(ctx context.Context, agentID string) []models.ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ConsentRecord, 0, len(s.records))
	for _, record := range s.records {
		if agentID != "" && record.AgentID != agentID {
			continue
		}
		out = append(out, record)
	}
	return out
}

// findMatchLocked returns the most recent active, unexpired grant for the
// exact triple. Callers must hold s.mu.
func (s *Service) findMatchLocked(agentID, dataType, purpose string, now time.Time) *models.ConsentRecord {
	for i := len(s.records) - 1; i >= 0; i-- {
		record := s.records[i]
		if !record.Active || record.Expired(now) {
			continue
		}
		if record.AgentID != agentID || record.DataType != dataType || record.Purpose != purpose {
			continue
		}
		return &record
	}
	return nil
}
