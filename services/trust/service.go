package trust

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
	"github.com/modelware/agentgate/services"
)

// DefaultScope is used when callers pass an empty scope.
const DefaultScope = "global"

// Config holds registry-wide trust settings.
type Config struct {
	// DefaultLevel is the effective level reported for agents with no
	// assignment in a scope.
	DefaultLevel models.TrustLevel

	// Decay controls how effective levels erode over time.
	Decay DecayConfig

	// MaxHistoryPerKey caps the retained change records per (agent, scope).
	// Zero means unlimited.
	MaxHistoryPerKey int
}

// Service is the trust registry: it owns level assignments per
// (agent, scope), computes effective levels with decay applied, and
// answers permit/deny checks against a required level.
//
// In-memory state is authoritative. Persistence is best effort: storage
// failures are logged and do not fail the mutating call.
type Service struct {
	store  repositories.Storage
	logger *zap.Logger
	config Config
	now    func() time.Time

	mu           sync.RWMutex
	assignments  map[models.TrustKey]models.TrustAssignment
	history      map[models.TrustKey][]models.TrustChangeRecord
	lastObserved map[models.TrustKey]models.TrustLevel
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a trust registry backed by the given storage. Existing
// assignments are loaded so effective levels survive a restart.
func NewService(ctx context.Context, store repositories.Storage, logger *zap.Logger, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Decay.Validate(); err != nil {
		return nil, err
	}
	if !cfg.DefaultLevel.Valid() {
		return nil, fmt.Errorf("trust: invalid default level %d: %w", cfg.DefaultLevel, services.ErrInvalidInput)
	}

	s := &Service{
		store:        store,
		logger:       logger,
		config:       cfg,
		now:          time.Now,
		assignments:  make(map[models.TrustKey]models.TrustAssignment),
		history:      make(map[models.TrustKey][]models.TrustChangeRecord),
		lastObserved: make(map[models.TrustKey]models.TrustLevel),
	}
	for _, opt := range opts {
		opt(s)
	}

	persisted, err := store.ListTrustAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("trust: loading assignments: %w", err)
	}
	for _, a := range persisted {
		s.assignments[a.Key()] = a
		s.lastObserved[a.Key()] = a.Level
	}

	return s, nil
}

// AssignOption customizes an assignment.
type AssignOption func(*models.TrustAssignment)

// WithReason records why the level was granted.
func WithReason(reason string) AssignOption {
	return func(a *models.TrustAssignment) { a.Reason = reason }
}

// WithExpiry sets the instant the assignment starts to decay.
func WithExpiry(at time.Time) AssignOption {
	return func(a *models.TrustAssignment) {
		t := at
		a.ExpiresAt = &t
	}
}

// Assign grants an agent a trust level within a scope, replacing any
// previous assignment for the same (agent, scope). The replaced level, if
// any, is preserved on the new assignment and in the change history.
func (s *Service) Assign(ctx context.Context, agentID, scope string, level models.TrustLevel, assignedBy string, opts ...AssignOption) (*models.TrustAssignment, error) {
	if agentID == "" {
		return nil, fmt.Errorf("trust: agent id is required: %w", services.ErrInvalidInput)
	}
	if !level.Valid() {
		return nil, fmt.Errorf("trust: invalid level %d: %w", level, services.ErrInvalidInput)
	}
	if scope == "" {
		scope = DefaultScope
	}
	if assignedBy == "" {
		assignedBy = "owner"
	}

	assignment := models.TrustAssignment{
		AgentID:    agentID,
		Scope:      scope,
		Level:      level,
		AssignedAt: s.now(),
		AssignedBy: assignedBy,
	}
	for _, opt := range opts {
		opt(&assignment)
	}

	key := assignment.Key()

	s.mu.Lock()
	previous := s.config.DefaultLevel
	if prev, ok := s.assignments[key]; ok {
		prevLevel := prev.Level
		assignment.PreviousLevel = &prevLevel
		previous = prev.Level
	}
	s.assignments[key] = assignment
	s.lastObserved[key] = level
	s.appendHistoryLocked(key, models.TrustChangeRecord{
		AgentID:       agentID,
		Scope:         scope,
		PreviousLevel: previous,
		NewLevel:      level,
		Kind:          models.TrustChangeAssignment,
		ChangedAt:     assignment.AssignedAt,
		ChangedBy:     assignedBy,
		Reason:        assignment.Reason,
	})
	s.mu.Unlock()

	if err := s.store.SetTrustAssignment(ctx, assignment); err != nil {
		s.logger.Warn("failed to persist trust assignment",
			zap.String("agent_id", agentID),
			zap.String("scope", scope),
			zap.Error(err))
	}

	s.logger.Info("trust level assigned",
		zap.String("agent_id", agentID),
		zap.String("scope", scope),
		zap.Int("level", int(level)),
		zap.String("assigned_by", assignedBy))

	return &assignment, nil
}

// GetEffectiveLevel returns the decayed level for an agent in a scope at
// the given instant. Agents without an assignment get the configured
// default. The level computation is pure, but a read that observes a decay
// step records an in-memory history entry for it.
func (s *Service) GetEffectiveLevel(ctx context.Context, agentID, scope string, now time.Time) models.TrustLevel {
	if scope == "" {
		scope = DefaultScope
	}
	key := models.TrustKey{AgentID: agentID, Scope: scope}

	s.mu.RLock()
	assignment, ok := s.assignments[key]
	s.mu.RUnlock()
	if !ok {
		return s.config.DefaultLevel
	}

	effective := EffectiveLevel(assignment, s.config.Decay, now)
	s.recordDecay(key, assignment, effective, now)
	return effective
}

// Check evaluates whether an agent's effective level meets a required
// level. It never returns an error; an unknown agent simply checks at the
// default level.
func (s *Service) Check(ctx context.Context, agentID string, required models.TrustLevel, scope string) *models.TrustCheckResult {
	if scope == "" {
		scope = DefaultScope
	}
	current := s.GetEffectiveLevel(ctx, agentID, scope, s.now())

	result := &models.TrustCheckResult{
		Permitted:     current >= required,
		CurrentLevel:  current,
		RequiredLevel: required,
		Scope:         scope,
	}
	if result.Permitted {
		result.Reason = fmt.Sprintf("trust level %d meets required %d in scope %q", current, required, scope)
	} else {
		result.Reason = fmt.Sprintf("trust level %d below required %d in scope %q", current, required, scope)
	}
	return result
}

// Revoke removes an agent's assignment in a scope. An empty scope removes
// the agent's assignments across all scopes. It returns the number of
// assignments removed.
func (s *Service) Revoke(ctx context.Context, agentID, revokedBy string, scope string) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("trust: agent id is required: %w", services.ErrInvalidInput)
	}
	if revokedBy == "" {
		revokedBy = "owner"
	}
	now := s.now()

	s.mu.Lock()
	var removed []models.TrustKey
	for key, assignment := range s.assignments {
		if key.AgentID != agentID {
			continue
		}
		if scope != "" && key.Scope != scope {
			continue
		}
		s.appendHistoryLocked(key, models.TrustChangeRecord{
			AgentID:       agentID,
			Scope:         key.Scope,
			PreviousLevel: assignment.Level,
			NewLevel:      models.TrustObserver,
			Kind:          models.TrustChangeRevocation,
			ChangedAt:     now,
			ChangedBy:     revokedBy,
		})
		delete(s.assignments, key)
		delete(s.lastObserved, key)
		removed = append(removed, key)
	}
	s.mu.Unlock()

	for _, key := range removed {
		if err := s.store.DeleteTrustAssignment(ctx, key); err != nil {
			s.logger.Warn("failed to delete persisted trust assignment",
				zap.String("agent_id", key.AgentID),
				zap.String("scope", key.Scope),
				zap.Error(err))
		}
	}

	if len(removed) > 0 {
		s.logger.Info("trust revoked",
			zap.String("agent_id", agentID),
			zap.String("scope", scope),
			zap.Int("removed", len(removed)))
	}
	return len(removed), nil
}

// History returns the recorded trust changes for an agent, oldest first.
// An empty scope returns changes across all scopes.
func (s *Service) History(ctx context.Context, agentID, scope string) []models.TrustChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TrustChangeRecord
	for key, records := range s.history {
		if key.AgentID != agentID {
			continue
		}
		if scope != "" && key.Scope != scope {
			continue
		}
		out = append(out, records...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out
}

// ListAssignments returns a snapshot of all current assignments.
func (s *Service) ListAssignments(ctx context.Context) []models.TrustAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TrustAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out
}

// recordDecay appends a history entry the first time a lower effective
// level is observed for a key. Reads are otherwise side-effect free.
func (s *Service) recordDecay(key models.TrustKey, assignment models.TrustAssignment, effective models.TrustLevel, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastObserved[key]
	if !ok || effective >= last {
		return
	}

	kind := models.TrustChangeDecayStep
	if s.config.Decay.Mode == DecayCliff {
		kind = models.TrustChangeDecayCliff
	}
	s.appendHistoryLocked(key, models.TrustChangeRecord{
		AgentID:       key.AgentID,
		Scope:         key.Scope,
		PreviousLevel: last,
		NewLevel:      effective,
		Kind:          kind,
		ChangedAt:     now,
		ChangedBy:     "system",
		Reason:        fmt.Sprintf("decay from level %d under %s mode", int(assignment.Level), s.config.Decay.Mode),
	})
	s.lastObserved[key] = effective
}

func (s *Service) appendHistoryLocked(key models.TrustKey, record models.TrustChangeRecord) {
	records := append(s.history[key], record)
	if max := s.config.MaxHistoryPerKey; max > 0 && len(records) > max {
		records = records[len(records)-max:]
	}
	s.history[key] = records
}
