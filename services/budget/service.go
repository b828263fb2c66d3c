package budget

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
	"github.com/modelware/agentgate/services"
)

// Service is the budget ledger: it owns spending envelopes per cost
// category, answers read-only affordability checks, records completed
// spends, and holds two-phase reservations for in-flight operations.
//
// Period rollover is lazy: no timers run. Every operation that touches an
// envelope first rolls its window forward if one or more full periods have
// elapsed, which zeroes the period accumulators. Lifetime envelopes never
// roll over.
//
// In-memory state is authoritative. Persistence is best effort: storage
// failures are logged and do not fail the mutating call.
type Service struct {
	store  repositories.Storage
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	envelopes    map[string]*models.SpendingEnvelope
	commits      map[string]models.PendingCommit
	transactions []models.Transaction
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a budget ledger backed by the given storage. Existing
// envelopes are loaded so balances survive a restart; pending commits are
// deliberately not persisted and die with the process.
func NewService(ctx context.Context, store repositories.Storage, logger *zap.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		store:     store,
		logger:    logger,
		now:       time.Now,
		envelopes: make(map[string]*models.SpendingEnvelope),
		commits:   make(map[string]models.PendingCommit),
	}
	for _, opt := range opts {
		opt(s)
	}

	persisted, err := store.ListEnvelopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("budget: loading envelopes: %w", err)
	}
	for _, e := range persisted {
		envelope := e
		s.envelopes[envelope.Category] = &envelope
	}

	return s, nil
}

// CreateEnvelope installs a spending envelope for a category, replacing any
// existing envelope wholesale. Replaced accumulators are discarded.
func (s *Service) CreateEnvelope(ctx context.Context, category string, limit float64, period models.BudgetPeriod) (*models.SpendingEnvelope, error) {
	if category == "" {
		return nil, fmt.Errorf("budget: category is required: %w", services.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("budget: limit must be positive, got %v: %w", limit, services.ErrInvalidInput)
	}
	if !period.Valid() {
		return nil, fmt.Errorf("budget: invalid period %q: %w", period, services.ErrInvalidInput)
	}

	envelope := models.SpendingEnvelope{
		ID:          uuid.New().String(),
		Category:    category,
		Limit:       limit,
		Period:      period,
		PeriodStart: s.now(),
	}

	s.mu.Lock()
	s.envelopes[category] = &envelope
	s.mu.Unlock()

	s.persist(ctx, envelope)
	s.logger.Info("envelope created",
		zap.String("category", category),
		zap.Float64("limit", limit),
		zap.String("period", string(period)))

	return &envelope, nil
}

// Check is the read-only affordability probe: would spending amount in the
// category fit the envelope right now? It mutates nothing beyond lazy
// rollover and never reserves funds. Denials are expressed through
// Permitted=false, never an error.
func (s *Service) Check(ctx context.Context, category string, amount float64) *models.BudgetCheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, ok := s.envelopes[category]
	if !ok {
		return &models.BudgetCheckResult{
			Requested: amount,
			Reason:    models.BudgetNoEnvelope,
		}
	}
	s.rolloverLocked(ctx, envelope)

	result := &models.BudgetCheckResult{
		Requested: amount,
		Limit:     envelope.Limit,
		Spent:     envelope.Spent,
		Committed: envelope.Committed,
		Available: envelope.Available(),
	}
	switch {
	case envelope.Suspended:
		result.Reason = models.BudgetSuspended
	case amount > envelope.Available():
		result.Reason = models.BudgetExceedsBudget
	default:
		result.Permitted = true
		result.Reason = models.BudgetWithinBudget
	}
	return result
}

// Record books a completed spend against the category's envelope. It does
// not re-check affordability: callers gate with Check or Commit first, and
// a spend that lands after the window rolled is still booked. An envelope
// can therefore go over its limit; Available floors at zero.
func (s *Service) Record(ctx context.Context, category string, amount float64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("budget: amount must be positive, got %v: %w", amount, services.ErrInvalidInput)
	}

	s.mu.Lock()
	envelope, ok := s.envelopes[category]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("budget: no envelope for category %q: %w", category, services.ErrEnvelopeNotFound)
	}
	s.rolloverLocked(ctx, envelope)
	envelope.Spent += amount

	transaction := models.Transaction{
		ID:          uuid.New().String(),
		EnvelopeID:  envelope.ID,
		Category:    category,
		Amount:      amount,
		Description: description,
		Timestamp:   s.now(),
	}
	s.transactions = append(s.transactions, transaction)
	snapshot := *envelope
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	if err := s.store.AddTransaction(ctx, transaction); err != nil {
		s.logger.Warn("failed to persist transaction",
			zap.String("category", category),
			zap.Error(err))
	}

	s.logger.Info("spend recorded",
		zap.String("category", category),
		zap.Float64("amount", amount),
		zap.Float64("spent", snapshot.Spent))

	return &transaction, nil
}

// Commit reserves amount against the category's envelope for an in-flight
// operation. The reservation reduces the available balance without touching
// spent. A denial reserves nothing.
func (s *Service) Commit(ctx context.Context, category string, amount float64) (*models.CommitResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("budget: amount must be positive, got %v: %w", amount, services.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, ok := s.envelopes[category]
	if !ok {
		return &models.CommitResult{Requested: amount, Reason: models.BudgetNoEnvelope}, nil
	}
	s.rolloverLocked(ctx, envelope)

	if envelope.Suspended {
		return &models.CommitResult{
			Requested: amount,
			Available: envelope.Available(),
			Reason:    models.BudgetSuspended,
		}, nil
	}
	if amount > envelope.Available() {
		return &models.CommitResult{
			Requested: amount,
			Available: envelope.Available(),
			Reason:    models.BudgetExceedsBudget,
		}, nil
	}

	commit := models.PendingCommit{
		ID:        uuid.New().String(),
		Category:  category,
		Amount:    amount,
		CreatedAt: s.now(),
	}
	envelope.Committed += amount
	s.commits[commit.ID] = commit
	s.persist(ctx, *envelope)

	return &models.CommitResult{
		Permitted: true,
		CommitID:  commit.ID,
		Requested: amount,
		Available: envelope.Available(),
		Reason:    models.BudgetWithinBudget,
	}, nil
}

// Release settles a reservation. When spent is true the reserved amount
// converts into a recorded spend; otherwise it returns to the available
// balance. Either way the reservation is consumed.
func (s *Service) Release(ctx context.Context, commitID string, spent bool, description string) error {
	s.mu.Lock()
	commit, ok := s.commits[commitID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("budget: unknown commit %q: %w", commitID, services.ErrCommitNotFound)
	}
	delete(s.commits, commitID)

	envelope, ok := s.envelopes[commit.Category]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("budget: envelope for commit %q no longer exists: %w", commitID, services.ErrEnvelopeNotFound)
	}
	envelope.Committed -= commit.Amount
	if envelope.Committed < 0 {
		envelope.Committed = 0
	}

	var transaction *models.Transaction
	if spent {
		envelope.Spent += commit.Amount
		tx := models.Transaction{
			ID:          uuid.New().String(),
			EnvelopeID:  envelope.ID,
			Category:    commit.Category,
			Amount:      commit.Amount,
			Description: description,
			Timestamp:   s.now(),
		}
		s.transactions = append(s.transactions, tx)
		transaction = &tx
	}
	snapshot := *envelope
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	if transaction != nil {
		if err := s.store.AddTransaction(ctx, *transaction); err != nil {
			s.logger.Warn("failed to persist transaction",
				zap.String("category", commit.Category),
				zap.Error(err))
		}
	}
	return nil
}

// Suspend freezes an envelope: checks and commits against it are denied
// until it is resumed. Accumulators are untouched.
func (s *Service) Suspend(ctx context.Context, category string) error {
	return s.setSuspended(ctx, category, true)
}

// Resume unfreezes a suspended envelope.
func (s *Service) Resume(ctx context.Context, category string) error {
	return s.setSuspended(ctx, category, false)
}

func (s *Service) setSuspended(ctx context.Context, category string, suspended bool) error {
	s.mu.Lock()
	envelope, ok := s.envelopes[category]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("budget: no envelope for category %q: %w", category, services.ErrEnvelopeNotFound)
	}
	envelope.Suspended = suspended
	snapshot := *envelope
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.logger.Info("envelope suspension changed",
		zap.String("category", category),
		zap.Bool("suspended", suspended))
	return nil
}

// Utilization returns a point-in-time snapshot of every envelope, sorted by
// category.
func (s *Service) Utilization(ctx context.Context) []models.BudgetUtilization {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.BudgetUtilization, 0, len(s.envelopes))
	for _, envelope := range s.envelopes {
		s.rolloverLocked(ctx, envelope)
		percent := 0.0
		if envelope.Limit > 0 {
			percent = (envelope.Spent + envelope.Committed) / envelope.Limit * 100
		}
		out = append(out, models.BudgetUtilization{
			Category:    envelope.Category,
			Limit:       envelope.Limit,
			Spent:       envelope.Spent,
			Committed:   envelope.Committed,
			Available:   envelope.Available(),
			Percent:     percent,
			Period:      envelope.Period,
			PeriodStart: envelope.PeriodStart,
			Suspended:   envelope.Suspended,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// GetEnvelope returns a copy of the category's envelope after lazy rollover.
func (s *Service) GetEnvelope(ctx context.Context, category string) (*models.SpendingEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, ok := s.envelopes[category]
	if !ok {
		return nil, fmt.Errorf("budget: no envelope for category %q: %w", category, services.ErrEnvelopeNotFound)
	}
	s.rolloverLocked(ctx, envelope)
	snapshot := *envelope
	return &snapshot, nil
}

// ListEnvelopes returns copies of all envelopes after lazy rollover, sorted
// by category.
func (s *Service) ListEnvelopes(ctx context.Context) []models.SpendingEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SpendingEnvelope, 0, len(s.envelopes))
	for _, envelope := range s.envelopes {
		s.rolloverLocked(ctx, envelope)
		out = append(out, *envelope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Transactions returns the recorded spends matching the filter, oldest
// first.
func (s *Service) Transactions(ctx context.Context, filter models.TransactionFilter) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.transactions {
		if filter.Category != "" && tx.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && tx.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && tx.Timestamp.After(filter.Until) {
			continue
		}
		if filter.MinAmount != nil && tx.Amount < *filter.MinAmount {
			continue
		}
		if filter.MaxAmount != nil && tx.Amount > *filter.MaxAmount {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// rolloverLocked advances the envelope's window when one or more full
// periods have elapsed, zeroing the period accumulators. The window
// advances by whole periods so its boundaries stay aligned to the original
// start. Callers must hold s.mu.
func (s *Service) rolloverLocked(ctx context.Context, envelope *models.SpendingEnvelope) {
	duration, resets := envelope.Period.Duration()
	if !resets {
		return
	}
	elapsed := s.now().Sub(envelope.PeriodStart)
	if elapsed < duration {
		return
	}

	periods := elapsed / duration
	envelope.PeriodStart = envelope.PeriodStart.Add(periods * duration)
	envelope.Spent = 0
	envelope.Committed = 0

	// Reservations made in the old window are void after rollover.
	for id, commit := range s.commits {
		if commit.Category == envelope.Category {
			delete(s.commits, id)
		}
	}

	s.persist(ctx, *envelope)
	s.logger.Debug("envelope rolled over",
		zap.String("category", envelope.Category),
		zap.Time("period_start", envelope.PeriodStart))
}

func (s *Service) persist(ctx context.Context, envelope models.SpendingEnvelope) {
	if err := s.store.SetEnvelope(ctx, envelope); err != nil {
		s.logger.Warn("failed to persist envelope",
			zap.String("category", envelope.Category),
			zap.Error(err))
	}
}
