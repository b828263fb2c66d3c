package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
	"github.com/modelware/agentgate/services"
)

// Entry is the caller-supplied portion of an audit record. The chain fills
// in the id, timestamp, and both hashes.
type Entry struct {
	AgentID         string
	Action          string
	Permitted       bool
	TrustLevel      *int
	RequiredLevel   *int
	BudgetUsed      *float64
	BudgetRemaining *float64
	Reason          string
	Metadata        map[string]string
}

// Service maintains the tamper-evident audit chain: an append-only sequence
// of records where each record's hash covers its content plus the previous
// record's hash. Appends are serialized under a mutex so the tip advances
// atomically.
type Service struct {
	store  repositories.Storage
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu  sync.Mutex
	tip string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService builds an audit chain on top of the given storage. The tip is
// seeded from the last persisted record so the chain continues unbroken
// across restarts.
func NewService(ctx context.Context, store repositories.Storage, logger *zap.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		tip:    models.GenesisHash,
	}
	for _, opt := range opts {
		opt(s)
	}

	last, err := store.LatestAuditRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: loading chain tip: %w", err)
	}
	if last != nil {
		s.tip = last.RecordHash
	}

	return s, nil
}

// Append links a new record onto the chain and persists it. The stored
// record is returned with both hashes populated. On a storage failure the
// tip does not advance and the record is discarded.
func (s *Service) Append(ctx context.Context, entry Entry) (*models.AuditRecord, error) {
	if entry.AgentID == "" {
		return nil, fmt.Errorf("audit: agent id is required: %w", services.ErrInvalidInput)
	}
	if entry.Action == "" {
		return nil, fmt.Errorf("audit: action is required: %w", services.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := models.AuditRecord{
		ID:              s.newID(),
		Timestamp:       models.FormatAuditTime(s.now()),
		AgentID:         entry.AgentID,
		Action:          entry.Action,
		Permitted:       entry.Permitted,
		TrustLevel:      entry.TrustLevel,
		RequiredLevel:   entry.RequiredLevel,
		BudgetUsed:      entry.BudgetUsed,
		BudgetRemaining: entry.BudgetRemaining,
		Reason:          entry.Reason,
		Metadata:        entry.Metadata,
		PreviousHash:    s.tip,
	}

	hash, err := ComputeHash(record)
	if err != nil {
		return nil, fmt.Errorf("audit: hashing record: %w", err)
	}
	record.RecordHash = hash

	if err := s.store.AppendAuditRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("audit: persisting record: %w", err)
	}
	s.tip = record.RecordHash

	s.logger.Debug("audit record appended",
		zap.String("record_id", record.ID),
		zap.String("agent_id", record.AgentID),
		zap.String("action", record.Action),
		zap.Bool("permitted", record.Permitted))

	return &record, nil
}

// Query returns records matching the filter in insertion order.
func (s *Service) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	records, err := s.store.QueryAuditRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit: querying records: %w", err)
	}
	return records, nil
}

// Count returns the number of records in the chain.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.store.AuditRecordCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit: counting records: %w", err)
	}
	return n, nil
}

// LastHash returns the current chain tip: the hash of the most recent
// record, or the genesis hash for an empty chain.
func (s *Service) LastHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

// Verify walks the full chain from genesis, checking each record's linkage
// to its predecessor and then its own content hash. It stops at the first
// break and reports its index and kind: a linkage break means a record was
// deleted, inserted, or reordered; a content break means a record was
// mutated in place.
func (s *Service) Verify(ctx context.Context) (*models.ChainVerification, error) {
	records, err := s.store.QueryAuditRecords(ctx, models.AuditFilter{})
	if err != nil {
		return nil, fmt.Errorf("audit: loading chain: %w", err)
	}
	result := VerifyRecords(records)
	return &result, nil
}

// VerifyRecords checks linkage and content hashes over an ordered slice of
// records, starting from the genesis hash.
func VerifyRecords(records []models.AuditRecord) models.ChainVerification {
	expectedPrevious := models.GenesisHash

	for i, record := range records {
		if record.PreviousHash != expectedPrevious {
			index := i
			return models.ChainVerification{
				RecordCount: len(records),
				BrokenAt:    &index,
				BreakKind:   models.BreakLinkage,
				Reason: fmt.Sprintf("record at index %d has previous_hash %q but expected %q",
					i, record.PreviousHash, expectedPrevious),
			}
		}

		recomputed, err := ComputeHash(record)
		if err != nil {
			index := i
			return models.ChainVerification{
				RecordCount: len(records),
				BrokenAt:    &index,
				BreakKind:   models.BreakContent,
				Reason:      fmt.Sprintf("record at index %d could not be rehashed: %v", i, err),
			}
		}
		if record.RecordHash != recomputed {
			index := i
			return models.ChainVerification{
				RecordCount: len(records),
				BrokenAt:    &index,
				BreakKind:   models.BreakContent,
				Reason: fmt.Sprintf("record at index %d (id %q) has record_hash %q but recomputed hash is %q",
					i, record.ID, record.RecordHash, recomputed),
			}
		}

		expectedPrevious = record.RecordHash
	}

	return models.ChainVerification{Valid: true, RecordCount: len(records)}
}

// ComputeHash derives the SHA-256 digest for a record: the canonical JSON
// of every field except record_hash, a newline, then the previous hash.
// The newline keeps the two parts from overlapping. The digest is returned
// as lower-case hex.
func ComputeHash(record models.AuditRecord) (string, error) {
	canonical, err := canonicalJSON(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical + "\n" + record.PreviousHash))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes the hashable portion of a record
// deterministically: keys sorted alphabetically, no whitespace, absent
// optional fields omitted entirely.
func canonicalJSON(record models.AuditRecord) (string, error) {
	pending := map[string]interface{}{
		"id":            record.ID,
		"timestamp":     record.Timestamp,
		"agent_id":      record.AgentID,
		"action":        record.Action,
		"permitted":     record.Permitted,
		"previous_hash": record.PreviousHash,
	}
	if record.TrustLevel != nil {
		pending["trust_level"] = *record.TrustLevel
	}
	if record.RequiredLevel != nil {
		pending["required_level"] = *record.RequiredLevel
	}
	if record.BudgetUsed != nil {
		pending["budget_used"] = *record.BudgetUsed
	}
	if record.BudgetRemaining != nil {
		pending["budget_remaining"] = *record.BudgetRemaining
	}
	if record.Reason != "" {
		pending["reason"] = record.Reason
	}
	if record.Metadata != nil {
		pending["metadata"] = record.Metadata
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(pending); err != nil {
		return "", fmt.Errorf("encoding canonical record: %w", err)
	}
	// Encode appends a trailing newline that is not part of the canonical form.
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
