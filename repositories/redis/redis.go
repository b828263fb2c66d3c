// Package redis provides a Redis Storage backend. Keyed collections live in
// hashes, append-only logs in lists, and every value is JSON. Chain order is
// list order.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/config"
	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
)

// Storage is a Redis implementation of repositories.Storage.
type Storage struct {
	client    *redis.Client
	namespace string
	logger    *zap.Logger
}

var _ repositories.Storage = (*Storage)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return &Storage{
		client:    client,
		namespace: cfg.Namespace,
		logger:    logger,
	}, nil
}

// NewWithClient wraps an existing client. Used by tests running against
// miniredis or a shared pool.
func NewWithClient(client *redis.Client, namespace string, logger *zap.Logger) *Storage {
	return &Storage{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Close closes the client's connection pool.
func (s *Storage) Close() error {
	s.logger.Info("closing redis connection")
	return s.client.Close()
}

// HealthCheck verifies the server answers a ping.
func (s *Storage) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (s *Storage) key(parts ...string) string {
	key := s.namespace
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Trust key fields are JSON so scope names with delimiters cannot collide.
func trustField(key models.TrustKey) (string, error) {
	encoded, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode trust key: %w", err)
	}
	return string(encoded), nil
}

// GetTrustAssignment returns the assignment for the key, or nil when absent.
func (s *Storage) GetTrustAssignment(ctx context.Context, key models.TrustKey) (*models.TrustAssignment, error) {
	field, err := trustField(key)
	if err != nil {
		return nil, err
	}

	value, err := s.client.HGet(ctx, s.key("trust"), field).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust assignment: %w", err)
	}

	var assignment models.TrustAssignment
	if err := json.Unmarshal([]byte(value), &assignment); err != nil {
		return nil, fmt.Errorf("failed to decode trust assignment: %w", err)
	}
	return &assignment, nil
}

// SetTrustAssignment stores the assignment, replacing any existing one.
func (s *Storage) SetTrustAssignment(ctx context.Context, assignment models.TrustAssignment) error {
	field, err := trustField(assignment.Key())
	if err != nil {
		return err
	}

	value, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("failed to encode trust assignment: %w", err)
	}

	if err := s.client.HSet(ctx, s.key("trust"), field, value).Err(); err != nil {
		return fmt.Errorf("failed to set trust assignment: %w", err)
	}
	return nil
}

// DeleteTrustAssignment removes the assignment for the key.
func (s *Storage) DeleteTrustAssignment(ctx context.Context, key models.TrustKey) error {
	field, err := trustField(key)
	if err != nil {
		return err
	}

	if err := s.client.HDel(ctx, s.key("trust"), field).Err(); err != nil {
		return fmt.Errorf("failed to delete trust assignment: %w", err)
	}
	return nil
}

// ListTrustAssignments returns every stored assignment.
func (s *Storage) ListTrustAssignments(ctx context.Context) ([]models.TrustAssignment, error) {
	values, err := s.client.HGetAll(ctx, s.key("trust")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trust assignments: %w", err)
	}

	assignments := make([]models.TrustAssignment, 0, len(values))
	for _, value := range values {
		var assignment models.TrustAssignment
		if err := json.Unmarshal([]byte(value), &assignment); err != nil {
			return nil, fmt.Errorf("failed to decode trust assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

// GetEnvelope returns the envelope for the category, or nil when absent.
func (s *Storage) GetEnvelope(ctx context.Context, category string) (*models.SpendingEnvelope, error) {
	value, err := s.client.HGet(ctx, s.key("budget", "envelopes"), category).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}

	var envelope models.SpendingEnvelope
	if err := json.Unmarshal([]byte(value), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &envelope, nil
}

// SetEnvelope stores the envelope, replacing any existing one.
func (s *Storage) SetEnvelope(ctx context.Context, envelope models.SpendingEnvelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := s.client.HSet(ctx, s.key("budget", "envelopes"), envelope.Category, value).Err(); err != nil {
		return fmt.Errorf("failed to set envelope: %w", err)
	}
	return nil
}

// ListEnvelopes returns every stored envelope.
func (s *Storage) ListEnvelopes(ctx context.Context) ([]models.SpendingEnvelope, error) {
	values, err := s.client.HGetAll(ctx, s.key("budget", "envelopes")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}

	envelopes := make([]models.SpendingEnvelope, 0, len(values))
	for _, value := range values {
		var envelope models.SpendingEnvelope
		if err := json.Unmarshal([]byte(value), &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode envelope: %w", err)
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// AddTransaction appends a completed spend record.
func (s *Storage) AddTransaction(ctx context.Context, tx models.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	if err := s.client.RPush(ctx, s.key("budget", "transactions"), value).Err(); err != nil {
		return fmt.Errorf("failed to add transaction: %w", err)
	}
	return nil
}

// AddConsentRecord appends a consent grant.
func (s *Storage) AddConsentRecord(ctx context.Context, record models.ConsentRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode consent record: %w", err)
	}

	if err := s.client.RPush(ctx, s.key("consent"), value).Err(); err != nil {
		return fmt.Errorf("failed to add consent record: %w", err)
	}
	return nil
}

// GetConsentRecords returns the agent's records in grant order. An empty
// agent id returns the full log.
func (s *Storage) GetConsentRecords(ctx context.Context, agentID string) ([]models.ConsentRecord, error) {
	values, err := s.client.LRange(ctx, s.key("consent"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get consent records: %w", err)
	}

	var records []models.ConsentRecord
	for _, value := range values {
		var record models.ConsentRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, fmt.Errorf("failed to decode consent record: %w", err)
		}
		if agentID == "" || record.AgentID == agentID {
			records = append(records, record)
		}
	}
	return records, nil
}

// RevokeConsentRecords deactivates matching active records in place. An
// empty purpose matches every purpose for the data type.
func (s *Storage) RevokeConsentRecords(ctx context.Context, agentID, dataType, purpose string) (int, error) {
	listKey := s.key("consent")
	values, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to load consent records: %w", err)
	}

	count := 0
	for i, value := range values {
		var record models.ConsentRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return count, fmt.Errorf("failed to decode consent record: %w", err)
		}
		if !record.Active || record.AgentID != agentID || record.DataType != dataType {
			continue
		}
		if purpose != "" && record.Purpose != purpose {
			continue
		}

		record.Active = false
		updated, err := json.Marshal(record)
		if err != nil {
			return count, fmt.Errorf("failed to encode consent record: %w", err)
		}
		if err := s.client.LSet(ctx, listKey, int64(i), updated).Err(); err != nil {
			return count, fmt.Errorf("failed to update consent record: %w", err)
		}
		count++
	}
	return count, nil
}

// AppendAuditRecord appends a finalized record to the chain list.
func (s *Storage) AppendAuditRecord(ctx context.Context, record models.AuditRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	if err := s.client.RPush(ctx, s.key("audit"), value).Err(); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// QueryAuditRecords returns records matching the filter in chain order.
func (s *Storage) QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	values, err := s.client.LRange(ctx, s.key("audit"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}

	var matched []models.AuditRecord
	for _, value := range values {
		var record models.AuditRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
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

// LatestAuditRecord returns the chain tip, or nil for an empty chain.
func (s *Storage) LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error) {
	value, err := s.client.LIndex(ctx, s.key("audit"), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit record: %w", err)
	}

	var record models.AuditRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to decode audit record: %w", err)
	}
	return &record, nil
}

// AuditRecordCount returns the chain length.
func (s *Storage) AuditRecordCount(ctx context.Context) (int, error) {
	count, err := s.client.LLen(ctx, s.key("audit")).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return int(count), nil
}
