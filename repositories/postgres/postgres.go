// Package postgres provides the PostgreSQL Storage backend. All queries are
// plain SQL through database/sql with the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/modelware/agentgate/config"
	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
)

// Storage is a PostgreSQL implementation of repositories.Storage.
type Storage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repositories.Storage = (*Storage)(nil)

// New opens a connection pool, verifies it, and ensures the schema exists.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db, logger: logger}
	if err := storage.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return storage, nil
}

// NewWithDB wraps an existing connection without touching the schema.
// Used by tests that provide a mock connection.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	s.logger.Info("closing database connection")
	return s.db.Close()
}

// HealthCheck verifies the pool can answer a query.
func (s *Storage) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS trust_assignments (
			agent_id       TEXT NOT NULL,
			scope          TEXT NOT NULL,
			level          INT NOT NULL,
			assigned_at    TIMESTAMPTZ NOT NULL,
			assigned_by    TEXT NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			expires_at     TIMESTAMPTZ,
			previous_level INT,
			PRIMARY KEY (agent_id, scope)
		);

		CREATE TABLE IF NOT EXISTS spending_envelopes (
			category     TEXT PRIMARY KEY,
			id           TEXT NOT NULL,
			limit_amount DOUBLE PRECISION NOT NULL,
			period       TEXT NOT NULL,
			spent        DOUBLE PRECISION NOT NULL,
			committed    DOUBLE PRECISION NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			suspended    BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS budget_transactions (
			id          TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			category    TEXT NOT NULL,
			amount      DOUBLE PRECISION NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			timestamp   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consent_records (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			data_type  TEXT NOT NULL,
			purpose    TEXT NOT NULL DEFAULT '',
			granted_by TEXT NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			active     BOOLEAN NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_records (
			seq              BIGSERIAL PRIMARY KEY,
			id               TEXT NOT NULL UNIQUE,
			timestamp        TEXT NOT NULL,
			agent_id         TEXT NOT NULL,
			action           TEXT NOT NULL,
			permitted        BOOLEAN NOT NULL,
			trust_level      INT,
			required_level   INT,
			budget_used      DOUBLE PRECISION,
			budget_remaining DOUBLE PRECISION,
			reason           TEXT NOT NULL DEFAULT '',
			metadata         JSONB,
			previous_hash    TEXT NOT NULL,
			record_hash      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_records (agent_id);
		CREATE INDEX IF NOT EXISTS idx_consent_agent ON consent_records (agent_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_category ON budget_transactions (category);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// GetTrustAssignment returns the assignment for the key, or nil when absent.
func (s *Storage) GetTrustAssignment(ctx context.Context, key models.TrustKey) (*models.TrustAssignment, error) {
	query := `
		SELECT agent_id, scope, level, assigned_at, assigned_by, reason, expires_at, previous_level
		FROM trust_assignments
		WHERE agent_id = $1 AND scope = $2
	`

	assignment, err := scanTrustAssignment(s.db.QueryRowContext(ctx, query, key.AgentID, key.Scope))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust assignment: %w", err)
	}
	return assignment, nil
}

// SetTrustAssignment upserts the assignment for its key.
func (s *Storage) SetTrustAssignment(ctx context.Context, assignment models.TrustAssignment) error {
	query := `
		INSERT INTO trust_assignments (agent_id, scope, level, assigned_at, assigned_by, reason, expires_at, previous_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id, scope) DO UPDATE SET
			level = EXCLUDED.level,
			assigned_at = EXCLUDED.assigned_at,
			assigned_by = EXCLUDED.assigned_by,
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			previous_level = EXCLUDED.previous_level
	`

	var previous *int
	if assignment.PreviousLevel != nil {
		value := int(*assignment.PreviousLevel)
		previous = &value
	}

	_, err := s.db.ExecContext(ctx, query,
		assignment.AgentID,
		assignment.Scope,
		int(assignment.Level),
		assignment.AssignedAt,
		assignment.AssignedBy,
		assignment.Reason,
		assignment.ExpiresAt,
		previous,
	)
	if err != nil {
		return fmt.Errorf("failed to set trust assignment: %w", err)
	}
	return nil
}

// DeleteTrustAssignment removes the assignment for the key.
func (s *Storage) DeleteTrustAssignment(ctx context.Context, key models.TrustKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM trust_assignments WHERE agent_id = $1 AND scope = $2`,
		key.AgentID, key.Scope)
	if err != nil {
		return fmt.Errorf("failed to delete trust assignment: %w", err)
	}
	return nil
}

// ListTrustAssignments returns every stored assignment.
func (s *Storage) ListTrustAssignments(ctx context.Context) ([]models.TrustAssignment, error) {
	query := `
		SELECT agent_id, scope, level, assigned_at, assigned_by, reason, expires_at, previous_level
		FROM trust_assignments
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list trust assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.TrustAssignment
	for rows.Next() {
		assignment, err := scanTrustAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trust assignment: %w", err)
		}
		assignments = append(assignments, *assignment)
	}
	return assignments, rows.Err()
}

// GetEnvelope returns the envelope for the category, or nil when absent.
func (s *Storage) GetEnvelope(ctx context.Context, category string) (*models.SpendingEnvelope, error) {
	query := `
		SELECT id, category, limit_amount, period, spent, committed, period_start, suspended
		FROM spending_envelopes
		WHERE category = $1
	`

	envelope, err := scanEnvelope(s.db.QueryRowContext(ctx, query, category))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}
	return envelope, nil
}

// SetEnvelope upserts the envelope for its category.
func (s *Storage) SetEnvelope(ctx context.Context, envelope models.SpendingEnvelope) error {
	query := `
		INSERT INTO spending_envelopes (category, id, limit_amount, period, spent, committed, period_start, suspended)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (category) DO UPDATE SET
			id = EXCLUDED.id,
			limit_amount = EXCLUDED.limit_amount,
			period = EXCLUDED.period,
			spent = EXCLUDED.spent,
			committed = EXCLUDED.committed,
			period_start = EXCLUDED.period_start,
			suspended = EXCLUDED.suspended
	`

	_, err := s.db.ExecContext(ctx, query,
		envelope.Category,
		envelope.ID,
		envelope.Limit,
		string(envelope.Period),
		envelope.Spent,
		envelope.Committed,
		envelope.PeriodStart,
		envelope.Suspended,
	)
	if err != nil {
		return fmt.Errorf("failed to set envelope: %w", err)
	}
	return nil
}

// ListEnvelopes returns every stored envelope.
func (s *Storage) ListEnvelopes(ctx context.Context) ([]models.SpendingEnvelope, error) {
	query := `
		SELECT id, category, limit_amount, period, spent, committed, period_start, suspended
		FROM spending_envelopes
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []models.SpendingEnvelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		envelopes = append(envelopes, *envelope)
	}
	return envelopes, rows.Err()
}

// AddTransaction appends a completed spend record.
func (s *Storage) AddTransaction(ctx context.Context, tx models.Transaction) error {
	query := `
		INSERT INTO budget_transactions (id, envelope_id, category, amount, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.EnvelopeID, tx.Category, tx.Amount, tx.Description, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to add transaction: %w", err)
	}
	return nil
}

// AddConsentRecord appends a consent grant.
func (s *Storage) AddConsentRecord(ctx context.Context, record models.ConsentRecord) error {
	query := `
		INSERT INTO consent_records (id, agent_id, data_type, purpose, granted_by, granted_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.AgentID,
		record.DataType,
		record.Purpose,
		record.GrantedBy,
		record.GrantedAt,
		record.ExpiresAt,
		record.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to add consent record: %w", err)
	}
	return nil
}

// GetConsentRecords returns the agent's records in grant order. An empty
// agent id returns the full log.
func (s *Storage) GetConsentRecords(ctx context.Context, agentID string) ([]models.ConsentRecord, error) {
	query := `
		SELECT id, agent_id, data_type, purpose, granted_by, granted_at, expires_at, active
		FROM consent_records
		WHERE $1 = '' OR agent_id = $1
		ORDER BY granted_at
	`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consent records: %w", err)
	}
	defer rows.Close()

	var records []models.ConsentRecord
	for rows.Next() {
		var record models.ConsentRecord
		if err := rows.Scan(
			&record.ID,
			&record.AgentID,
			&record.DataType,
			&record.Purpose,
			&record.GrantedBy,
			&record.GrantedAt,
			&record.ExpiresAt,
			&record.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan consent record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RevokeConsentRecords deactivates matching active records. An empty purpose
// matches every purpose for the data type.
func (s *Storage) RevokeConsentRecords(ctx context.Context, agentID, dataType, purpose string) (int, error) {
	query := `
		UPDATE consent_records
		SET active = FALSE
		WHERE agent_id = $1 AND data_type = $2 AND active AND ($3 = '' OR purpose = $3)
	`

	result, err := s.db.ExecContext(ctx, query, agentID, dataType, purpose)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke consent records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked records: %w", err)
	}
	return int(affected), nil
}

// AppendAuditRecord stores one chain record. The insertion sequence
// preserves chain order.
func (s *Storage) AppendAuditRecord(ctx context.Context, record models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, timestamp, agent_id, action, permitted,
			trust_level, required_level, budget_used, budget_remaining,
			reason, metadata, previous_hash, record_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var metadata []byte
	if record.Metadata != nil {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = encoded
	}

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Timestamp,
		record.AgentID,
		record.Action,
		record.Permitted,
		record.TrustLevel,
		record.RequiredLevel,
		record.BudgetUsed,
		record.BudgetRemaining,
		record.Reason,
		metadata,
		record.PreviousHash,
		record.RecordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// QueryAuditRecords returns matching records in chain order.
func (s *Storage) QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	var conditions []string
	var args []interface{}

	arg := func(value interface{}) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+arg(filter.AgentID))
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = "+arg(filter.Action))
	}
	// Wire timestamps are fixed-width UTC, so lexicographic comparison is
	// chronological comparison.
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+arg(models.FormatAuditTime(filter.Since)))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= "+arg(models.FormatAuditTime(filter.Until)))
	}
	if filter.PermittedOnly {
		conditions = append(conditions, "permitted")
	}
	if filter.DeniedOnly {
		conditions = append(conditions, "NOT permitted")
	}

	query := `
		SELECT id, timestamp, agent_id, action, permitted,
		       trust_level, required_level, budget_used, budget_remaining,
		       reason, metadata, previous_hash, record_hash
		FROM audit_records
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// LatestAuditRecord returns the chain tip, or nil for an empty chain.
func (s *Storage) LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error) {
	query := `
		SELECT id, timestamp, agent_id, action, permitted,
		       trust_level, required_level, budget_used, budget_remaining,
		       reason, metadata, previous_hash, record_hash
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1
	`

	record, err := scanAuditRecord(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit record: %w", err)
	}
	return record, nil
}

// AuditRecordCount returns the chain length.
func (s *Storage) AuditRecordCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrustAssignment(row scanner) (*models.TrustAssignment, error) {
	var assignment models.TrustAssignment
	var level int
	var previous sql.NullInt64

	err := row.Scan(
		&assignment.AgentID,
		&assignment.Scope,
		&level,
		&assignment.AssignedAt,
		&assignment.AssignedBy,
		&assignment.Reason,
		&assignment.ExpiresAt,
		&previous,
	)
	if err != nil {
		return nil, err
	}

	assignment.Level = models.TrustLevel(level)
	if previous.Valid {
		value := models.TrustLevel(previous.Int64)
		assignment.PreviousLevel = &value
	}
	return &assignment, nil
}

func scanEnvelope(row scanner) (*models.SpendingEnvelope, error) {
	var envelope models.SpendingEnvelope
	var period string

	err := row.Scan(
		&envelope.ID,
		&envelope.Category,
		&envelope.Limit,
		&period,
		&envelope.Spent,
		&envelope.Committed,
		&envelope.PeriodStart,
		&envelope.Suspended,
	)
	if err != nil {
		return nil, err
	}

	envelope.Period = models.BudgetPeriod(period)
	return &envelope, nil
}

func scanAuditRecord(row scanner) (*models.AuditRecord, error) {
	var record models.AuditRecord
	var metadata []byte

	err := row.Scan(
		&record.ID,
		&record.Timestamp,
		&record.AgentID,
		&record.Action,
		&record.Permitted,
		&record.TrustLevel,
		&record.RequiredLevel,
		&record.BudgetUsed,
		&record.BudgetRemaining,
		&record.Reason,
		&metadata,
		&record.PreviousHash,
		&record.RecordHash,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return &record, nil
}
