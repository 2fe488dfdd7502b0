package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agencydesk/spendguard/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Organizations table: the non-negative check backs the
		-- never-negative balance invariant at the storage layer too
		CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Agents table
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			monthly_budget_cents BIGINT NOT NULL DEFAULT 0,
			current_spend_cents BIGINT NOT NULL DEFAULT 0,
			soft_limit_cents_per_minute BIGINT,
			hard_limit_cents_per_minute BIGINT,
			soft_limit_cents_per_day BIGINT,
			hard_limit_cents_per_day BIGINT,
			status VARCHAR(10) NOT NULL DEFAULT 'green',
			status_changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reset_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Settlements table: the unique settlement_id is the
		-- idempotency guard for at-least-once delivery
		CREATE TABLE IF NOT EXISTS settlements (
			id UUID PRIMARY KEY,
			settlement_id VARCHAR(255) NOT NULL UNIQUE,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			amount_cents BIGINT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			balance_after_cents BIGINT NOT NULL,
			processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Alerts table: at most one open alert per (agent, condition)
		CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			agent_id UUID REFERENCES agents(id) ON DELETE SET NULL,
			transaction_id VARCHAR(255),
			dedup_key VARCHAR(255) NOT NULL,
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			title VARCHAR(255) NOT NULL,
			message TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT false,
			resolved_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedup
			ON alerts(dedup_key) WHERE resolved_at IS NULL;

		-- Audit log table, append-only
		CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id UUID NOT NULL,
			actor VARCHAR(255) NOT NULL,
			state_before JSONB,
			state_after JSONB,
			status VARCHAR(20) NOT NULL,
			error_detail TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Outbox events table
		CREATE TABLE IF NOT EXISTS outbox_events (
			id UUID PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			aggregate_id UUID NOT NULL,
			payload JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			published_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_agents_org_id ON agents(org_id);
		CREATE INDEX IF NOT EXISTS idx_agents_reset_date ON agents(reset_date);

		CREATE INDEX IF NOT EXISTS idx_settlements_agent_occurred ON settlements(agent_id, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_settlements_org_id ON settlements(org_id);

		CREATE INDEX IF NOT EXISTS idx_alerts_org_id ON alerts(org_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_agent_id ON alerts(agent_id);

		CREATE INDEX IF NOT EXISTS idx_audit_log_org_id ON audit_log(org_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_resource_id ON audit_log(resource_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);

		CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events(status, created_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// PostgreSQL SQLSTATE codes this package classifies
const (
	sqlstateUniqueViolation  = "23505"
	sqlstateLockNotAvailable = "55P03"
	sqlstateCheckViolation   = "23514"
	sqlstateSerialization    = "40001"
	sqlstateDeadlockDetected = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == sqlstateUniqueViolation
}

// IsLockTimeout reports whether err is a lock acquisition timeout
// (lock_timeout exceeded while waiting on a row lock)
func IsLockTimeout(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == sqlstateLockNotAvailable
}

// IsCheckViolation reports whether err is a check constraint violation
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == sqlstateCheckViolation
}

// IsSerializationFailure reports whether err is a serialization or
// deadlock failure, both safe to retry
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return code == sqlstateSerialization || code == sqlstateDeadlockDetected
}
