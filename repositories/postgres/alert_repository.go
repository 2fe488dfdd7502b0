package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertRepository implements the repositories.AlertRepository interface
type AlertRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB, logger *zap.Logger) repositories.AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts an alert, or refreshes the open alert with the same
// dedup key. The partial unique index on (dedup_key) WHERE resolved_at
// IS NULL guarantees at most one open alert per agent and condition; a
// resolved alert does not block a new one. Returns whether a new row
// was inserted; xmax = 0 distinguishes an insert from a conflict
// update.
func (r *AlertRepository) Upsert(ctx context.Context, alert *models.Alert) (bool, error) {
	query := `
		INSERT INTO alerts (id, org_id, agent_id, transaction_id, dedup_key,
			type, severity, title, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dedup_key) WHERE resolved_at IS NULL
		DO UPDATE SET
			severity = EXCLUDED.severity,
			title = EXCLUDED.title,
			message = EXCLUDED.message,
			transaction_id = EXCLUDED.transaction_id,
			created_at = EXCLUDED.created_at
		RETURNING (xmax = 0)
	`

	executor := GetExecutor(ctx, r.db)
	var created bool
	err := executor.QueryRowContext(ctx, query,
		alert.ID,
		alert.OrgID,
		alert.AgentID,
		alert.TransactionID,
		alert.DedupKey,
		alert.Type,
		alert.Severity,
		alert.Title,
		alert.Message,
		alert.IsRead,
		alert.CreatedAt,
	).Scan(&created)

	if err != nil {
		return false, fmt.Errorf("failed to upsert alert: %w", err)
	}

	r.logger.Debug("alert upserted",
		zap.String("dedup_key", alert.DedupKey),
		zap.String("severity", string(alert.Severity)),
		zap.Bool("created", created))
	return created, nil
}

// GetByID retrieves a single alert
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `
		SELECT id, org_id, agent_id, transaction_id, dedup_key,
			type, severity, title, message, is_read, resolved_at, created_at
		FROM alerts
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	alert := &models.Alert{}
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&alert.ID,
		&alert.OrgID,
		&alert.AgentID,
		&alert.TransactionID,
		&alert.DedupKey,
		&alert.Type,
		&alert.Severity,
		&alert.Title,
		&alert.Message,
		&alert.IsRead,
		&alert.ResolvedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// GetByOrgID retrieves alerts for an organization, most severe first.
// When unresolvedOnly is set, resolved alerts are excluded.
func (r *AlertRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID, unresolvedOnly bool, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, org_id, agent_id, transaction_id, dedup_key,
			type, severity, title, message, is_read, resolved_at, created_at
		FROM alerts
		WHERE org_id = $1
	`
	if unresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += `
		ORDER BY CASE severity
			WHEN 'critical' THEN 3
			WHEN 'danger' THEN 2
			ELSE 1
		END DESC, created_at DESC
		LIMIT $2`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert := &models.Alert{}
		err := rows.Scan(
			&alert.ID,
			&alert.OrgID,
			&alert.AgentID,
			&alert.TransactionID,
			&alert.DedupKey,
			&alert.Type,
			&alert.Severity,
			&alert.Title,
			&alert.Message,
			&alert.IsRead,
			&alert.ResolvedAt,
			&alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// MarkRead flags an alert as read
func (r *AlertRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE alerts SET is_read = TRUE WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}

	return nil
}

// Resolve closes an open alert, freeing its dedup key for future alerts
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	query := `UPDATE alerts SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("alert not found or already resolved: %s", id)
	}

	return nil
}
