package postgres

import (
	"context"
	"fmt"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes an audit record. Called inside the same transaction as
// the mutation it describes.
func (r *AuditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (id, org_id, action, resource_type, resource_id,
			actor, state_before, state_after, status, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.OrgID,
		record.Action,
		record.ResourceType,
		record.ResourceID,
		record.Actor,
		record.StateBefore,
		record.StateAfter,
		record.Status,
		record.ErrorDetail,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// GetByOrgID retrieves audit records for an organization, newest first
func (r *AuditRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, org_id, action, resource_type, resource_id,
			actor, state_before, state_after, status, error_detail, created_at
		FROM audit_log
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// GetByResourceID retrieves audit records touching a specific resource,
// scoped to the owning organization so one tenant never reads another's
// trail
func (r *AuditRepository) GetByResourceID(ctx context.Context, orgID, resourceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, org_id, action, resource_type, resource_id,
			actor, state_before, state_after, status, error_detail, created_at
		FROM audit_log
		WHERE org_id = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanAuditRows(rows rowScanner) ([]*models.AuditRecord, error) {
	var records []*models.AuditRecord
	for rows.Next() {
		record := &models.AuditRecord{}
		err := rows.Scan(
			&record.ID,
			&record.OrgID,
			&record.Action,
			&record.ResourceType,
			&record.ResourceID,
			&record.Actor,
			&record.StateBefore,
			&record.StateAfter,
			&record.Status,
			&record.ErrorDetail,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return records, nil
}
