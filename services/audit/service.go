package audit

import (
	"context"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// AuditService records and queries the append-only audit trail.
// Record is called inside the transaction of the mutation it
// describes, so the record commits or rolls back with the mutation.
type AuditService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record appends an audit record
func (s *AuditService) Record(ctx context.Context, record *models.AuditRecord) error {
	if err := s.repo.Insert(ctx, record); err != nil {
		return services.WrapInternal("failed to record audit entry", err)
	}
	return nil
}

// List returns audit records for an organization, newest first
func (s *AuditService) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	records, err := s.repo.GetByOrgID(ctx, orgID, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit records", err)
	}
	return records, nil
}

// ListByResource returns audit records for a single resource within an
// organization
func (s *AuditService) ListByResource(ctx context.Context, orgID, resourceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	records, err := s.repo.GetByResourceID(ctx, orgID, resourceID, clampLimit(limit))
	if err != nil {
		return nil, services.WrapInternal("failed to list audit records", err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
