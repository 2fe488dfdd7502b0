package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementRepository implements the repositories.SettlementRepository interface
type SettlementRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *DB, logger *zap.Logger) repositories.SettlementRepository {
	return &SettlementRepository{
		db:     db,
		logger: logger,
	}
}

// Insert records a processed settlement. The settlement_id column carries
// a unique constraint; callers classify the violation with IsUniqueViolation
// to detect replays.
func (r *SettlementRepository) Insert(ctx context.Context, settlement *models.Settlement) error {
	query := `
		INSERT INTO settlements (id, settlement_id, agent_id, org_id, amount_cents,
			occurred_at, balance_after_cents, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		settlement.ID,
		settlement.SettlementID,
		settlement.AgentID,
		settlement.OrgID,
		settlement.AmountCents,
		settlement.OccurredAt,
		settlement.BalanceAfterCents,
		settlement.ProcessedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	r.logger.Debug("settlement recorded",
		zap.String("settlement_id", settlement.SettlementID),
		zap.Int64("amount_cents", settlement.AmountCents))
	return nil
}

// GetBySettlementID retrieves a settlement by its external identifier
func (r *SettlementRepository) GetBySettlementID(ctx context.Context, settlementID string) (*models.Settlement, error) {
	query := `
		SELECT id, settlement_id, agent_id, org_id, amount_cents,
			occurred_at, balance_after_cents, processed_at
		FROM settlements
		WHERE settlement_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	settlement := &models.Settlement{}
	err := executor.QueryRowContext(ctx, query, settlementID).Scan(
		&settlement.ID,
		&settlement.SettlementID,
		&settlement.AgentID,
		&settlement.OrgID,
		&settlement.AmountCents,
		&settlement.OccurredAt,
		&settlement.BalanceAfterCents,
		&settlement.ProcessedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("settlement not found: %s", settlementID)
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}

	return settlement, nil
}

// SumAmountSince totals settled spend for an agent with occurred_at on or
// after the window start. Used for trailing-window velocity checks.
func (r *SettlementRepository) SumAmountSince(ctx context.Context, agentID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM settlements
		WHERE agent_id = $1 AND occurred_at >= $2
	`

	executor := GetExecutor(ctx, r.db)
	var total int64
	err := executor.QueryRowContext(ctx, query, agentID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum settlements: %w", err)
	}

	return total, nil
}
