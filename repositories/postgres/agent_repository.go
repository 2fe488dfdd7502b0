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

const agentColumns = `id, org_id, name, monthly_budget_cents, current_spend_cents,
		soft_limit_cents_per_minute, hard_limit_cents_per_minute,
		soft_limit_cents_per_day, hard_limit_cents_per_day,
		status, status_changed_at, reset_date, created_at, updated_at`

// AgentRepository implements the repositories.AgentRepository interface
type AgentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *DB, logger *zap.Logger) repositories.AgentRepository {
	return &AgentRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new agent
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (id, org_id, name, monthly_budget_cents, current_spend_cents,
			soft_limit_cents_per_minute, hard_limit_cents_per_minute,
			soft_limit_cents_per_day, hard_limit_cents_per_day,
			status, status_changed_at, reset_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		agent.ID,
		agent.OrgID,
		agent.Name,
		agent.MonthlyBudgetCents,
		agent.CurrentSpendCents,
		agent.SoftLimitCentsPerMinute,
		agent.HardLimitCentsPerMinute,
		agent.SoftLimitCentsPerDay,
		agent.HardLimitCentsPerDay,
		agent.Status,
		agent.StatusChangedAt,
		agent.ResetDate,
		agent.CreatedAt,
		agent.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	r.logger.Debug("agent created",
		zap.String("id", agent.ID.String()),
		zap.String("org_id", agent.OrgID.String()))
	return nil
}

func scanAgent(scan func(dest ...interface{}) error) (*models.Agent, error) {
	agent := &models.Agent{}
	err := scan(
		&agent.ID,
		&agent.OrgID,
		&agent.Name,
		&agent.MonthlyBudgetCents,
		&agent.CurrentSpendCents,
		&agent.SoftLimitCentsPerMinute,
		&agent.HardLimitCentsPerMinute,
		&agent.SoftLimitCentsPerDay,
		&agent.HardLimitCentsPerDay,
		&agent.Status,
		&agent.StatusChangedAt,
		&agent.ResetDate,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetByID retrieves an agent by ID
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns)

	executor := GetExecutor(ctx, r.db)
	agent, err := scanAgent(executor.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return agent, nil
}

// GetForUpdate retrieves an agent under FOR UPDATE, serializing
// concurrent spend and status mutations for the same agent
func (r *AgentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1 FOR UPDATE`, agentColumns)

	executor := GetExecutor(ctx, r.db)
	agent, err := scanAgent(executor.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent not found: %s", id)
		}
		return nil, fmt.Errorf("failed to lock agent: %w", err)
	}

	return agent, nil
}

// GetByOrgID retrieves all agents for an organization
func (r *AgentRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE org_id = $1 ORDER BY created_at`, agentColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent rows: %w", err)
	}

	return agents, nil
}

// UpdateSpend writes accumulated spend and reset date
func (r *AgentRepository) UpdateSpend(ctx context.Context, id uuid.UUID, spendCents int64, resetDate time.Time) error {
	query := `
		UPDATE agents
		SET current_spend_cents = $2,
		    reset_date = $3,
		    updated_at = $4
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, spendCents, resetDate, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update agent spend: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}

	return nil
}

// UpdateStatus writes a new circuit-breaker status
func (r *AgentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus, changedAt time.Time) error {
	query := `
		UPDATE agents
		SET status = $2,
		    status_changed_at = $3,
		    updated_at = $4
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, status, changedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}

	r.logger.Debug("agent status updated",
		zap.String("id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// ListExpiredPeriods returns agents whose reset date has passed
func (r *AgentRepository) ListExpiredPeriods(ctx context.Context, now time.Time, limit int) ([]*models.Agent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM agents
		WHERE reset_date <= $1
		ORDER BY reset_date
		LIMIT $2
	`, agentColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired periods: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent rows: %w", err)
	}

	return agents, nil
}
