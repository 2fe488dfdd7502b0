package budget

import (
	"context"
	"errors"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// UsageResult summarizes an agent's budget position
type UsageResult struct {
	AgentID            uuid.UUID          `json:"agent_id"`
	MonthlyBudgetCents int64              `json:"monthly_budget_cents"`
	CurrentSpendCents  int64              `json:"current_spend_cents"`
	RemainingCents     int64              `json:"remaining_cents"`
	UsagePercent       int64              `json:"usage_percent"`
	Status             models.AgentStatus `json:"status"`
	ResetDate          time.Time          `json:"reset_date"`
}

// BudgetService tracks per-agent monthly spend against a soft budget.
// The budget never blocks settlement: spend may exceed it, and the
// overrun shows up as a negative remainder and a usage percentage
// above 100.
type BudgetService struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewBudgetService creates a new budget service
func NewBudgetService(repos *repositories.Repositories, txMgr repositories.TransactionManager, logger *zap.Logger) *BudgetService {
	return &BudgetService{
		repos:  repos,
		txMgr:  txMgr,
		logger: logger,
	}
}

// ApplySpend accumulates settled spend onto a locked agent, rolling
// the period over first if its boundary has passed. The caller holds
// the agent row lock; agent is mutated in place.
func (s *BudgetService) ApplySpend(ctx context.Context, agent *models.Agent, amountCents int64, now time.Time) error {
	if amountCents <= 0 {
		return services.ErrInvalidAmount.WithDetail("amount_cents", amountCents)
	}

	if agent.PeriodExpired(now) {
		s.rollover(agent, now)
	}

	agent.CurrentSpendCents += amountCents
	if err := s.repos.Agents.UpdateSpend(ctx, agent.ID, agent.CurrentSpendCents, agent.ResetDate); err != nil {
		return services.WrapInternal("failed to update agent spend", err)
	}

	s.logger.Debug("spend recorded",
		zap.String("agent_id", agent.ID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("current_spend_cents", agent.CurrentSpendCents))
	return nil
}

// GetUsage returns the agent's budget position. A period whose
// boundary has passed is rolled over first, so reads never report
// stale spend from a previous month.
func (s *BudgetService) GetUsage(ctx context.Context, agentID uuid.UUID) (*UsageResult, error) {
	agent, err := s.repos.Agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, services.ErrAgentNotFound.WithDetail("agent_id", agentID.String())
	}

	now := time.Now()
	if agent.PeriodExpired(now) {
		agent, err = s.resetLocked(ctx, agentID, now, "system:rollover")
		if err != nil {
			return nil, err
		}
	}

	return &UsageResult{
		AgentID:            agent.ID,
		MonthlyBudgetCents: agent.MonthlyBudgetCents,
		CurrentSpendCents:  agent.CurrentSpendCents,
		RemainingCents:     agent.RemainingCents(),
		UsagePercent:       agent.UsagePercent(),
		Status:             agent.Status,
		ResetDate:          agent.ResetDate,
	}, nil
}

// ResetPeriod zeroes an agent's spend and advances its reset date,
// regardless of whether the boundary has passed. Audited.
func (s *BudgetService) ResetPeriod(ctx context.Context, agentID uuid.UUID, actor string) error {
	now := time.Now()
	_, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Agent, error) {
		agent, err := s.repos.Agents.GetForUpdate(ctx, agentID)
		if err != nil {
			return nil, services.ErrAgentNotFound.WithDetail("agent_id", agentID.String())
		}

		before := models.AgentStatusSnapshot{Status: agent.Status, CurrentSpendCents: agent.CurrentSpendCents}
		s.rollover(agent, now)
		if err := s.repos.Agents.UpdateSpend(ctx, agent.ID, agent.CurrentSpendCents, agent.ResetDate); err != nil {
			return nil, err
		}

		record := models.NewAuditRecord(agent.OrgID, models.AuditActionBudgetReset, "agent", agent.ID, actor).
			WithStates(before, models.AgentStatusSnapshot{Status: agent.Status, CurrentSpendCents: 0})
		if err := s.repos.AuditLog.Insert(ctx, record); err != nil {
			return nil, err
		}

		return agent, nil
	})
	if err != nil {
		return s.classify(err, agentID)
	}

	s.logger.Info("budget period reset",
		zap.String("agent_id", agentID.String()),
		zap.String("actor", actor))
	return nil
}

// SweepExpired resets every agent whose period boundary has passed.
// Each agent is handled in its own transaction so one failure does
// not block the rest of the batch. Returns the number reset.
func (s *BudgetService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	agents, err := s.repos.Agents.ListExpiredPeriods(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, services.WrapInternal("failed to list expired periods", err)
	}

	reset := 0
	for _, agent := range agents {
		if _, err := s.resetLocked(ctx, agent.ID, now, "system:sweep"); err != nil {
			s.logger.Error("failed to sweep agent period",
				zap.String("agent_id", agent.ID.String()),
				zap.Error(err))
			continue
		}
		reset++
	}

	return reset, nil
}

// StartSweepWorker runs SweepExpired on a fixed interval until the
// context is cancelled. This backstops lazy rollover for agents that
// see no traffic across a month boundary.
func (s *BudgetService) StartSweepWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started budget sweep worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			count, err := s.SweepExpired(ctx, time.Now())
			if err != nil {
				s.logger.Error("budget sweep failed", zap.Error(err))
			} else if count > 0 {
				s.logger.Info("budget sweep reset expired periods", zap.Int("agents", count))
			}
		case <-ctx.Done():
			s.logger.Info("stopping budget sweep worker")
			return
		}
	}
}

// resetLocked rolls an expired period over under the agent row lock,
// re-checking expiry after acquiring it so concurrent sweeps and lazy
// rollovers reset at most once.
func (s *BudgetService) resetLocked(ctx context.Context, agentID uuid.UUID, now time.Time, actor string) (*models.Agent, error) {
	agent, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Agent, error) {
		agent, err := s.repos.Agents.GetForUpdate(ctx, agentID)
		if err != nil {
			return nil, services.ErrAgentNotFound.WithDetail("agent_id", agentID.String())
		}

		if !agent.PeriodExpired(now) {
			return agent, nil
		}

		before := models.AgentStatusSnapshot{Status: agent.Status, CurrentSpendCents: agent.CurrentSpendCents}
		s.rollover(agent, now)
		if err := s.repos.Agents.UpdateSpend(ctx, agent.ID, agent.CurrentSpendCents, agent.ResetDate); err != nil {
			return nil, err
		}

		record := models.NewAuditRecord(agent.OrgID, models.AuditActionBudgetReset, "agent", agent.ID, actor).
			WithStates(before, models.AgentStatusSnapshot{Status: agent.Status, CurrentSpendCents: 0})
		if err := s.repos.AuditLog.Insert(ctx, record); err != nil {
			return nil, err
		}

		return agent, nil
	})
	if err != nil {
		return nil, s.classify(err, agentID)
	}
	return agent, nil
}

// rollover zeroes spend and anchors the reset date to the month
// boundary after now, which also covers agents idle across several
// boundaries.
func (s *BudgetService) rollover(agent *models.Agent, now time.Time) {
	agent.CurrentSpendCents = 0
	agent.ResetDate = models.NextResetDate(now)
}

func (s *BudgetService) classify(err error, agentID uuid.UUID) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if postgres.IsLockTimeout(err) {
		return services.ErrLockTimeout.WithDetail("agent_id", agentID.String())
	}
	return services.WrapInternal("budget operation failed", err)
}
