package guard

import (
	"context"
	"errors"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/services"
	"github.com/agencydesk/spendguard/services/alerts"
	"github.com/agencydesk/spendguard/services/budget"
	"github.com/agencydesk/spendguard/services/velocity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementRequest is a settled spend event from the payment network
type SettlementRequest struct {
	SettlementID string
	AgentID      uuid.UUID
	AmountCents  int64
	OccurredAt   time.Time
}

// SettlementResult is the outcome of processing a settlement. A
// duplicate delivery returns the same balance as the first, with
// Duplicate set.
type SettlementResult struct {
	SettlementID string             `json:"settlement_id"`
	BalanceCents int64              `json:"balance_cents"`
	AgentStatus  models.AgentStatus `json:"agent_status"`
	Duplicate    bool               `json:"duplicate"`
}

// AuthorizationRequest is a synchronous pre-spend approval check
type AuthorizationRequest struct {
	AgentID     uuid.UUID
	AmountCents int64
}

// AuthorizationResult carries the approve/decline decision
type AuthorizationResult struct {
	Approved bool               `json:"approved"`
	Status   models.AgentStatus `json:"status"`
	Reason   string             `json:"reason,omitempty"`
}

// GuardService orchestrates settlement processing: velocity
// evaluation, budget accumulation, balance deduction, alert
// derivation, audit, and the status-changed outbox signal, all in one
// transaction so concurrent readers never observe a partial apply.
type GuardService struct {
	repos    *repositories.Repositories
	txMgr    repositories.TransactionManager
	budget   *budget.BudgetService
	velocity *velocity.VelocityService
	alerts   *alerts.AlertService
	logger   *zap.Logger
}

// NewGuardService creates a new guard service
func NewGuardService(
	repos *repositories.Repositories,
	txMgr repositories.TransactionManager,
	budgetSvc *budget.BudgetService,
	velocitySvc *velocity.VelocityService,
	alertSvc *alerts.AlertService,
	logger *zap.Logger,
) *GuardService {
	return &GuardService{
		repos:    repos,
		txMgr:    txMgr,
		budget:   budgetSvc,
		velocity: velocitySvc,
		alerts:   alertSvc,
		logger:   logger,
	}
}

// ProcessSettlement applies a settled spend event exactly once. The
// settlement_id uniqueness constraint is the idempotency guard: a
// redelivery short-circuits to the balance stored with the first
// apply. Frozen agents still settle, the money is already spent; the
// breaker only blocks future authorizations.
func (s *GuardService) ProcessSettlement(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if req.AmountCents <= 0 {
		return nil, services.ErrInvalidAmount.WithDetail("amount_cents", req.AmountCents)
	}
	if req.SettlementID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "settlement_id")
	}

	// Fast path for redeliveries; the constraint still guards the race
	// between this check and the insert.
	if existing, err := s.repos.Settlements.GetBySettlementID(ctx, req.SettlementID); err == nil {
		return s.replay(ctx, existing)
	}

	now := time.Now()
	result, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*SettlementResult, error) {
		agent, err := s.repos.Agents.GetForUpdate(ctx, req.AgentID)
		if err != nil {
			return nil, services.ErrAgentNotFound.WithDetail("agent_id", req.AgentID.String())
		}

		eval, err := s.velocity.Evaluate(ctx, agent, req.AmountCents, now)
		if err != nil {
			return nil, err
		}
		if _, err := s.velocity.Escalate(ctx, agent, eval, "system:velocity", now); err != nil {
			return nil, err
		}

		if err := s.budget.ApplySpend(ctx, agent, req.AmountCents, now); err != nil {
			return nil, err
		}

		before, err := s.repos.Organizations.GetBalanceForUpdate(ctx, agent.OrgID)
		if err != nil {
			return nil, err
		}
		after := before - req.AmountCents
		if after < 0 {
			return nil, services.ErrInsufficientFunds.
				WithDetail("balance_cents", before).
				WithDetail("requested_cents", req.AmountCents)
		}
		if err := s.repos.Organizations.SetBalance(ctx, agent.OrgID, after); err != nil {
			return nil, err
		}

		settlement := &models.Settlement{
			ID:                uuid.New(),
			SettlementID:      req.SettlementID,
			AgentID:           agent.ID,
			OrgID:             agent.OrgID,
			AmountCents:       req.AmountCents,
			OccurredAt:        req.OccurredAt,
			BalanceAfterCents: after,
			ProcessedAt:       now,
		}
		if err := s.repos.Settlements.Insert(ctx, settlement); err != nil {
			return nil, err
		}

		if err := s.alerts.Refresh(ctx, agent, req.SettlementID); err != nil {
			return nil, err
		}

		record := models.NewAuditRecord(agent.OrgID, models.AuditActionSettlementProcessed, "settlement", settlement.ID, "system:settlement").
			WithStates(models.BalanceSnapshot{BalanceCents: before}, models.BalanceSnapshot{BalanceCents: after})
		if err := s.repos.AuditLog.Insert(ctx, record); err != nil {
			return nil, services.WrapInternal("failed to audit settlement", err)
		}

		return &SettlementResult{
			SettlementID: req.SettlementID,
			BalanceCents: after,
			AgentStatus:  agent.Status,
		}, nil
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			existing, getErr := s.repos.Settlements.GetBySettlementID(ctx, req.SettlementID)
			if getErr != nil {
				return nil, services.WrapInternal("failed to load replayed settlement", getErr)
			}
			return s.replay(ctx, existing)
		}
		return nil, s.classify(err, req)
	}

	s.logger.Info("settlement processed",
		zap.String("settlement_id", req.SettlementID),
		zap.String("agent_id", req.AgentID.String()),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int64("balance_cents", result.BalanceCents))
	return result, nil
}

// Authorize is the synchronous pre-spend approval check. Read-only
// and lock-free: it decides from the breaker status and remaining
// budget without touching any row locks.
func (s *GuardService) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	if req.AmountCents <= 0 {
		return nil, services.ErrInvalidAmount.WithDetail("amount_cents", req.AmountCents)
	}

	agent, err := s.repos.Agents.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, services.ErrAgentNotFound.WithDetail("agent_id", req.AgentID.String())
	}

	if agent.Status == models.StatusRed {
		return &AuthorizationResult{
			Approved: false,
			Status:   agent.Status,
			Reason:   "agent is frozen",
		}, nil
	}

	remaining := agent.RemainingCents()
	if agent.PeriodExpired(time.Now()) {
		// Rolled over but not yet persisted; the lazy reset happens on
		// the next write path.
		remaining = agent.MonthlyBudgetCents
	}
	if agent.MonthlyBudgetCents > 0 && req.AmountCents > remaining {
		return &AuthorizationResult{
			Approved: false,
			Status:   agent.Status,
			Reason:   "insufficient remaining budget",
		}, nil
	}

	return &AuthorizationResult{Approved: true, Status: agent.Status}, nil
}

// replay reconstructs the first delivery's answer for a duplicate
func (s *GuardService) replay(ctx context.Context, settlement *models.Settlement) (*SettlementResult, error) {
	agent, err := s.repos.Agents.GetByID(ctx, settlement.AgentID)
	if err != nil {
		return nil, services.WrapInternal("failed to load agent for replay", err)
	}

	s.logger.Info("duplicate settlement ignored",
		zap.String("settlement_id", settlement.SettlementID))
	return &SettlementResult{
		SettlementID: settlement.SettlementID,
		BalanceCents: settlement.BalanceAfterCents,
		AgentStatus:  agent.Status,
		Duplicate:    true,
	}, nil
}

func (s *GuardService) classify(err error, req SettlementRequest) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if postgres.IsLockTimeout(err) {
		return services.ErrLockTimeout.WithDetail("settlement_id", req.SettlementID)
	}
	if postgres.IsCheckViolation(err) {
		return services.ErrInsufficientFunds.WithDetail("settlement_id", req.SettlementID)
	}
	return services.WrapInternal("settlement processing failed", err)
}
