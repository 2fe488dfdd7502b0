package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Evaluation is the outcome of checking an agent's trailing spend
// against its velocity limits
type Evaluation struct {
	MinuteSpendCents int64
	DaySpendCents    int64
	Target           models.AgentStatus
	Reason           string
}

// VelocityService is the circuit breaker over agent spend velocity.
// Spend is measured from the settlements table over a trailing
// 60-second window and the current UTC calendar day. Soft breaches
// move the breaker to yellow, hard breaches to red; the breaker never
// improves on its own.
type VelocityService struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewVelocityService creates a new velocity service
func NewVelocityService(repos *repositories.Repositories, txMgr repositories.TransactionManager, logger *zap.Logger) *VelocityService {
	return &VelocityService{
		repos:  repos,
		txMgr:  txMgr,
		logger: logger,
	}
}

// Evaluate measures the agent's spend velocity with amountCents
// included and returns the status the breaker should be at. A nil
// limit is unlimited at that granularity. The returned target never
// ranks below the agent's current status.
func (s *VelocityService) Evaluate(ctx context.Context, agent *models.Agent, amountCents int64, now time.Time) (*Evaluation, error) {
	minuteSpend, err := s.repos.Settlements.SumAmountSince(ctx, agent.ID, now.Add(-time.Minute))
	if err != nil {
		return nil, services.WrapInternal("failed to sum minute window", err)
	}
	daySpend, err := s.repos.Settlements.SumAmountSince(ctx, agent.ID, startOfUTCDay(now))
	if err != nil {
		return nil, services.WrapInternal("failed to sum day window", err)
	}
	minuteSpend += amountCents
	daySpend += amountCents

	eval := &Evaluation{
		MinuteSpendCents: minuteSpend,
		DaySpendCents:    daySpend,
		Target:           agent.Status,
	}

	if breached, reason := exceeds(agent.HardLimitCentsPerMinute, minuteSpend, "hard per-minute"); breached {
		eval.apply(models.StatusRed, reason)
	}
	if breached, reason := exceeds(agent.HardLimitCentsPerDay, daySpend, "hard per-day"); breached {
		eval.apply(models.StatusRed, reason)
	}
	if breached, reason := exceeds(agent.SoftLimitCentsPerMinute, minuteSpend, "soft per-minute"); breached {
		eval.apply(models.StatusYellow, reason)
	}
	if breached, reason := exceeds(agent.SoftLimitCentsPerDay, daySpend, "soft per-day"); breached {
		eval.apply(models.StatusYellow, reason)
	}

	return eval, nil
}

// Escalate moves a locked agent to the evaluation target when that is
// a strict escalation, recording the transition in the audit log and
// the outbox. The caller holds the agent row lock; agent is mutated
// in place. Returns whether a transition happened.
func (s *VelocityService) Escalate(ctx context.Context, agent *models.Agent, eval *Evaluation, actor string, now time.Time) (bool, error) {
	if !agent.Status.CanEscalateTo(eval.Target) {
		return false, nil
	}

	old := agent.Status
	if err := s.transition(ctx, agent, eval.Target, models.AuditActionStatusEscalated, eval.Reason, actor, now); err != nil {
		return false, err
	}

	s.logger.Warn("agent status escalated",
		zap.String("agent_id", agent.ID.String()),
		zap.String("from", string(old)),
		zap.String("to", string(agent.Status)),
		zap.String("reason", eval.Reason))
	return true, nil
}

// ChangeStatus sets an agent's status explicitly. This is the only
// path that can improve a status (red back to green after operator
// review); it requires a reason and is audited with the actor.
func (s *VelocityService) ChangeStatus(ctx context.Context, agentID uuid.UUID, target models.AgentStatus, reason, actor string) (*models.Agent, error) {
	if !target.Valid() {
		return nil, services.ErrInvalidStatus.WithDetail("status", string(target))
	}
	if reason == "" {
		return nil, services.ErrMissingReason
	}

	now := time.Now()
	agent, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Agent, error) {
		agent, err := s.repos.Agents.GetForUpdate(ctx, agentID)
		if err != nil {
			return nil, services.ErrAgentNotFound.WithDetail("agent_id", agentID.String())
		}

		if agent.Status == target {
			return agent, nil
		}
		if err := s.transition(ctx, agent, target, models.AuditActionStatusChanged, reason, actor, now); err != nil {
			return nil, err
		}
		return agent, nil
	})
	if err != nil {
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		if postgres.IsLockTimeout(err) {
			return nil, services.ErrLockTimeout.WithDetail("agent_id", agentID.String())
		}
		return nil, services.WrapInternal("status change failed", err)
	}

	s.logger.Info("agent status changed",
		zap.String("agent_id", agentID.String()),
		zap.String("status", string(target)),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return agent, nil
}

// transition persists a status move plus its audit record and outbox
// event inside the caller's transaction
func (s *VelocityService) transition(ctx context.Context, agent *models.Agent, target models.AgentStatus, action models.AuditAction, reason, actor string, now time.Time) error {
	old := agent.Status

	if err := s.repos.Agents.UpdateStatus(ctx, agent.ID, target, now); err != nil {
		return services.WrapInternal("failed to update agent status", err)
	}
	agent.Status = target
	agent.StatusChangedAt = now

	record := models.NewAuditRecord(agent.OrgID, action, "agent", agent.ID, actor).
		WithStates(
			models.AgentStatusSnapshot{Status: old, CurrentSpendCents: agent.CurrentSpendCents},
			models.AgentStatusSnapshot{Status: target, CurrentSpendCents: agent.CurrentSpendCents, Reason: reason},
		)
	if err := s.repos.AuditLog.Insert(ctx, record); err != nil {
		return services.WrapInternal("failed to audit status transition", err)
	}

	event, err := models.NewOutboxEvent(models.EventStatusChanged, agent.ID, models.StatusChangedPayload{
		AgentID:   agent.ID,
		OldStatus: old,
		NewStatus: target,
		Reason:    reason,
	})
	if err != nil {
		return services.WrapInternal("failed to build status event", err)
	}
	if err := s.repos.Outbox.Insert(ctx, event); err != nil {
		return services.WrapInternal("failed to enqueue status event", err)
	}

	return nil
}

func (e *Evaluation) apply(target models.AgentStatus, reason string) {
	if target.Rank() > e.Target.Rank() {
		e.Target = target
		e.Reason = reason
	}
}

func exceeds(limit *int64, spend int64, label string) (bool, string) {
	if limit == nil || spend <= *limit {
		return false, ""
	}
	return true, fmt.Sprintf("%s limit exceeded: %d > %d cents", label, spend, *limit)
}

// startOfUTCDay truncates a timestamp to midnight UTC, the boundary
// used for daily velocity windows
func startOfUTCDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
