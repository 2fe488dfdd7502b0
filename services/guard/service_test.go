package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories/memory"
	"github.com/agencydesk/spendguard/services"
	"github.com/agencydesk/spendguard/services/alerts"
	"github.com/agencydesk/spendguard/services/budget"
	"github.com/agencydesk/spendguard/services/velocity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store *memory.Store
	svc   *GuardService
	org   *models.Organization
	agent *models.Agent
}

func newFixture(t *testing.T, balanceCents, budgetCents int64) *fixture {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()
	repos := store.Repositories()
	txMgr := store.TxManager()

	org := models.NewOrganization("acme")
	org.BalanceCents = balanceCents
	store.SeedOrganization(org)

	agent := models.NewAgent(org.ID, "crawler", budgetCents)
	store.SeedAgent(agent)

	svc := NewGuardService(
		repos,
		txMgr,
		budget.NewBudgetService(repos, txMgr, logger),
		velocity.NewVelocityService(repos, txMgr, logger),
		alerts.NewAlertService(repos, logger),
		logger,
	)
	return &fixture{store: store, svc: svc, org: org, agent: agent}
}

func (f *fixture) request(settlementID string, amountCents int64) SettlementRequest {
	return SettlementRequest{
		SettlementID: settlementID,
		AgentID:      f.agent.ID,
		AmountCents:  amountCents,
		OccurredAt:   time.Now(),
	}
}

func TestGuardService_ProcessSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("applies spend, balance, and audit in one pass", func(t *testing.T) {
		f := newFixture(t, 10000, 50000)

		result, err := f.svc.ProcessSettlement(ctx, f.request("stl_1", 2500))

		require.NoError(t, err)
		assert.Equal(t, int64(7500), result.BalanceCents)
		assert.False(t, result.Duplicate)
		assert.Equal(t, models.StatusGreen, result.AgentStatus)

		assert.Equal(t, int64(7500), f.store.Organization(f.org.ID).BalanceCents)
		assert.Equal(t, int64(2500), f.store.Agent(f.agent.ID).CurrentSpendCents)

		settlement := f.store.Settlement("stl_1")
		require.NotNil(t, settlement)
		assert.Equal(t, int64(7500), settlement.BalanceAfterCents)

		records := f.store.AuditRecords()
		require.Len(t, records, 1)
		assert.Equal(t, models.AuditActionSettlementProcessed, records[0].Action)
	})

	t.Run("duplicate delivery replays the first answer", func(t *testing.T) {
		f := newFixture(t, 10000, 50000)

		first, err := f.svc.ProcessSettlement(ctx, f.request("stl_dup", 2500))
		require.NoError(t, err)

		second, err := f.svc.ProcessSettlement(ctx, f.request("stl_dup", 2500))
		require.NoError(t, err)

		assert.True(t, second.Duplicate)
		assert.Equal(t, first.BalanceCents, second.BalanceCents)
		// Balance deducted exactly once
		assert.Equal(t, int64(7500), f.store.Organization(f.org.ID).BalanceCents)
		assert.Equal(t, int64(2500), f.store.Agent(f.agent.ID).CurrentSpendCents)
	})

	t.Run("insufficient balance rolls everything back", func(t *testing.T) {
		f := newFixture(t, 1000, 50000)

		_, err := f.svc.ProcessSettlement(ctx, f.request("stl_over", 1500))

		assert.True(t, services.IsInsufficientFundsError(err))
		assert.Equal(t, int64(1000), f.store.Organization(f.org.ID).BalanceCents)
		assert.Equal(t, int64(0), f.store.Agent(f.agent.ID).CurrentSpendCents)
		assert.Nil(t, f.store.Settlement("stl_over"))
		assert.Empty(t, f.store.AuditRecords())
	})

	t.Run("hard velocity breach freezes but still settles", func(t *testing.T) {
		f := newFixture(t, 100000, 0)
		hard := int64(1000)
		f.agent.HardLimitCentsPerMinute = &hard

		result, err := f.svc.ProcessSettlement(ctx, f.request("stl_fast", 1500))

		require.NoError(t, err)
		assert.Equal(t, models.StatusRed, result.AgentStatus)
		assert.Equal(t, int64(98500), f.store.Organization(f.org.ID).BalanceCents)
		assert.Equal(t, models.StatusRed, f.store.Agent(f.agent.ID).Status)

		// Transition and the frozen alert both recorded in the outbox
		// for fan-out
		var types []string
		for _, event := range f.store.Events() {
			types = append(types, event.EventType)
		}
		assert.ElementsMatch(t, []string{models.EventStatusChanged, models.EventAlertRaised}, types)
	})

	t.Run("frozen agent still settles", func(t *testing.T) {
		f := newFixture(t, 10000, 0)
		f.agent.Status = models.StatusRed

		result, err := f.svc.ProcessSettlement(ctx, f.request("stl_frozen", 500))

		require.NoError(t, err)
		assert.Equal(t, int64(9500), result.BalanceCents)
		assert.Equal(t, models.StatusRed, result.AgentStatus)
	})

	t.Run("budget threshold raises an alert tagged with the settlement", func(t *testing.T) {
		f := newFixture(t, 100000, 1000)

		_, err := f.svc.ProcessSettlement(ctx, f.request("stl_alert", 800))

		require.NoError(t, err)
		list := f.store.Alerts()
		require.Len(t, list, 1)
		assert.Equal(t, models.AlertBudgetWarning, list[0].Type)
		require.NotNil(t, list[0].TransactionID)
		assert.Equal(t, "stl_alert", *list[0].TransactionID)
	})

	t.Run("concurrent duplicate deliveries deduct exactly once", func(t *testing.T) {
		f := newFixture(t, 10000, 50000)

		type outcome struct {
			result *SettlementResult
			err    error
		}
		outcomes := make(chan outcome, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := f.svc.ProcessSettlement(ctx, f.request("stl_race", 2500))
				outcomes <- outcome{result: result, err: err}
			}()
		}
		wg.Wait()
		close(outcomes)

		duplicates := 0
		for o := range outcomes {
			require.NoError(t, o.err)
			assert.Equal(t, int64(7500), o.result.BalanceCents)
			if o.result.Duplicate {
				duplicates++
			}
		}

		assert.Equal(t, 1, duplicates, "one delivery applies, the other replays")
		assert.Equal(t, int64(7500), f.store.Organization(f.org.ID).BalanceCents)
		assert.Equal(t, int64(2500), f.store.Agent(f.agent.ID).CurrentSpendCents)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, 10000, 0)

		_, err := f.svc.ProcessSettlement(ctx, f.request("stl_bad", 0))
		assert.True(t, services.IsValidationError(err))

		_, err = f.svc.ProcessSettlement(ctx, f.request("", 100))
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("unknown agent", func(t *testing.T) {
		f := newFixture(t, 10000, 0)
		req := f.request("stl_ghost", 100)
		req.AgentID = uuid.New()

		_, err := f.svc.ProcessSettlement(ctx, req)
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestGuardService_Authorize(t *testing.T) {
	ctx := context.Background()

	t.Run("approves within budget", func(t *testing.T) {
		f := newFixture(t, 10000, 5000)

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 4000})

		require.NoError(t, err)
		assert.True(t, result.Approved)
		assert.Equal(t, models.StatusGreen, result.Status)
	})

	t.Run("declines a frozen agent", func(t *testing.T) {
		f := newFixture(t, 10000, 5000)
		f.agent.Status = models.StatusRed

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 100})

		require.NoError(t, err)
		assert.False(t, result.Approved)
		assert.Equal(t, "agent is frozen", result.Reason)
	})

	t.Run("declines beyond remaining budget", func(t *testing.T) {
		f := newFixture(t, 10000, 5000)
		f.agent.CurrentSpendCents = 4500

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 600})

		require.NoError(t, err)
		assert.False(t, result.Approved)
		assert.Equal(t, "insufficient remaining budget", result.Reason)
	})

	t.Run("zero budget is unlimited", func(t *testing.T) {
		f := newFixture(t, 10000, 0)
		f.agent.CurrentSpendCents = 999999

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 500000})

		require.NoError(t, err)
		assert.True(t, result.Approved)
	})

	t.Run("expired period authorizes against a fresh budget", func(t *testing.T) {
		f := newFixture(t, 10000, 5000)
		f.agent.CurrentSpendCents = 5000
		f.agent.ResetDate = time.Now().Add(-time.Hour)

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 3000})

		require.NoError(t, err)
		assert.True(t, result.Approved)
	})

	t.Run("throttled agent may still authorize", func(t *testing.T) {
		f := newFixture(t, 10000, 5000)
		f.agent.Status = models.StatusYellow

		result, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 100})

		require.NoError(t, err)
		assert.True(t, result.Approved)
		assert.Equal(t, models.StatusYellow, result.Status)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, 10000, 0)

		_, err := f.svc.Authorize(ctx, AuthorizationRequest{AgentID: f.agent.ID, AmountCents: 0})
		assert.True(t, services.IsValidationError(err))
	})
}
