package accounts

import (
	"context"
	"testing"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories/memory"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(store *memory.Store) *AccountService {
	return NewAccountService(store.Repositories(), zap.NewNop())
}

func TestAccountService_CreateOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with zero balance", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(store)

		org, err := svc.CreateOrganization(ctx, "acme")

		require.NoError(t, err)
		assert.Equal(t, "acme", org.Name)
		assert.Equal(t, int64(0), org.BalanceCents)
		assert.NotNil(t, store.Organization(org.ID))
	})

	t.Run("requires a name", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		_, err := svc.CreateOrganization(ctx, "")
		assert.True(t, services.IsValidationError(err))
	})
}

func TestAccountService_CreateAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with limits", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(store)
		org, err := svc.CreateOrganization(ctx, "acme")
		require.NoError(t, err)

		soft := int64(1000)
		hard := int64(5000)
		agent, err := svc.CreateAgent(ctx, CreateAgentRequest{
			OrgID:                   org.ID,
			Name:                    "crawler",
			MonthlyBudgetCents:      50000,
			SoftLimitCentsPerMinute: &soft,
			HardLimitCentsPerMinute: &hard,
		})

		require.NoError(t, err)
		assert.Equal(t, models.StatusGreen, agent.Status)
		assert.Equal(t, int64(50000), agent.MonthlyBudgetCents)
		require.NotNil(t, agent.SoftLimitCentsPerMinute)
		assert.Equal(t, int64(1000), *agent.SoftLimitCentsPerMinute)
		assert.Nil(t, agent.SoftLimitCentsPerDay)
	})

	t.Run("rejects unknown organization", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		_, err := svc.CreateAgent(ctx, CreateAgentRequest{OrgID: uuid.New(), Name: "crawler"})
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(store)
		org, err := svc.CreateOrganization(ctx, "acme")
		require.NoError(t, err)

		_, err = svc.CreateAgent(ctx, CreateAgentRequest{OrgID: org.ID, Name: ""})
		assert.True(t, services.IsValidationError(err))

		_, err = svc.CreateAgent(ctx, CreateAgentRequest{OrgID: org.ID, Name: "crawler", MonthlyBudgetCents: -1})
		assert.True(t, services.IsValidationError(err))

		zero := int64(0)
		_, err = svc.CreateAgent(ctx, CreateAgentRequest{OrgID: org.ID, Name: "crawler", SoftLimitCentsPerMinute: &zero})
		assert.True(t, services.IsValidationError(err))
	})
}

func TestAccountService_Lookups(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(store)

	org, err := svc.CreateOrganization(ctx, "acme")
	require.NoError(t, err)

	first, err := svc.CreateAgent(ctx, CreateAgentRequest{OrgID: org.ID, Name: "crawler"})
	require.NoError(t, err)
	_, err = svc.CreateAgent(ctx, CreateAgentRequest{OrgID: org.ID, Name: "summarizer"})
	require.NoError(t, err)

	t.Run("get organization", func(t *testing.T) {
		got, err := svc.GetOrganization(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, org.ID, got.ID)

		_, err = svc.GetOrganization(ctx, uuid.New())
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("get agent", func(t *testing.T) {
		got, err := svc.GetAgent(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "crawler", got.Name)

		_, err = svc.GetAgent(ctx, uuid.New())
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("list agents", func(t *testing.T) {
		agents, err := svc.ListAgents(ctx, org.ID)
		require.NoError(t, err)
		assert.Len(t, agents, 2)

		none, err := svc.ListAgents(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
