package alerts

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

func testAgent(budgetCents, spendCents int64, status models.AgentStatus) *models.Agent {
	agent := models.NewAgent(uuid.New(), "crawler", budgetCents)
	agent.CurrentSpendCents = spendCents
	agent.Status = status
	return agent
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name      string
		agent     *models.Agent
		wantTypes []models.AlertType
	}{
		{
			name:      "below all thresholds",
			agent:     testAgent(10000, 7000, models.StatusGreen),
			wantTypes: nil,
		},
		{
			name:      "warning at 75 percent",
			agent:     testAgent(10000, 7500, models.StatusGreen),
			wantTypes: []models.AlertType{models.AlertBudgetWarning},
		},
		{
			name:      "danger at 90 percent",
			agent:     testAgent(10000, 9000, models.StatusGreen),
			wantTypes: []models.AlertType{models.AlertBudgetDanger},
		},
		{
			name:      "critical at 100 percent",
			agent:     testAgent(10000, 10000, models.StatusGreen),
			wantTypes: []models.AlertType{models.AlertBudgetCritical},
		},
		{
			name:      "only the highest threshold fires",
			agent:     testAgent(10000, 15000, models.StatusGreen),
			wantTypes: []models.AlertType{models.AlertBudgetCritical},
		},
		{
			name:      "zero budget derives no budget alerts",
			agent:     testAgent(0, 999999, models.StatusGreen),
			wantTypes: nil,
		},
		{
			name:      "yellow adds throttled",
			agent:     testAgent(10000, 8000, models.StatusYellow),
			wantTypes: []models.AlertType{models.AlertBudgetWarning, models.AlertAgentThrottled},
		},
		{
			name:      "red adds frozen",
			agent:     testAgent(10000, 2000, models.StatusRed),
			wantTypes: []models.AlertType{models.AlertAgentFrozen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derived := Derive(tt.agent)

			var types []models.AlertType
			for _, alert := range derived {
				types = append(types, alert.Type)
			}
			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestDerive_Severities(t *testing.T) {
	warning := Derive(testAgent(10000, 7500, models.StatusGreen))
	require.Len(t, warning, 1)
	assert.Equal(t, models.SeverityWarning, warning[0].Severity)

	danger := Derive(testAgent(10000, 9500, models.StatusGreen))
	require.Len(t, danger, 1)
	assert.Equal(t, models.SeverityDanger, danger[0].Severity)

	critical := Derive(testAgent(10000, 10000, models.StatusGreen))
	require.Len(t, critical, 1)
	assert.Equal(t, models.SeverityCritical, critical[0].Severity)
}

func TestAlertService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts derived alerts with the settlement tag", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAlertService(store.Repositories(), zap.NewNop())
		agent := testAgent(10000, 9200, models.StatusGreen)

		require.NoError(t, svc.Refresh(ctx, agent, "stl_123"))

		alerts := store.Alerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, models.AlertBudgetDanger, alerts[0].Type)
		require.NotNil(t, alerts[0].TransactionID)
		assert.Equal(t, "stl_123", *alerts[0].TransactionID)
	})

	t.Run("re-deriving the same condition refreshes instead of duplicating", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAlertService(store.Repositories(), zap.NewNop())
		agent := testAgent(10000, 9000, models.StatusGreen)

		require.NoError(t, svc.Refresh(ctx, agent, "stl_1"))
		require.NoError(t, svc.Refresh(ctx, agent, "stl_2"))

		alerts := store.Alerts()
		require.Len(t, alerts, 1)
		require.NotNil(t, alerts[0].TransactionID)
		assert.Equal(t, "stl_2", *alerts[0].TransactionID)
	})

	t.Run("a new alert enqueues an alert.raised event", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAlertService(store.Repositories(), zap.NewNop())
		agent := testAgent(10000, 9200, models.StatusGreen)

		require.NoError(t, svc.Refresh(ctx, agent, "stl_1"))

		events := store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, models.EventAlertRaised, events[0].EventType)
		assert.Equal(t, models.OutboxStatusPending, events[0].Status)
	})

	t.Run("refreshing an open alert does not re-notify", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAlertService(store.Repositories(), zap.NewNop())
		agent := testAgent(10000, 9200, models.StatusGreen)

		require.NoError(t, svc.Refresh(ctx, agent, "stl_1"))
		require.NoError(t, svc.Refresh(ctx, agent, "stl_2"))

		assert.Len(t, store.Events(), 1)
	})

	t.Run("crossing a higher threshold opens a distinct alert", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAlertService(store.Repositories(), zap.NewNop())
		agent := testAgent(10000, 7600, models.StatusGreen)

		require.NoError(t, svc.Refresh(ctx, agent, ""))
		agent.CurrentSpendCents = 10500
		require.NoError(t, svc.Refresh(ctx, agent, ""))

		assert.Len(t, store.Alerts(), 2)
	})
}

func TestAlertService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewAlertService(store.Repositories(), zap.NewNop())

	orgID := uuid.New()
	agent := testAgent(10000, 9500, models.StatusGreen)
	agent.OrgID = orgID
	require.NoError(t, svc.Refresh(ctx, agent, ""))

	alerts, err := svc.List(ctx, orgID, true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alertID := alerts[0].ID

	t.Run("mark read", func(t *testing.T) {
		require.NoError(t, svc.MarkRead(ctx, alertID))

		alerts, err := svc.List(ctx, orgID, true, 0)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.True(t, alerts[0].IsRead)
	})

	t.Run("resolve hides from unresolved listing", func(t *testing.T) {
		require.NoError(t, svc.Resolve(ctx, alertID))

		unresolved, err := svc.List(ctx, orgID, true, 0)
		require.NoError(t, err)
		assert.Empty(t, unresolved)

		all, err := svc.List(ctx, orgID, false, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("resolving twice fails", func(t *testing.T) {
		err := svc.Resolve(ctx, alertID)
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("unknown alert", func(t *testing.T) {
		err := svc.MarkRead(ctx, uuid.New())
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("get", func(t *testing.T) {
		alert, err := svc.Get(ctx, alertID)
		require.NoError(t, err)
		assert.Equal(t, orgID, alert.OrgID)

		_, err = svc.Get(ctx, uuid.New())
		assert.True(t, services.IsNotFoundError(err))
	})
}
