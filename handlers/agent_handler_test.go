package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories/memory"
	"github.com/agencydesk/spendguard/services/accounts"
	"github.com/agencydesk/spendguard/services/budget"
	"github.com/agencydesk/spendguard/services/velocity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type agentFixture struct {
	store  *memory.Store
	router chi.Router
	org    *models.Organization
	agent  *models.Agent
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()
	repos := store.Repositories()
	txMgr := store.TxManager()

	handler := NewAgentHandler(
		accounts.NewAccountService(repos, logger),
		budget.NewBudgetService(repos, txMgr, logger),
		velocity.NewVelocityService(repos, txMgr, logger),
		logger,
	)

	org := models.NewOrganization("acme")
	store.SeedOrganization(org)
	agent := models.NewAgent(org.ID, "crawler", 10000)
	store.SeedAgent(agent)

	r := chi.NewRouter()
	r.Post("/organizations", handler.HandleCreateOrganization)
	r.Get("/organizations/{orgID}", handler.HandleGetOrganization)
	r.Post("/organizations/{orgID}/agents", handler.HandleCreateAgent)
	r.Get("/organizations/{orgID}/agents", handler.HandleListAgents)
	r.Get("/agents/{agentID}", handler.HandleGetAgent)
	r.Get("/agents/{agentID}/usage", handler.HandleGetUsage)
	r.Post("/agents/{agentID}/reset", handler.HandleResetPeriod)
	r.Post("/agents/{agentID}/status", handler.HandleChangeStatus)

	return &agentFixture{store: store, router: r, org: org, agent: agent}
}

func (f *agentFixture) do(t *testing.T, method, path string, body interface{}, tenant uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	ctx := middleware.WithClaims(req.Context(), &middleware.Claims{
		Sub:   "alice",
		OrgID: tenant.String(),
		Role:  middleware.RoleAdmin,
	})
	if tenant != uuid.Nil {
		ctx = middleware.WithOrgID(ctx, tenant)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestHandleCreateOrganization(t *testing.T) {
	t.Run("creates with zero balance", func(t *testing.T) {
		f := newAgentFixture(t)

		rec := f.do(t, http.MethodPost, "/organizations", CreateOrganizationRequest{Name: "globex"}, uuid.Nil)
		assert.Equal(t, http.StatusCreated, rec.Code)

		var response struct {
			Data models.Organization `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, "globex", response.Data.Name)
		assert.Zero(t, response.Data.BalanceCents)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodPost, "/organizations", CreateOrganizationRequest{}, uuid.Nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCreateAgent(t *testing.T) {
	t.Run("issues an agent with limits", func(t *testing.T) {
		f := newAgentFixture(t)
		soft := int64(500)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/organizations/%s/agents", f.org.ID), CreateAgentRequest{
			Name:                    "writer",
			MonthlyBudgetCents:      25000,
			SoftLimitCentsPerMinute: &soft,
		}, f.org.ID)
		assert.Equal(t, http.StatusCreated, rec.Code)

		var response struct {
			Data models.Agent `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, "writer", response.Data.Name)
		assert.Equal(t, int64(25000), response.Data.MonthlyBudgetCents)
		require.NotNil(t, response.Data.SoftLimitCentsPerMinute)
		assert.Equal(t, int64(500), *response.Data.SoftLimitCentsPerMinute)
		assert.Equal(t, models.StatusGreen, response.Data.Status)
	})

	t.Run("rejects zero velocity limit", func(t *testing.T) {
		f := newAgentFixture(t)
		zero := int64(0)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/organizations/%s/agents", f.org.ID), CreateAgentRequest{
			Name:                 "writer",
			MonthlyBudgetCents:   25000,
			HardLimitCentsPerDay: &zero,
		}, f.org.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("forbids cross-tenant issuance", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/organizations/%s/agents", f.org.ID), CreateAgentRequest{
			Name:               "writer",
			MonthlyBudgetCents: 25000,
		}, uuid.New())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandleGetAgent(t *testing.T) {
	t.Run("returns the agent", func(t *testing.T) {
		f := newAgentFixture(t)

		rec := f.do(t, http.MethodGet, fmt.Sprintf("/agents/%s", f.agent.ID), nil, f.org.ID)
		assert.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Data models.Agent `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, f.agent.ID, response.Data.ID)
	})

	t.Run("unknown agent returns 404", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/agents/%s", uuid.New()), nil, f.org.ID)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("forbids cross-tenant reads", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/agents/%s", f.agent.ID), nil, uuid.New())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandleGetUsage(t *testing.T) {
	f := newAgentFixture(t)
	f.agent.CurrentSpendCents = 7500
	f.store.SeedAgent(f.agent)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/agents/%s/usage", f.agent.ID), nil, f.org.ID)
	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, float64(7500), response.Data["current_spend_cents"])
}

func TestHandleResetPeriod(t *testing.T) {
	f := newAgentFixture(t)
	f.agent.CurrentSpendCents = 7500
	f.store.SeedAgent(f.agent)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/agents/%s/reset", f.agent.ID), nil, f.org.ID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.store.Agent(f.agent.ID).CurrentSpendCents)
}

func TestHandleChangeStatus(t *testing.T) {
	t.Run("thaws a frozen agent", func(t *testing.T) {
		f := newAgentFixture(t)
		f.agent.Status = models.StatusRed
		f.store.SeedAgent(f.agent)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/agents/%s/status", f.agent.ID), ChangeStatusRequest{
			Status: "green",
			Reason: "limits reviewed with the customer",
		}, f.org.ID)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.StatusGreen, f.store.Agent(f.agent.ID).Status)
	})

	t.Run("requires a reason", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/agents/%s/status", f.agent.ID), ChangeStatusRequest{
			Status: "red",
		}, f.org.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		f := newAgentFixture(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/agents/%s/status", f.agent.ID), ChangeStatusRequest{
			Status: "purple",
			Reason: "testing",
		}, f.org.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
