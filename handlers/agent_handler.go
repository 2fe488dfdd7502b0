package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/services/accounts"
	"github.com/agencydesk/spendguard/services/budget"
	"github.com/agencydesk/spendguard/services/velocity"
	"github.com/agencydesk/spendguard/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateOrganizationRequest is the body for organization onboarding
type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// CreateAgentRequest is the body for agent card issuance
type CreateAgentRequest struct {
	Name                    string `json:"name" validate:"required,min=1,max=255"`
	MonthlyBudgetCents      int64  `json:"monthly_budget_cents" validate:"gte=0"`
	SoftLimitCentsPerMinute *int64 `json:"soft_limit_cents_per_minute,omitempty" validate:"omitempty,gt=0"`
	HardLimitCentsPerMinute *int64 `json:"hard_limit_cents_per_minute,omitempty" validate:"omitempty,gt=0"`
	SoftLimitCentsPerDay    *int64 `json:"soft_limit_cents_per_day,omitempty" validate:"omitempty,gt=0"`
	HardLimitCentsPerDay    *int64 `json:"hard_limit_cents_per_day,omitempty" validate:"omitempty,gt=0"`
}

// ChangeStatusRequest is the body for explicit status changes
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=green yellow red"`
	Reason string `json:"reason" validate:"required,min=1"`
}

// AgentHandler handles agent provisioning, budget, and status requests
type AgentHandler struct {
	accounts *accounts.AccountService
	budget   *budget.BudgetService
	velocity *velocity.VelocityService
	logger   *zap.Logger
}

// NewAgentHandler creates a new AgentHandler
func NewAgentHandler(accountSvc *accounts.AccountService, budgetSvc *budget.BudgetService, velocitySvc *velocity.VelocityService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		accounts: accountSvc,
		budget:   budgetSvc,
		velocity: velocitySvc,
		logger:   logger,
	}
}

// HandleCreateOrganization handles POST /v1/organizations
func (h *AgentHandler) HandleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	org, err := h.accounts.CreateOrganization(r.Context(), req.Name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, org)
}

// HandleGetOrganization handles GET /v1/organizations/{orgID}
func (h *AgentHandler) HandleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.tenantOrg(w, r)
	if !ok {
		return
	}

	org, err := h.accounts.GetOrganization(r.Context(), orgID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, org)
}

// HandleCreateAgent handles POST /v1/organizations/{orgID}/agents
func (h *AgentHandler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.tenantOrg(w, r)
	if !ok {
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	agent, err := h.accounts.CreateAgent(r.Context(), accounts.CreateAgentRequest{
		OrgID:                   orgID,
		Name:                    req.Name,
		MonthlyBudgetCents:      req.MonthlyBudgetCents,
		SoftLimitCentsPerMinute: req.SoftLimitCentsPerMinute,
		HardLimitCentsPerMinute: req.HardLimitCentsPerMinute,
		SoftLimitCentsPerDay:    req.SoftLimitCentsPerDay,
		HardLimitCentsPerDay:    req.HardLimitCentsPerDay,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, agent)
}

// HandleListAgents handles GET /v1/organizations/{orgID}/agents
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.tenantOrg(w, r)
	if !ok {
		return
	}

	agents, err := h.accounts.ListAgents(r.Context(), orgID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, agents)
}

// HandleGetAgent handles GET /v1/agents/{agentID}
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.tenantAgent(w, r)
	if !ok {
		return
	}

	_ = utils.WriteOK(w, agent)
}

// HandleGetUsage handles GET /v1/agents/{agentID}/usage
func (h *AgentHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.tenantAgent(w, r)
	if !ok {
		return
	}

	usage, err := h.budget.GetUsage(r.Context(), agent.ID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, usage)
}

// HandleResetPeriod handles POST /v1/agents/{agentID}/reset
func (h *AgentHandler) HandleResetPeriod(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.tenantAgent(w, r)
	if !ok {
		return
	}

	actor := middleware.GetClaimsFromContext(r.Context()).Actor()
	if err := h.budget.ResetPeriod(r.Context(), agent.ID, actor); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleChangeStatus handles POST /v1/agents/{agentID}/status
func (h *AgentHandler) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.tenantAgent(w, r)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.GetClaimsFromContext(r.Context()).Actor()
	updated, err := h.velocity.ChangeStatus(r.Context(), agent.ID, models.AgentStatus(req.Status), req.Reason, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, updated)
}

// tenantOrg parses the orgID path parameter and checks it against the
// caller's tenant
func (h *AgentHandler) tenantOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid organization ID", nil)
		return uuid.Nil, false
	}

	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != orgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return uuid.Nil, false
	}

	return orgID, true
}

// tenantAgent loads the agent from the agentID path parameter and
// checks its organization against the caller's tenant
func (h *AgentHandler) tenantAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid agent ID", nil)
		return nil, false
	}

	agent, err := h.accounts.GetAgent(r.Context(), agentID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return nil, false
	}

	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != agent.OrgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return nil, false
	}

	return agent, true
}
