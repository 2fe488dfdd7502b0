package accounts

import (
	"context"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateAgentRequest carries the provisioning parameters for a new
// agent cardholder. Nil limits mean unlimited at that granularity.
type CreateAgentRequest struct {
	OrgID                   uuid.UUID
	Name                    string
	MonthlyBudgetCents      int64
	SoftLimitCentsPerMinute *int64
	HardLimitCentsPerMinute *int64
	SoftLimitCentsPerDay    *int64
	HardLimitCentsPerDay    *int64
}

// AccountService provisions organizations and their agents
type AccountService struct {
	repos  *repositories.Repositories
	logger *zap.Logger
}

// NewAccountService creates a new account service
func NewAccountService(repos *repositories.Repositories, logger *zap.Logger) *AccountService {
	return &AccountService{
		repos:  repos,
		logger: logger,
	}
}

// CreateOrganization onboards an organization with a zero balance
func (s *AccountService) CreateOrganization(ctx context.Context, name string) (*models.Organization, error) {
	if name == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "name")
	}

	org := models.NewOrganization(name)
	if err := s.repos.Organizations.Create(ctx, org); err != nil {
		return nil, services.WrapInternal("failed to create organization", err)
	}

	s.logger.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("name", name))
	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *AccountService) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org, err := s.repos.Organizations.GetByID(ctx, id)
	if err != nil {
		return nil, services.ErrOrganizationNotFound.WithDetail("org_id", id.String())
	}
	return org, nil
}

// CreateAgent issues a new agent card under an organization
func (s *AccountService) CreateAgent(ctx context.Context, req CreateAgentRequest) (*models.Agent, error) {
	if req.Name == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "name")
	}
	if req.MonthlyBudgetCents < 0 {
		return nil, services.ErrInvalidAmount.WithDetail("monthly_budget_cents", req.MonthlyBudgetCents)
	}
	for _, limit := range []*int64{req.SoftLimitCentsPerMinute, req.HardLimitCentsPerMinute, req.SoftLimitCentsPerDay, req.HardLimitCentsPerDay} {
		if limit != nil && *limit <= 0 {
			return nil, services.ErrInvalidLimit.WithDetail("limit_cents", *limit)
		}
	}

	if _, err := s.repos.Organizations.GetByID(ctx, req.OrgID); err != nil {
		return nil, services.ErrOrganizationNotFound.WithDetail("org_id", req.OrgID.String())
	}

	agent := models.NewAgent(req.OrgID, req.Name, req.MonthlyBudgetCents)
	agent.SoftLimitCentsPerMinute = req.SoftLimitCentsPerMinute
	agent.HardLimitCentsPerMinute = req.HardLimitCentsPerMinute
	agent.SoftLimitCentsPerDay = req.SoftLimitCentsPerDay
	agent.HardLimitCentsPerDay = req.HardLimitCentsPerDay

	if err := s.repos.Agents.Create(ctx, agent); err != nil {
		return nil, services.WrapInternal("failed to create agent", err)
	}

	s.logger.Info("agent created",
		zap.String("agent_id", agent.ID.String()),
		zap.String("org_id", req.OrgID.String()),
		zap.Int64("monthly_budget_cents", req.MonthlyBudgetCents))
	return agent, nil
}

// GetAgent retrieves an agent by ID
func (s *AccountService) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent, err := s.repos.Agents.GetByID(ctx, id)
	if err != nil {
		return nil, services.ErrAgentNotFound.WithDetail("agent_id", id.String())
	}
	return agent, nil
}

// ListAgents returns all agents under an organization
func (s *AccountService) ListAgents(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	agents, err := s.repos.Agents.GetByOrgID(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to list agents", err)
	}
	return agents, nil
}
