package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Budget utilization thresholds, in percent
const (
	thresholdWarning  = 75
	thresholdDanger   = 90
	thresholdCritical = 100
)

const defaultListLimit = 100

// AlertService derives alerts from agent state and manages their
// read/resolved lifecycle. Derivation is a pure function of the
// agent; persistence de-duplicates through the open-alert upsert so
// re-deriving the same condition refreshes rather than multiplies.
type AlertService struct {
	repos  *repositories.Repositories
	logger *zap.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(repos *repositories.Repositories, logger *zap.Logger) *AlertService {
	return &AlertService{
		repos:  repos,
		logger: logger,
	}
}

// Derive computes the alerts an agent's current state warrants. Pure:
// no I/O, no clock. At most one budget alert is produced, at the
// highest crossed threshold.
func Derive(agent *models.Agent) []*models.Alert {
	var out []*models.Alert

	if agent.MonthlyBudgetCents > 0 {
		usage := agent.UsagePercent()
		switch {
		case usage >= thresholdCritical:
			out = append(out, models.NewAlert(agent.OrgID, agent.ID, models.AlertBudgetCritical, models.SeverityCritical,
				"Budget exhausted",
				fmt.Sprintf("Agent %s has used %d%% of its monthly budget", agent.Name, usage)))
		case usage >= thresholdDanger:
			out = append(out, models.NewAlert(agent.OrgID, agent.ID, models.AlertBudgetDanger, models.SeverityDanger,
				"Budget nearly exhausted",
				fmt.Sprintf("Agent %s has used %d%% of its monthly budget", agent.Name, usage)))
		case usage >= thresholdWarning:
			out = append(out, models.NewAlert(agent.OrgID, agent.ID, models.AlertBudgetWarning, models.SeverityWarning,
				"Budget usage high",
				fmt.Sprintf("Agent %s has used %d%% of its monthly budget", agent.Name, usage)))
		}
	}

	switch agent.Status {
	case models.StatusYellow:
		out = append(out, models.NewAlert(agent.OrgID, agent.ID, models.AlertAgentThrottled, models.SeverityWarning,
			"Agent throttled",
			fmt.Sprintf("Agent %s breached a soft velocity limit and is throttled", agent.Name)))
	case models.StatusRed:
		out = append(out, models.NewAlert(agent.OrgID, agent.ID, models.AlertAgentFrozen, models.SeverityCritical,
			"Agent frozen",
			fmt.Sprintf("Agent %s breached a hard velocity limit and is frozen", agent.Name)))
	}

	return out
}

// Refresh derives and upserts alerts for an agent, optionally tagging
// them with the settlement that triggered the evaluation. Runs inside
// the caller's transaction when one is on the context. A newly created
// alert also enqueues an alert.raised outbox event; a dedup refresh of
// an already-open alert does not re-notify.
func (s *AlertService) Refresh(ctx context.Context, agent *models.Agent, settlementID string) error {
	for _, alert := range Derive(agent) {
		if settlementID != "" {
			id := settlementID
			alert.TransactionID = &id
		}
		created, err := s.repos.Alerts.Upsert(ctx, alert)
		if err != nil {
			return services.WrapInternal("failed to upsert alert", err)
		}
		if !created {
			continue
		}

		event, err := models.NewOutboxEvent(models.EventAlertRaised, alert.ID, models.AlertRaisedPayload{
			AlertID:  alert.ID,
			OrgID:    alert.OrgID,
			AgentID:  alert.AgentID,
			Type:     alert.Type,
			Severity: alert.Severity,
			Title:    alert.Title,
		})
		if err != nil {
			return services.WrapInternal("failed to build alert event", err)
		}
		if err := s.repos.Outbox.Insert(ctx, event); err != nil {
			return services.WrapInternal("failed to enqueue alert event", err)
		}
	}
	return nil
}

// Get returns a single alert
func (s *AlertService) Get(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	alert, err := s.repos.Alerts.GetByID(ctx, id)
	if err != nil {
		return nil, services.ErrAlertNotFound.WithDetail("alert_id", id.String())
	}
	return alert, nil
}

// List returns an organization's alerts, most severe first
func (s *AlertService) List(ctx context.Context, orgID uuid.UUID, unresolvedOnly bool, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	alerts, err := s.repos.Alerts.GetByOrgID(ctx, orgID, unresolvedOnly, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list alerts", err)
	}
	return alerts, nil
}

// MarkRead flags an alert as seen
func (s *AlertService) MarkRead(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Alerts.MarkRead(ctx, id); err != nil {
		return services.ErrAlertNotFound.WithDetail("alert_id", id.String())
	}
	return nil
}

// Resolve closes an open alert. The condition may legitimately recur,
// in which case a fresh alert is raised under the freed dedup key.
func (s *AlertService) Resolve(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Alerts.Resolve(ctx, id, time.Now()); err != nil {
		return services.ErrAlertNotFound.WithDetail("alert_id", id.String())
	}
	s.logger.Info("alert resolved", zap.String("alert_id", id.String()))
	return nil
}
