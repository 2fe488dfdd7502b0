package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity classifies how urgent an alert is
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityDanger   AlertSeverity = "danger"
	SeverityCritical AlertSeverity = "critical"
)

// Rank orders severities for display: critical > danger > warning
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityDanger:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// AlertType identifies the condition that raised an alert
type AlertType string

const (
	AlertBudgetWarning    AlertType = "budget_warning"
	AlertBudgetDanger     AlertType = "budget_danger"
	AlertBudgetCritical   AlertType = "budget_critical"
	AlertAgentThrottled   AlertType = "agent_throttled"
	AlertAgentFrozen      AlertType = "agent_frozen"
	AlertAuditWriteFailed AlertType = "audit_write_failure"
)

// Alert is a threshold-breach record surfaced to the presentation
// layer. Alerts are never deleted, only marked read or resolved.
type Alert struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	OrgID         uuid.UUID     `json:"org_id" db:"org_id"`
	AgentID       *uuid.UUID    `json:"agent_id,omitempty" db:"agent_id"`
	TransactionID *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	DedupKey      string        `json:"-" db:"dedup_key"`
	Type          AlertType     `json:"type" db:"type"`
	Severity      AlertSeverity `json:"severity" db:"severity"`
	Title         string        `json:"title" db:"title"`
	Message       string        `json:"message" db:"message"`
	IsRead        bool          `json:"is_read" db:"is_read"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Alert model
func (Alert) TableName() string {
	return "alerts"
}

// AlertDedupKey derives the stable identity of an open alert from the
// agent and condition, so re-evaluation refreshes instead of
// duplicating. Org-scoped alerts pass uuid.Nil for agentID.
func AlertDedupKey(agentID uuid.UUID, alertType AlertType) string {
	return fmt.Sprintf("%s:%s", alertType, agentID)
}

// NewAlert creates an unread, unresolved Alert for an agent condition
func NewAlert(orgID, agentID uuid.UUID, alertType AlertType, severity AlertSeverity, title, message string) *Alert {
	a := &Alert{
		ID:        uuid.New(),
		OrgID:     orgID,
		DedupKey:  AlertDedupKey(agentID, alertType),
		Type:      alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if agentID != uuid.Nil {
		a.AgentID = &agentID
	}
	return a
}
