package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the circuit-breaker state of an agent cardholder.
// green allows spend, yellow throttles (soft limit breached), red
// freezes (hard limit breached, authorizations declined).
type AgentStatus string

const (
	StatusGreen  AgentStatus = "green"
	StatusYellow AgentStatus = "yellow"
	StatusRed    AgentStatus = "red"
)

// Valid reports whether s is a known status value
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusGreen, StatusYellow, StatusRed:
		return true
	}
	return false
}

// Rank orders statuses by severity: green < yellow < red
func (s AgentStatus) Rank() int {
	switch s {
	case StatusYellow:
		return 1
	case StatusRed:
		return 2
	default:
		return 0
	}
}

// CanEscalateTo reports whether the guard may move from s to target
// automatically. Only strict escalations are allowed; any improvement
// must go through an explicit, privileged status change.
func (s AgentStatus) CanEscalateTo(target AgentStatus) bool {
	return target.Valid() && target.Rank() > s.Rank()
}

// Agent represents an autonomous cardholder with a monthly budget and
// velocity limits. A nil limit means unlimited at that granularity.
type Agent struct {
	ID                      uuid.UUID   `json:"id" db:"id"`
	OrgID                   uuid.UUID   `json:"org_id" db:"org_id"`
	Name                    string      `json:"name" db:"name"`
	MonthlyBudgetCents      int64       `json:"monthly_budget_cents" db:"monthly_budget_cents"`
	CurrentSpendCents       int64       `json:"current_spend_cents" db:"current_spend_cents"`
	SoftLimitCentsPerMinute *int64      `json:"soft_limit_cents_per_minute,omitempty" db:"soft_limit_cents_per_minute"`
	HardLimitCentsPerMinute *int64      `json:"hard_limit_cents_per_minute,omitempty" db:"hard_limit_cents_per_minute"`
	SoftLimitCentsPerDay    *int64      `json:"soft_limit_cents_per_day,omitempty" db:"soft_limit_cents_per_day"`
	HardLimitCentsPerDay    *int64      `json:"hard_limit_cents_per_day,omitempty" db:"hard_limit_cents_per_day"`
	Status                  AgentStatus `json:"status" db:"status"`
	StatusChangedAt         time.Time   `json:"status_changed_at" db:"status_changed_at"`
	ResetDate               time.Time   `json:"reset_date" db:"reset_date"`
	CreatedAt               time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Agent model
func (Agent) TableName() string {
	return "agents"
}

// NewAgent creates a new Agent in the green state with its budget
// period anchored to the next month boundary.
func NewAgent(orgID uuid.UUID, name string, monthlyBudgetCents int64) *Agent {
	now := time.Now()
	return &Agent{
		ID:                 uuid.New(),
		OrgID:              orgID,
		Name:               name,
		MonthlyBudgetCents: monthlyBudgetCents,
		Status:             StatusGreen,
		StatusChangedAt:    now,
		ResetDate:          NextResetDate(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RemainingCents returns budget minus accumulated spend; may be
// negative when the agent is over budget.
func (a *Agent) RemainingCents() int64 {
	return a.MonthlyBudgetCents - a.CurrentSpendCents
}

// UsagePercent returns the budget utilization. A zero budget is
// treated as unlimited and reports 0, never a division error.
func (a *Agent) UsagePercent() int64 {
	if a.MonthlyBudgetCents <= 0 {
		return 0
	}
	return a.CurrentSpendCents * 100 / a.MonthlyBudgetCents
}

// PeriodExpired reports whether the budget period has rolled over
func (a *Agent) PeriodExpired(now time.Time) bool {
	return !now.Before(a.ResetDate)
}

// NextResetDate returns the first instant of the month following now, in UTC
func NextResetDate(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
