package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of mutation being audited
type AuditAction string

const (
	AuditActionFundsAdded          AuditAction = "funds_added"
	AuditActionFundsDeducted       AuditAction = "funds_deducted"
	AuditActionSettlementProcessed AuditAction = "settlement_processed"
	AuditActionStatusEscalated     AuditAction = "status_escalated"
	AuditActionStatusChanged       AuditAction = "status_changed"
	AuditActionBudgetReset         AuditAction = "budget_reset"
)

// AuditStatus records whether the audited attempt succeeded
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditRecord is an append-only trail entry for a financial mutation
// attempt. Records are immutable once written.
type AuditRecord struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrgID        uuid.UUID       `json:"org_id" db:"org_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   uuid.UUID       `json:"resource_id" db:"resource_id"`
	Actor        string          `json:"actor" db:"actor"`
	StateBefore  json.RawMessage `json:"state_before" db:"state_before"`
	StateAfter   json.RawMessage `json:"state_after" db:"state_after"`
	Status       AuditStatus     `json:"status" db:"status"`
	ErrorDetail  *string         `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditRecord model
func (AuditRecord) TableName() string {
	return "audit_log"
}

// NewAuditRecord creates a successful AuditRecord instance
func NewAuditRecord(orgID uuid.UUID, action AuditAction, resourceType string, resourceID uuid.UUID, actor string) *AuditRecord {
	return &AuditRecord{
		ID:           uuid.New(),
		OrgID:        orgID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        actor,
		Status:       AuditStatusSuccess,
		CreatedAt:    time.Now(),
	}
}

// WithStates sets the before/after snapshots, ignoring marshal
// failures so a bad snapshot never blocks the trail entry itself.
func (a *AuditRecord) WithStates(before, after interface{}) *AuditRecord {
	if data, err := json.Marshal(before); err == nil {
		a.StateBefore = data
	}
	if data, err := json.Marshal(after); err == nil {
		a.StateAfter = data
	}
	return a
}

// WithError marks the record as a failed attempt
func (a *AuditRecord) WithError(detail string) *AuditRecord {
	a.Status = AuditStatusError
	a.ErrorDetail = &detail
	return a
}

// BalanceSnapshot is the audited state of an organization balance
type BalanceSnapshot struct {
	BalanceCents int64 `json:"balance_cents"`
}

// AgentStatusSnapshot is the audited state of an agent's circuit breaker
type AgentStatusSnapshot struct {
	Status            AgentStatus `json:"status"`
	CurrentSpendCents int64       `json:"current_spend_cents"`
	Reason            string      `json:"reason,omitempty"`
}
