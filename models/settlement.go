package models

import (
	"time"

	"github.com/google/uuid"
)

// Settlement represents a finalized spend event reported by the
// payment network after a transaction completes. SettlementID is the
// network's identifier and carries the uniqueness constraint that
// makes processing idempotent under at-least-once delivery.
type Settlement struct {
	ID           uuid.UUID `json:"id" db:"id"`
	SettlementID string    `json:"settlement_id" db:"settlement_id"`
	AgentID      uuid.UUID `json:"agent_id" db:"agent_id"`
	OrgID        uuid.UUID `json:"org_id" db:"org_id"`
	AmountCents  int64     `json:"amount_cents" db:"amount_cents"`
	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
	// BalanceAfterCents records the organization balance that resulted
	// from applying this settlement, so a redelivered event can return
	// the same answer as the first delivery.
	BalanceAfterCents int64     `json:"balance_after_cents" db:"balance_after_cents"`
	ProcessedAt       time.Time `json:"processed_at" db:"processed_at"`
}

// TableName returns the table name for the Settlement model
func (Settlement) TableName() string {
	return "settlements"
}
