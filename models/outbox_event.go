package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox event statuses. Events move PENDING -> PUBLISHED on success,
// PENDING -> FAILED after exhausting attempts.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// Outbox event types published to the notification collaborator
const (
	EventStatusChanged = "agent.status_changed"
	EventAlertRaised   = "alert.raised"
)

// OutboxEvent is a notification stored alongside the mutation that
// produced it, for reliable at-least-once delivery by the dispatcher.
type OutboxEvent struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	EventType   string          `json:"event_type" db:"event_type"`
	AggregateID uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      string          `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	LastError   *string         `json:"last_error,omitempty" db:"last_error"`
	PublishedAt *time.Time      `json:"published_at,omitempty" db:"published_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the OutboxEvent model
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// NewOutboxEvent creates a pending outbox event with a JSON payload
func NewOutboxEvent(eventType string, aggregateID uuid.UUID, payload interface{}) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	now := time.Now()
	return &OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     data,
		Status:      OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// StatusChangedPayload is the body of an agent.status_changed event
type StatusChangedPayload struct {
	AgentID   uuid.UUID   `json:"agent_id"`
	OldStatus AgentStatus `json:"old_status"`
	NewStatus AgentStatus `json:"new_status"`
	Reason    string      `json:"reason"`
}

// AlertRaisedPayload is the body of an alert.raised event, emitted
// when an alert row is first created, not on dedup refreshes
type AlertRaisedPayload struct {
	AlertID  uuid.UUID     `json:"alert_id"`
	OrgID    uuid.UUID     `json:"org_id"`
	AgentID  *uuid.UUID    `json:"agent_id,omitempty"`
	Type     AlertType     `json:"type"`
	Severity AlertSeverity `json:"severity"`
	Title    string        `json:"title"`
}
