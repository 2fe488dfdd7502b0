package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxRepository implements the repositories.OutboxRepository interface
type OutboxRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *DB, logger *zap.Logger) repositories.OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Insert enqueues an event. Called inside the transaction that produced
// the state change the event describes.
func (r *OutboxRepository) Insert(ctx context.Context, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status,
			attempts, last_error, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.AggregateID,
		event.Payload,
		event.Status,
		event.Attempts,
		event.LastError,
		event.PublishedAt,
		event.CreatedAt,
		event.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// ListPending returns unpublished events in insertion order. Rows are
// locked with SKIP LOCKED so concurrent dispatchers never pick up the
// same batch.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, aggregate_id, payload, status,
			attempts, last_error, published_at, created_at, updated_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		event := &models.OutboxEvent{}
		err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.AggregateID,
			&event.Payload,
			&event.Status,
			&event.Attempts,
			&event.LastError,
			&event.PublishedAt,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}

	return events, nil
}

// MarkPublished records successful delivery of an event
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $2, published_at = $3, updated_at = $3
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, models.OutboxStatusPublished, publishedAt)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}

	return nil
}

// MarkFailed bumps the attempt counter and records the delivery error.
// Once attempts reach maxAttempts the event moves to the failed state
// and is no longer retried.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END,
		    updated_at = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, lastError, maxAttempts, models.OutboxStatusFailed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}

	r.logger.Debug("outbox event delivery failed",
		zap.String("id", id.String()),
		zap.String("error", lastError))
	return nil
}
