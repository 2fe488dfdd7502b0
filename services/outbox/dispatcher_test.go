package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories/memory"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
	failWith  error
	failID    uuid.UUID
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil && (p.failID == uuid.Nil || event.ID == p.failID) {
		return p.failWith
	}
	p.published = append(p.published, event.ID)
	return nil
}

func newTestDispatcher(store *memory.Store, publisher Publisher) *Dispatcher {
	return NewDispatcher(store.Repositories(), store.TxManager(), publisher, Config{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  3,
	}, zap.NewNop())
}

func seedEvent(t *testing.T, store *memory.Store) *models.OutboxEvent {
	t.Helper()
	event, err := models.NewOutboxEvent(models.EventStatusChanged, uuid.New(), models.StatusChangedPayload{
		AgentID:   uuid.New(),
		OldStatus: models.StatusGreen,
		NewStatus: models.StatusRed,
		Reason:    "hard limit",
	})
	require.NoError(t, err)
	store.SeedEvent(event)
	return event
}

func TestDispatcher_DispatchPending(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks pending events", func(t *testing.T) {
		store := memory.NewStore()
		event := seedEvent(t, store)
		publisher := &recordingPublisher{}
		d := newTestDispatcher(store, publisher)

		count, err := d.DispatchPending(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []uuid.UUID{event.ID}, publisher.published)

		stored := store.Events()
		require.Len(t, stored, 1)
		assert.Equal(t, models.OutboxStatusPublished, stored[0].Status)
		assert.NotNil(t, stored[0].PublishedAt)
	})

	t.Run("empty backlog is a no-op", func(t *testing.T) {
		store := memory.NewStore()
		d := newTestDispatcher(store, &recordingPublisher{})

		count, err := d.DispatchPending(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("failed delivery counts an attempt and keeps the event pending", func(t *testing.T) {
		store := memory.NewStore()
		event := seedEvent(t, store)
		publisher := &recordingPublisher{failWith: backoff.Permanent(errors.New("webhook down"))}
		d := newTestDispatcher(store, publisher)

		count, err := d.DispatchPending(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, count)

		stored := store.Events()
		require.Len(t, stored, 1)
		assert.Equal(t, models.OutboxStatusPending, stored[0].Status)
		assert.Equal(t, 1, stored[0].Attempts)
		require.NotNil(t, stored[0].LastError)
		assert.Contains(t, *stored[0].LastError, "webhook down")

		// Redelivery after the publisher recovers
		publisher.failWith = nil
		count, err = d.DispatchPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []uuid.UUID{event.ID}, publisher.published)
	})

	t.Run("a failed mark does not discard the batch's published marks", func(t *testing.T) {
		store := memory.NewStore()
		good := seedEvent(t, store)
		bad := seedEvent(t, store)
		store.FailMarkFailed = errors.New("outbox table unavailable")
		publisher := &recordingPublisher{
			failWith: backoff.Permanent(errors.New("webhook down")),
			failID:   bad.ID,
		}
		d := newTestDispatcher(store, publisher)

		count, err := d.DispatchPending(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []uuid.UUID{good.ID}, publisher.published)

		for _, stored := range store.Events() {
			switch stored.ID {
			case good.ID:
				assert.Equal(t, models.OutboxStatusPublished, stored.Status)
			case bad.ID:
				// The failure mark was lost; the event simply stays
				// pending for the next poll
				assert.Equal(t, models.OutboxStatusPending, stored.Status)
				assert.Equal(t, 0, stored.Attempts)
			}
		}
	})

	t.Run("event exhausting attempts moves to failed", func(t *testing.T) {
		store := memory.NewStore()
		seedEvent(t, store)
		publisher := &recordingPublisher{failWith: backoff.Permanent(errors.New("webhook down"))}
		d := newTestDispatcher(store, publisher)

		for i := 0; i < 3; i++ {
			_, err := d.DispatchPending(ctx)
			require.NoError(t, err)
		}

		stored := store.Events()
		require.Len(t, stored, 1)
		assert.Equal(t, models.OutboxStatusFailed, stored[0].Status)
		assert.Equal(t, 3, stored[0].Attempts)

		// Failed events are no longer claimed
		count, err := d.DispatchPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestLoggingPublisher(t *testing.T) {
	event, err := models.NewOutboxEvent(models.EventStatusChanged, uuid.New(), map[string]string{"k": "v"})
	require.NoError(t, err)

	publisher := NewLoggingPublisher(zap.NewNop())
	assert.NoError(t, publisher.Publish(context.Background(), event))
}
