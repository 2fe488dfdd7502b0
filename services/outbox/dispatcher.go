package outbox

import (
	"context"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/services"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Publisher delivers outbox events to the notification fan-out.
// Implementations must tolerate redelivery: the dispatcher publishes
// before marking, so a crash between the two replays the event.
type Publisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// LoggingPublisher is the default Publisher; it writes events to the
// log. Swapped for a webhook or broker publisher in deployments that
// fan out for real.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher creates a publisher that logs events
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

// Publish logs the event
func (p *LoggingPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	p.logger.Info("event published",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("aggregate_id", event.AggregateID.String()),
		zap.ByteString("payload", event.Payload))
	return nil
}

// Config tunes the dispatcher loop
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher drains the outbox: it polls for pending events, publishes
// each with exponential backoff, and records the outcome. Events that
// exhaust their attempts move to the failed state for operator review.
type Dispatcher struct {
	repos     *repositories.Repositories
	txMgr     repositories.TransactionManager
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(repos *repositories.Repositories, txMgr repositories.TransactionManager, publisher Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repos:     repos,
		txMgr:     txMgr,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start runs the dispatch loop until the context is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("started outbox dispatcher",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))

	for {
		select {
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx); err != nil {
				d.logger.Error("outbox dispatch failed", zap.Error(err))
			}
		case <-ctx.Done():
			d.logger.Info("stopping outbox dispatcher")
			return
		}
	}
}

// DispatchPending publishes one batch of pending events and returns
// how many were delivered. The batch is claimed with SKIP LOCKED
// inside a transaction, so concurrent dispatchers partition the
// backlog instead of colliding.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	published := 0
	err := services.WithTransaction(ctx, d.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		events, err := d.repos.Outbox.ListPending(ctx, d.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := d.publish(ctx, event); err != nil {
				d.logger.Warn("event delivery failed",
					zap.String("event_id", event.ID.String()),
					zap.Int("attempts", event.Attempts+1),
					zap.Error(err))
				// A failed mark must not abort the batch: returning here
				// would roll back the published marks of earlier events
				// and redeliver them. The event stays pending and is
				// retried on the next poll.
				if markErr := d.repos.Outbox.MarkFailed(ctx, event.ID, err.Error(), d.cfg.MaxAttempts); markErr != nil {
					d.logger.Error("failed to record delivery failure",
						zap.String("event_id", event.ID.String()),
						zap.Error(markErr))
				}
				continue
			}

			if err := d.repos.Outbox.MarkPublished(ctx, event.ID, time.Now()); err != nil {
				return err
			}
			published++
		}

		return nil
	})
	if err != nil {
		return published, services.WrapInternal("outbox dispatch failed", err)
	}

	return published, nil
}

// publish delivers a single event, retrying transient failures with
// exponential backoff and jitter before giving the slot back to the
// poll loop
func (d *Dispatcher) publish(ctx context.Context, event *models.OutboxEvent) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		return d.publisher.Publish(ctx, event)
	}, backoff.WithContext(policy, ctx))
}
