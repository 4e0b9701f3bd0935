package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/metrics"
	"github.com/Martian-dev/watchlane/internal/store"
)

// Outbox is the store surface the dispatcher drains.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	MarkOutboxRetry(ctx context.Context, id string, backoff time.Duration) error
}

// Dispatcher continuously moves due outbox rows to the publisher.
type Dispatcher struct {
	outbox    Outbox
	publisher Publisher
	logger    *zap.Logger

	BatchSize int
	Idle      time.Duration
	Backoff   time.Duration
}

func NewDispatcher(outbox Outbox, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.Named("dispatcher"),
		BatchSize: 100,
		Idle:      500 * time.Millisecond,
		Backoff:   10 * time.Second,
	}
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		n, err := d.DispatchOnce(ctx)

		wait := time.Duration(0)
		switch {
		case err != nil:
			d.logger.Error("Error dequeuing outbox", zap.Error(err))
			wait = time.Second
		case n == 0:
			wait = d.Idle
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch and returns how many rows it dequeued.
// A failed publish is rescheduled after Backoff; the rest of the batch proceeds.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.DequeueOutbox(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		if err := d.publisher.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
			metrics.IncrementOutboxPublished("failed")
			d.logger.Warn("Error publishing message",
				zap.String("outbox_id", msg.ID),
				zap.String("subject", msg.Subject),
				zap.Int("retries", msg.Retries),
				zap.Error(err),
			)
			if err := d.outbox.MarkOutboxRetry(ctx, msg.ID, d.Backoff); err != nil {
				d.logger.Error("Error scheduling retry", zap.String("outbox_id", msg.ID), zap.Error(err))
			}
			continue
		}

		metrics.IncrementOutboxPublished("success")
		if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
			d.logger.Error("Error marking message as published", zap.String("outbox_id", msg.ID), zap.Error(err))
		}
	}

	return len(messages), nil
}
