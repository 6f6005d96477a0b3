// internal/notify/forwarder.go
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/events"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	DefaultPublishRetries = 3
)

// Forwarder is a bus handler that republishes lifecycle events through a Publisher.
type Forwarder struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration
	retries   uint
	interval  time.Duration
}

// NewForwarder creates a Forwarder with the default timeout and retry budget.
func NewForwarder(publisher Publisher, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		publisher: publisher,
		logger:    logger.Named("forwarder"),
		timeout:   DefaultPublishTimeout,
		retries:   DefaultPublishRetries,
		interval:  100 * time.Millisecond,
	}
}

// Subscribe attaches the forwarder to every lifecycle event of bus.
func (f *Forwarder) Subscribe(bus *events.Bus) events.Subscription {
	return bus.SubscribeLifecycle(f)
}

// Handle publishes event, retrying transient failures with exponential backoff.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	txEvent, ok := event.(*events.TransactionEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.interval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, f.publisher.PublishTransaction(ctx, txEvent)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(f.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Debug("Retrying lifecycle event publish",
				zap.String("event_id", txEvent.ID()),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("forward %s for %s: %w", txEvent.Type(), txEvent.Handle, err)
	}
	return nil
}
