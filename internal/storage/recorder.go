// internal/storage/recorder.go
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/events"
	"github.com/rovshanmuradov/txlife/internal/storage/models"
)

const defaultSaveTimeout = 5 * time.Second

// Recorder persists lifecycle events from the bus.
type Recorder struct {
	store   Storage
	logger  *zap.Logger
	timeout time.Duration
}

func NewRecorder(store Storage, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		logger:  logger.Named("recorder"),
		timeout: defaultSaveTimeout,
	}
}

// Subscribe attaches the recorder to every lifecycle event of bus.
func (r *Recorder) Subscribe(bus *events.Bus) events.Subscription {
	return bus.SubscribeLifecycle(r)
}

// Handle stores one lifecycle event.
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	txEvent, ok := event.(*events.TransactionEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.SaveEvent(ctx, FromEvent(txEvent)); err != nil {
		r.logger.Error("Failed to record lifecycle event",
			zap.String("event_id", txEvent.ID()),
			zap.String("handle", txEvent.Handle),
			zap.Error(err))
		return err
	}
	return nil
}

// FromEvent maps a bus event to its stored row.
func FromEvent(ev *events.TransactionEvent) *models.LifecycleEvent {
	return &models.LifecycleEvent{
		EventID:       ev.ID(),
		Type:          string(ev.Type()),
		Handle:        ev.Handle,
		Method:        ev.Method,
		State:         ev.State,
		BlockNumber:   ev.BlockNumber,
		BlockHash:     ev.BlockHash,
		HeadNumber:    ev.HeadNumber,
		Confirmations: ev.Confirmations,
		Fee:           ev.Fee,
		ErrorKind:     ev.ErrorKind,
		ErrorMessage:  ev.Error,
		Policy:        ev.Policy,
		OccurredAt:    ev.Timestamp().UTC(),
	}
}
