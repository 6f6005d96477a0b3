// internal/events/lifecycle.go
package events

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/transaction"
)

// Publisher accepts events for delivery. *Bus implements it.
type Publisher interface {
	Publish(event Event) error
}

// NewTransactionEvent converts a lifecycle transition into a bus event.
func NewTransactionEvent(eventType EventType, ev transaction.Event) *TransactionEvent {
	out := &TransactionEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			EventTime: ev.Time,
		},
		Handle:        ev.Handle.String(),
		State:         ev.State.String(),
		BlockNumber:   ev.Block.Number,
		BlockHash:     ev.Block.Hash,
		HeadNumber:    ev.Head.Number,
		Confirmations: ev.Confirmations,
	}
	if ev.Tx != nil {
		out.Method = ev.Tx.Payload().Method
	}
	if ev.Receipt != nil {
		out.Fee = ev.Receipt.Fee
	}
	if ev.Err != nil {
		out.ErrorKind = ev.Err.Kind.String()
		out.Error = ev.Err.Error()
		out.Policy = ev.Err.Policy
	}
	return out
}

// Watch publishes every lifecycle transition of tx. States tx already reached are published
// right away.
func Watch(tx *transaction.Transaction, publisher Publisher, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	forward := func(eventType EventType) transaction.Listener {
		return func(ev transaction.Event) {
			event := NewTransactionEvent(eventType, ev)
			if err := publisher.Publish(event); err != nil {
				logger.Warn("Failed to publish lifecycle event",
					zap.String("event_type", string(eventType)),
					zap.String("handle", event.Handle),
					zap.Error(err))
			}
		}
	}

	tx.OnPending(forward(TransactionPending))
	tx.OnMined(forward(TransactionMined))
	tx.OnReorg(forward(TransactionReorged))
	tx.OnFinalized(forward(TransactionFinalized))
	tx.OnError(forward(TransactionFailed))
}

// Attach publishes the lifecycle of every transaction manager creates from now on.
func Attach(manager *transaction.Manager, publisher Publisher, logger *zap.Logger) {
	manager.OnTransaction(func(tx *transaction.Transaction) {
		Watch(tx, publisher, logger)
	})
}
