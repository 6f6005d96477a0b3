// internal/events/types.go
package events

import (
	"strings"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Lifecycle events
	TransactionPending   EventType = "transaction.pending"
	TransactionMined     EventType = "transaction.mined"
	TransactionReorged   EventType = "transaction.reorged"
	TransactionFinalized EventType = "transaction.finalized"
	TransactionFailed    EventType = "transaction.failed"
)

// LifecycleTypes lists every event type a tracked transaction can emit.
var LifecycleTypes = []EventType{
	TransactionPending,
	TransactionMined,
	TransactionReorged,
	TransactionFinalized,
	TransactionFailed,
}

// Name returns the type without its "transaction." prefix.
func (t EventType) Name() string {
	_, name, found := strings.Cut(string(t), ".")
	if !found {
		return string(t)
	}
	return name
}

// Event is the base interface for all events.
type Event interface {
	ID() string
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"id"`
	EventType EventType `json:"type"`
	EventTime time.Time `json:"timestamp"`
}

// ID returns the unique event identifier.
func (e BaseEvent) ID() string {
	return e.EventID
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TransactionEvent is emitted on every lifecycle transition of a tracked transaction.
type TransactionEvent struct {
	BaseEvent
	Handle        string `json:"handle,omitempty"`
	Method        string `json:"method,omitempty"`
	State         string `json:"state"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	BlockHash     string `json:"block_hash,omitempty"`
	HeadNumber    uint64 `json:"head_number,omitempty"`
	Confirmations uint64 `json:"confirmations,omitempty"`
	Fee           uint64 `json:"fee,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
	// Policy names the violated fee policy of a fee policy rejection.
	Policy string `json:"policy,omitempty"`
}
