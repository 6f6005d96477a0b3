// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("event channel full")
)

// DefaultBufferSize is used when NewBus gets a non-positive size.
const DefaultBufferSize = 256

type entry struct {
	id      string
	handler Handler
}

// Bus is an in-memory event bus. Events published asynchronously are delivered by a single
// worker, so handlers observe them in publish order.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType][]entry
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eventChan  chan Event
	bufferSize int

	statsMu   sync.Mutex
	published uint64
	dropped   uint64
	failed    uint64
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType][]entry),
		logger:     logger.Named("event-bus"),
		ctx:        ctx,
		cancel:     cancel,
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[eventType] = append(b.handlers[eventType], entry{id: id, handler: handler})

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		types:    []EventType{eventType},
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeLifecycle registers handler for every lifecycle event type under one subscription.
func (b *Bus) SubscribeLifecycle(handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	for _, eventType := range LifecycleTypes {
		b.handlers[eventType] = append(b.handlers[eventType], entry{id: id, handler: handler})
	}

	b.logger.Debug("Lifecycle handler subscribed", zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		types:    LifecycleTypes,
	}
}

// Publish queues an event for asynchronous delivery. It never blocks: a full buffer drops the
// event and returns ErrBufferFull.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.eventChan <- event:
		b.count(&b.published)
		return nil
	default:
		b.count(&b.dropped)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.String("event_id", event.ID()))
		return ErrBufferFull
	}
}

// PublishSync delivers an event to all registered handlers in subscription order and returns
// the joined handler errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]entry(nil), b.handlers[event.Type()]...)
	b.mu.RUnlock()

	var errs []error
	for _, e := range handlers {
		if err := b.invoke(ctx, e, event); err != nil {
			b.count(&b.failed)
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("event_id", event.ID()),
				zap.String("handler_id", e.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, e entry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return e.handler.Handle(ctx, event)
}

// processEvents is the main event processing loop.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// drain what was accepted before shutdown
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, types []EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, eventType := range types {
		handlers := b.handlers[eventType]
		kept := handlers[:0:0]
		for _, e := range handlers {
			if e.id != id {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = kept
		}
	}

	b.logger.Debug("Handler unsubscribed", zap.String("subscription_id", id))
}

func (b *Bus) count(counter *uint64) {
	b.statsMu.Lock()
	*counter++
	b.statsMu.Unlock()
}

// Shutdown stops accepting events, delivers the queued ones and waits for the worker.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() map[string]interface{} {
	b.mu.RLock()
	handlerCounts := make(map[string]int, len(b.handlers))
	for eventType, handlers := range b.handlers {
		handlerCounts[string(eventType)] = len(handlers)
	}
	eventTypes := len(b.handlers)
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	return map[string]interface{}{
		"buffer_size":       b.bufferSize,
		"pending_events":    len(b.eventChan),
		"event_types":       eventTypes,
		"handlers_per_type": handlerCounts,
		"published":         b.published,
		"dropped":           b.dropped,
		"handler_errors":    b.failed,
	}
}
