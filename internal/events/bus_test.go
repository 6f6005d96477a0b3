package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Handle(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type())
	}
	return out
}

func newTestBus(t *testing.T, size int) *Bus {
	t.Helper()
	bus := NewBus(zaptest.NewLogger(t), size)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

func event(eventType EventType, id string) *TransactionEvent {
	return &TransactionEvent{BaseEvent: BaseEvent{EventID: id, EventType: eventType, EventTime: time.Now()}}
}

func TestEventTypeName(t *testing.T) {
	assert.Equal(t, "pending", TransactionPending.Name())
	assert.Equal(t, "reorged", TransactionReorged.Name())
	assert.Equal(t, "failed", TransactionFailed.Name())
	assert.Equal(t, "custom", EventType("custom").Name())
}

func TestBusPublishPreservesOrder(t *testing.T) {
	bus := newTestBus(t, 64)
	c := &collector{}
	bus.SubscribeLifecycle(c)

	want := []EventType{TransactionPending, TransactionMined, TransactionReorged, TransactionMined, TransactionFinalized}
	for i, eventType := range want {
		require.NoError(t, bus.Publish(event(eventType, string(rune('a'+i)))))
	}

	require.Eventually(t, func() bool { return c.Len() == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.Types())
}

func TestBusSubscribeByType(t *testing.T) {
	bus := newTestBus(t, 8)
	mined := &collector{}
	bus.Subscribe(TransactionMined, mined)

	require.NoError(t, bus.PublishSync(context.Background(), event(TransactionPending, "1")))
	require.NoError(t, bus.PublishSync(context.Background(), event(TransactionMined, "2")))

	assert.Equal(t, []EventType{TransactionMined}, mined.Types())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newTestBus(t, 8)
	c := &collector{}
	sub := bus.SubscribeLifecycle(c)

	require.NoError(t, bus.PublishSync(context.Background(), event(TransactionPending, "1")))
	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), event(TransactionMined, "2")))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, bus.Stats()["event_types"])
}

func TestBusHandlerErrorsAndPanics(t *testing.T) {
	bus := newTestBus(t, 8)
	boom := errors.New("boom")
	after := &collector{}

	bus.SubscribeFunc(TransactionFailed, func(context.Context, Event) error { return boom })
	bus.SubscribeFunc(TransactionFailed, func(context.Context, Event) error { panic("handler bug") })
	bus.Subscribe(TransactionFailed, after)

	err := bus.PublishSync(context.Background(), event(TransactionFailed, "1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panicked: handler bug")
	assert.Equal(t, 1, after.Len(), "later handlers still run")
	assert.Equal(t, uint64(2), bus.Stats()["handler_errors"])
}

func TestBusBufferFull(t *testing.T) {
	bus := newTestBus(t, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeFunc(TransactionPending, func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	require.NoError(t, bus.Publish(event(TransactionPending, "1")))
	<-started
	require.NoError(t, bus.Publish(event(TransactionPending, "2")))
	assert.ErrorIs(t, bus.Publish(event(TransactionPending, "3")), ErrBufferFull)
	close(release)

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats["published"])
	assert.Equal(t, uint64(1), stats["dropped"])
}

func TestBusShutdownDrainsQueue(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	c := &collector{}
	bus.SubscribeLifecycle(c)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(event(TransactionMined, string(rune('a'+i)))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))

	assert.Equal(t, 10, c.Len())
	assert.ErrorIs(t, bus.Publish(event(TransactionMined, "late")), ErrBusClosed)
}
