// internal/notify/mock.go
package notify

import (
	"context"
	"sync"

	"github.com/rovshanmuradov/txlife/internal/events"
)

// MockPublisher records published events in memory.
type MockPublisher struct {
	mu        sync.RWMutex
	published []*events.TransactionEvent
	subjects  []string
	prefix    string
	failures  int
	err       error
	closed    bool
}

var _ Publisher = (*MockPublisher)(nil)

// NewMockPublisher creates a mock publishing under DefaultSubjectPrefix.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{prefix: DefaultSubjectPrefix}
}

// FailNext makes the next n publish calls return err.
func (m *MockPublisher) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.err = err
}

// PublishTransaction records the event unless a failure is configured.
func (m *MockPublisher) PublishTransaction(_ context.Context, event *events.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return m.err
	}
	m.published = append(m.published, event)
	m.subjects = append(m.subjects, Subject(m.prefix, event))
	return nil
}

// PublishTransactionBatch records events in order.
func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, evs []*events.TransactionEvent) error {
	for _, event := range evs {
		if err := m.PublishTransaction(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Published returns a copy of the recorded events.
func (m *MockPublisher) Published() []*events.TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*events.TransactionEvent(nil), m.published...)
}

// Subjects returns the subjects of the recorded events.
func (m *MockPublisher) Subjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.subjects...)
}

// PublishedFor returns the events recorded for handle.
func (m *MockPublisher) PublishedFor(handle string) []*events.TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*events.TransactionEvent
	for _, event := range m.published {
		if event.Handle == handle {
			out = append(out, event)
		}
	}
	return out
}
