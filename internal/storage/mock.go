// internal/storage/mock.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rovshanmuradov/txlife/internal/storage/models"
)

// MemoryStorage keeps lifecycle events in memory. It is used in tests.
type MemoryStorage struct {
	mu      sync.Mutex
	events  []*models.LifecycleEvent
	seen    map[string]struct{}
	failErr error
	closed  bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{seen: make(map[string]struct{})}
}

// FailWith makes every following SaveEvent return err. A nil err clears it.
func (m *MemoryStorage) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryStorage) SaveEvent(_ context.Context, ev *models.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.seen[ev.EventID]; ok {
		return nil
	}
	m.seen[ev.EventID] = struct{}{}
	ev.ID = uint(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStorage) History(_ context.Context, handle string) ([]*models.LifecycleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LifecycleEvent
	for _, ev := range m.events {
		if ev.Handle == handle {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, handle)
	}
	return out, nil
}

func (m *MemoryStorage) ListRecent(_ context.Context, limit, offset int) ([]*models.LifecycleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LifecycleEvent, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) CountByState(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, ev := range m.events {
		counts[ev.State]++
	}
	return counts, nil
}

func (m *MemoryStorage) RunMigrations() error { return nil }

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MemoryStorage) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
