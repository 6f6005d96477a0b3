// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/txlife/internal/storage/models"
)

// ErrNotFound is returned when no lifecycle events exist for a handle.
var ErrNotFound = errors.New("no lifecycle events recorded")

// Storage persists lifecycle events of tracked transactions.
type Storage interface {
	// SaveEvent stores ev. Saving an event ID that already exists is a no-op.
	SaveEvent(ctx context.Context, ev *models.LifecycleEvent) error
	// History returns the events of one handle, oldest first.
	History(ctx context.Context, handle string) ([]*models.LifecycleEvent, error)
	// ListRecent returns the newest events across all handles.
	ListRecent(ctx context.Context, limit, offset int) ([]*models.LifecycleEvent, error)
	// CountByState returns how many events reached each state.
	CountByState(ctx context.Context) (map[string]int64, error)

	RunMigrations() error
	Close() error
}
