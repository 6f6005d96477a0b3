// internal/storage/models/lifecycle.go
package models

import "time"

// LifecycleEvent is one persisted state change of a tracked transaction. Rows are
// append-only and keyed by the bus event ID so redelivery does not duplicate them.
type LifecycleEvent struct {
	BaseModel
	EventID       string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Type          string    `gorm:"index;not null;type:varchar(40)"`
	Handle        string    `gorm:"index;type:varchar(128)"`
	Method        string    `gorm:"type:varchar(100)"`
	State         string    `gorm:"not null;type:varchar(20)"`
	BlockNumber   uint64    `gorm:"index"`
	BlockHash     string    `gorm:"type:varchar(128)"`
	HeadNumber    uint64
	Confirmations uint64
	Fee           uint64
	ErrorKind     string    `gorm:"type:varchar(40)"`
	ErrorMessage  string    `gorm:"type:text"`
	Policy        string    `gorm:"type:varchar(40)"`
	OccurredAt    time.Time `gorm:"index;not null"`
}

// TableName pins the table name independent of gorm's pluralization.
func (LifecycleEvent) TableName() string {
	return "lifecycle_events"
}
