// Package models provides data model definitions for the mealdeck sync engine.
package models

import (
	"encoding/json"
	"time"
)

// SyncTable identifies which entity table a queue item targets.
type SyncTable string

const (
	SyncTableRecipes         SyncTable = "recipes"
	SyncTableScheduleEntries SyncTable = "schedule_entries"
)

// SyncOp identifies the remote operation a queue item carries.
type SyncOp string

const (
	SyncOpUpsert SyncOp = "upsert"
	SyncOpDelete SyncOp = "delete"
)

// SyncQueueItem is one pending outbound mutation. Items are drained
// strictly in enqueue order (Seq) and destroyed once applied remotely.
// Payload holds a full entity snapshot for upserts and an id-only
// document for deletes.
type SyncQueueItem struct {
	Seq        int64           `db:"seq" json:"seq"`
	Table      SyncTable       `db:"table_name" json:"table"`
	Op         SyncOp          `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Timestamp  int64           `db:"timestamp" json:"timestamp"` // unix nanoseconds, strictly increasing
	RetryCount int             `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// Time returns the enqueue Timestamp as time.Time.
func (i *SyncQueueItem) Time() time.Time {
	return time.Unix(0, i.Timestamp)
}

// DeletePayload is the id-only payload carried by delete queue items.
type DeletePayload struct {
	ID UUID `json:"id"`
}
