// Package models provides data model definitions for the mealdeck sync engine.
package models

import "time"

// SyncStatus is the aggregate sync status exposed to the UI layer.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusOffline SyncStatus = "offline"
	SyncStatusError   SyncStatus = "error"
)

// SyncState is a point-in-time observation of the sync engine. It is
// never persisted; it is rebuilt from the local store, connectivity
// and in-flight coordinator state on every observation.
type SyncState struct {
	Status       SyncStatus `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	QueueLength  int        `json:"queue_length"`
	Error        string     `json:"error,omitempty"`
}
