// Package models provides data model definitions for the mealdeck sync engine.
package models

import "encoding/json"

// ChangeType tags a realtime change event.
type ChangeType string

const (
	ChangeTypeInsert ChangeType = "INSERT"
	ChangeTypeUpdate ChangeType = "UPDATE"
	ChangeTypeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-level change delivered on the household's
// realtime channel. Row carries the affected row as JSON; for deletes
// only the id is guaranteed to be present.
type ChangeEvent struct {
	Type  ChangeType      `json:"type"`
	Table SyncTable       `json:"table"`
	Row   json.RawMessage `json:"row"`
}
