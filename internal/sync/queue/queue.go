// Package queue provides the durable outbound sync queue.
//
// The queue is an append-only, time-ordered record of mutations that
// must eventually reach the remote store. It lives in its own table in
// the local store, logically independent of the entity tables: wiping
// or re-syncing local data never loses pending network intent.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/arialin/mealdeck/internal/db"
	"github.com/arialin/mealdeck/internal/logging"
	"github.com/arialin/mealdeck/internal/models"
)

// Queue manages pending sync operations backed by the local store.
type Queue struct {
	repo *db.Repository
}

// NewQueue creates a Queue over the given repository.
func NewQueue(repo *db.Repository) *Queue {
	return &Queue{repo: repo}
}

// Enqueue appends one mutation with a full entity snapshot payload.
// Items within one coordinator pass are never coalesced: a later
// delete for the same entity is sent after its earlier upsert, in
// order, so the delete wins if it was issued afterwards.
func (q *Queue) Enqueue(table models.SyncTable, op models.SyncOp, payload interface{}) (*models.SyncQueueItem, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	item, err := q.repo.EnqueueSyncItem(table, op, data)
	if err != nil {
		return nil, err
	}

	logging.Debug("Enqueued sync operation",
		map[string]interface{}{
			"seq":       item.Seq,
			"table":     item.Table,
			"operation": item.Op,
		})

	return item, nil
}

// EnqueueUpsert appends an upsert carrying the entity snapshot.
func (q *Queue) EnqueueUpsert(table models.SyncTable, entity interface{}) (*models.SyncQueueItem, error) {
	return q.Enqueue(table, models.SyncOpUpsert, entity)
}

// EnqueueDelete appends a delete carrying an id-only payload.
func (q *Queue) EnqueueDelete(table models.SyncTable, id models.UUID) (*models.SyncQueueItem, error) {
	return q.Enqueue(table, models.SyncOpDelete, models.DeletePayload{ID: id})
}

// Pending returns all queued items in strict enqueue order.
func (q *Queue) Pending() ([]*models.SyncQueueItem, error) {
	return q.repo.PendingSyncItems()
}

// Complete removes a successfully sent item from the queue.
func (q *Queue) Complete(seq int64) error {
	if err := q.repo.DeleteSyncItem(seq); err != nil {
		return err
	}
	logging.Debug("Completed sync operation", map[string]interface{}{"seq": seq})
	return nil
}

// Fail records a failed send attempt, keeping the item for the next
// pass with an incremented retry count.
func (q *Queue) Fail(seq int64, cause error) error {
	if err := q.repo.BumpSyncItemRetry(seq); err != nil {
		return err
	}
	logging.Warn("Sync operation failed, kept for retry",
		map[string]interface{}{
			"seq":   seq,
			"error": cause.Error(),
		})
	return nil
}

// Len returns the number of pending items. Cheap: queryable on every
// UI status observation.
func (q *Queue) Len() (int, error) {
	return q.repo.SyncQueueLen()
}

// Clear removes all pending items.
func (q *Queue) Clear() error {
	return q.repo.ClearSyncQueue()
}
