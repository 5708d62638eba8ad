// Package conflict provides conflict resolution for multi-device synchronization.
//
// The scheme is last-write-wins at whole-record granularity with a
// delete-dominates tie-break. No field-level merge is attempted: the
// workload is a small household with low write contention, and the
// simple policy converges regardless of event arrival order.
package conflict

import (
	"github.com/arialin/mealdeck/internal/logging"
	"github.com/arialin/mealdeck/internal/models"
)

// Outcome is the surviving side of a resolution.
type Outcome string

const (
	OutcomeAcceptRemote Outcome = "remote_wins"
	OutcomeKeepLocal    Outcome = "local_wins"
)

// Resolver decides the surviving version of an entity when a remote
// value and a local value for the same id must be reconciled. It is a
// pure decision function; applying the decision is the caller's job.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveUpsert decides whether a remote-origin record replaces the
// local record sharing its id.
//
// localUpdatedAt is nil when no local record exists (first sight): the
// remote record is accepted unconditionally. Otherwise the remote
// record is accepted only if its updated_at is greater-or-equal to the
// local one; a strictly newer local record is kept, since it will
// itself be pushed on the next pass.
func (r *Resolver) ResolveUpsert(table models.SyncTable, id models.UUID, localUpdatedAt *int64, remoteUpdatedAt int64) Outcome {
	if localUpdatedAt == nil {
		return OutcomeAcceptRemote
	}

	outcome := OutcomeKeepLocal
	if remoteUpdatedAt >= *localUpdatedAt {
		outcome = OutcomeAcceptRemote
	}

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"table":            table,
			"id":               id,
			"local_timestamp":  *localUpdatedAt,
			"remote_timestamp": remoteUpdatedAt,
			"resolution":       outcome,
		})

	return outcome
}

// ResolveDelete decides the outcome of a remote delete notification.
// Deletes are terminal: the local record is removed regardless of
// local timestamps. Delete-wins over a concurrent update is the
// documented policy, not an oversight.
func (r *Resolver) ResolveDelete(table models.SyncTable, id models.UUID) Outcome {
	logging.Info("Remote delete accepted",
		map[string]interface{}{
			"table":      table,
			"id":         id,
			"resolution": OutcomeAcceptRemote,
		})
	return OutcomeAcceptRemote
}
