// Package sync provides the offline-first synchronization engine.
package sync

import (
	"encoding/json"
	"fmt"

	"github.com/arialin/mealdeck/internal/db"
	"github.com/arialin/mealdeck/internal/models"
	"github.com/arialin/mealdeck/internal/sync/conflict"
)

// Merger applies remote-origin records to the local store through the
// conflict resolver. Both the coordinator's pull phase and the
// realtime listener funnel writes through it, so concurrent
// application from either path converges to the same final state
// regardless of arrival order.
type Merger struct {
	repo     *db.Repository
	resolver *conflict.Resolver
}

// NewMerger creates a Merger over the repository and resolver.
func NewMerger(repo *db.Repository, resolver *conflict.Resolver) *Merger {
	return &Merger{
		repo:     repo,
		resolver: resolver,
	}
}

// MergeRecipe reconciles one remote recipe into the local store.
func (m *Merger) MergeRecipe(remote *models.Recipe) error {
	local, err := m.repo.GetRecipe(string(remote.ID))
	if err != nil {
		return err
	}

	var localUpdatedAt *int64
	if local != nil {
		localUpdatedAt = &local.UpdatedAt
	}

	outcome := m.resolver.ResolveUpsert(models.SyncTableRecipes, remote.ID, localUpdatedAt, remote.UpdatedAt)
	if outcome != conflict.OutcomeAcceptRemote {
		return nil
	}
	return m.repo.UpsertRecipe(remote)
}

// MergeScheduleEntry reconciles one remote schedule entry into the
// local store. Slot uniqueness is enforced by the upsert.
func (m *Merger) MergeScheduleEntry(remote *models.ScheduleEntry) error {
	local, err := m.repo.GetScheduleEntry(string(remote.ID))
	if err != nil {
		return err
	}

	var localUpdatedAt *int64
	if local != nil {
		localUpdatedAt = &local.UpdatedAt
	}

	outcome := m.resolver.ResolveUpsert(models.SyncTableScheduleEntries, remote.ID, localUpdatedAt, remote.UpdatedAt)
	if outcome != conflict.OutcomeAcceptRemote {
		return nil
	}
	return m.repo.UpsertScheduleEntry(remote)
}

// DeleteRecipe applies a remote recipe delete. Deletes are terminal.
func (m *Merger) DeleteRecipe(id models.UUID) error {
	m.resolver.ResolveDelete(models.SyncTableRecipes, id)
	return m.repo.DeleteRecipe(string(id))
}

// DeleteScheduleEntry applies a remote schedule entry delete.
func (m *Merger) DeleteScheduleEntry(id models.UUID) error {
	m.resolver.ResolveDelete(models.SyncTableScheduleEntries, id)
	return m.repo.DeleteScheduleEntry(string(id))
}

// ApplyEvent applies one realtime change event to the local store.
func (m *Merger) ApplyEvent(event models.ChangeEvent) error {
	switch event.Type {
	case models.ChangeTypeInsert, models.ChangeTypeUpdate:
		switch event.Table {
		case models.SyncTableRecipes:
			var recipe models.Recipe
			if err := json.Unmarshal(event.Row, &recipe); err != nil {
				return fmt.Errorf("failed to decode recipe event: %w", err)
			}
			return m.MergeRecipe(&recipe)
		case models.SyncTableScheduleEntries:
			var entry models.ScheduleEntry
			if err := json.Unmarshal(event.Row, &entry); err != nil {
				return fmt.Errorf("failed to decode schedule entry event: %w", err)
			}
			return m.MergeScheduleEntry(&entry)
		}
		return fmt.Errorf("unknown event table: %s", event.Table)
	case models.ChangeTypeDelete:
		var payload models.DeletePayload
		if err := json.Unmarshal(event.Row, &payload); err != nil {
			return fmt.Errorf("failed to decode delete event: %w", err)
		}
		switch event.Table {
		case models.SyncTableRecipes:
			return m.DeleteRecipe(payload.ID)
		case models.SyncTableScheduleEntries:
			return m.DeleteScheduleEntry(payload.ID)
		}
		return fmt.Errorf("unknown event table: %s", event.Table)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}
