// Package sync provides the offline-first synchronization engine.
package sync

import (
	"context"

	"github.com/arialin/mealdeck/internal/models"
)

// Engine is the status surface the UI layer depends on. It allows
// mocking in tests and alternative implementations.
type Engine interface {
	// Sync performs one full synchronization pass.
	Sync(ctx context.Context) error

	// ForceSync resets the backoff state and immediately performs a pass.
	ForceSync(ctx context.Context) error

	// SetOnline consumes a connectivity transition. Any pass it
	// triggers runs on the engine's own lifetime, not the caller's.
	SetOnline(online bool)

	// State returns a point-in-time observation of the engine.
	State() models.SyncState

	// Available reports whether remote sync is configured; when false
	// the engine is dormant and the app is pure local storage.
	Available() bool
}

var _ Engine = (*Coordinator)(nil)
