// Package sync provides the offline-first synchronization engine.
//
// Every user-facing mutation writes to the local store first and, when
// a remote backend is configured and a household session exists, also
// appends to the durable sync queue. The coordinator drains the queue
// against the remote store on reconnect, on mount and on explicit
// request, while the realtime listener applies remote-origin changes
// concurrently. All remote-origin writes go through the conflict
// resolver, so the two paths converge without locks.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arialin/mealdeck/internal/db"
	apperrors "github.com/arialin/mealdeck/internal/errors"
	"github.com/arialin/mealdeck/internal/logging"
	"github.com/arialin/mealdeck/internal/models"
	"github.com/arialin/mealdeck/internal/sync/conflict"
	"github.com/arialin/mealdeck/internal/sync/queue"
)

// Config holds coordinator configuration.
type Config struct {
	HouseholdID string
	UserID      string        // authorship attributed to queued mutations
	MaxRetries  int           // consecutive failures before auto-retry stops (default: 5)
	BackoffMin  time.Duration // first retry delay before jitter (default: 1s)
	BackoffMax  time.Duration // retry delay cap (default: 60s)
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 5,
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// newRetryBackoff builds the retry delay source: exponential from
// BackoffMin, doubling per attempt, capped at BackoffMax, with ±25%
// jitter so household devices don't retry in lockstep after an outage.
func newRetryBackoff(min, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // retries are bounded by count, not wall clock
	b.Reset()
	return b
}

// Coordinator orchestrates full synchronization passes and exposes the
// engine's sync-aware CRUD surface. Construct one per process/session
// and pass it by reference to whatever needs SyncState or ForceSync.
type Coordinator struct {
	repo   *db.Repository
	remote RemoteStore
	queue  *queue.Queue
	merger *Merger
	config *Config

	// baseCtx bounds background passes (retry timers, reconnect
	// triggers) to the engine's lifetime. Work handed to a goroutine or
	// timer must never hold a caller's context: a request context dies
	// when its handler returns. Cancelled by Close.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu           sync.RWMutex
	online       bool
	syncing      bool
	closed       bool
	lastSyncedAt *time.Time
	lastErr      error
	retryCount   int
	retryTimer   *time.Timer
	retryBackoff *backoff.ExponentialBackOff
}

// NewCoordinator creates a Coordinator. remote may be nil, in which
// case the engine is dormant and the app behaves as pure local
// storage: CRUD still works, nothing is queued or synced.
func NewCoordinator(repo *db.Repository, remote RemoteStore, resolver *conflict.Resolver, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if resolver == nil {
		resolver = conflict.NewResolver()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Coordinator{
		repo:         repo,
		remote:       remote,
		queue:        queue.NewQueue(repo),
		merger:       NewMerger(repo, resolver),
		config:       config,
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		online:       true,
		retryBackoff: newRetryBackoff(config.BackoffMin, config.BackoffMax),
	}
}

// Available reports whether remote sync is configured and a household
// session exists. When false the engine is dormant.
func (c *Coordinator) Available() bool {
	return c.remote != nil && c.config.HouseholdID != ""
}

// Queue returns the outbound sync queue.
func (c *Coordinator) Queue() *queue.Queue {
	return c.queue
}

// Merger returns the merge path shared with the realtime listener.
func (c *Coordinator) Merger() *Merger {
	return c.merger
}

// IsOnline reports the last known connectivity state.
func (c *Coordinator) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// =====================================================
// Sync-aware CRUD
// =====================================================

// SaveRecipe writes a recipe locally (create when it has no id yet)
// and queues it for the remote store. The local write always succeeds
// offline; the queue append only happens when sync is available.
func (c *Coordinator) SaveRecipe(recipe *models.Recipe) error {
	recipe.HouseholdID = c.config.HouseholdID
	if c.config.UserID != "" && recipe.UserID == "" {
		recipe.UserID = c.config.UserID
	}

	var err error
	if recipe.ID == "" {
		err = c.repo.CreateRecipe(recipe)
	} else {
		err = c.repo.UpdateRecipe(recipe)
	}
	if err != nil {
		return err
	}

	return c.enqueueUpsert(models.SyncTableRecipes, recipe)
}

// DeleteRecipe removes a recipe locally and queues the delete.
func (c *Coordinator) DeleteRecipe(id models.UUID) error {
	if err := c.repo.DeleteRecipe(string(id)); err != nil {
		return err
	}
	return c.enqueueDelete(models.SyncTableRecipes, id)
}

// DeleteRecipes removes multiple recipes in one local transaction and
// queues one delete per recipe, in order.
func (c *Coordinator) DeleteRecipes(ids []models.UUID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	if err := c.repo.DeleteRecipes(raw); err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.enqueueDelete(models.SyncTableRecipes, id); err != nil {
			return err
		}
	}
	return nil
}

// AssignTags adds tags to multiple recipes in one local transaction
// and queues the updated snapshots.
func (c *Coordinator) AssignTags(ids []models.UUID, tags []string) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	updated, err := c.repo.AssignTags(raw, tags)
	if err != nil {
		return err
	}
	for _, recipe := range updated {
		if err := c.enqueueUpsert(models.SyncTableRecipes, recipe); err != nil {
			return err
		}
	}
	return nil
}

// PutScheduleEntry writes an entry into its slot, replacing any
// occupant, and queues the replacement: a delete for the evicted entry
// first, then the upsert.
func (c *Coordinator) PutScheduleEntry(entry *models.ScheduleEntry) error {
	entry.HouseholdID = c.config.HouseholdID
	if c.config.UserID != "" && entry.UserID == "" {
		entry.UserID = c.config.UserID
	}

	evicted, err := c.repo.PutScheduleEntry(entry)
	if err != nil {
		return err
	}

	if evicted != "" {
		if err := c.enqueueDelete(models.SyncTableScheduleEntries, evicted); err != nil {
			return err
		}
	}
	return c.enqueueUpsert(models.SyncTableScheduleEntries, entry)
}

// RemoveScheduleEntry deletes an entry locally and queues the delete.
func (c *Coordinator) RemoveScheduleEntry(id models.UUID) error {
	if err := c.repo.DeleteScheduleEntry(string(id)); err != nil {
		return err
	}
	return c.enqueueDelete(models.SyncTableScheduleEntries, id)
}

// SwapScheduleSlots exchanges two slots as a single logical operation
// and queues the moved entries.
func (c *Coordinator) SwapScheduleSlots(dateA string, mealA models.MealType, dateB string, mealB models.MealType) error {
	swapped, err := c.repo.SwapScheduleSlots(c.config.HouseholdID, dateA, mealA, dateB, mealB)
	if err != nil {
		return err
	}
	for _, entry := range swapped {
		if err := c.enqueueUpsert(models.SyncTableScheduleEntries, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) enqueueUpsert(table models.SyncTable, entity interface{}) error {
	if !c.Available() {
		return nil
	}
	_, err := c.queue.EnqueueUpsert(table, entity)
	return err
}

func (c *Coordinator) enqueueDelete(table models.SyncTable, id models.UUID) error {
	if !c.Available() {
		return nil
	}
	_, err := c.queue.EnqueueDelete(table, id)
	return err
}

// =====================================================
// Sync passes
// =====================================================

// Start triggers the mount-time pass once the household session is
// available. It does nothing when the engine is dormant.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.Available() {
		logging.Info("Sync engine dormant: no remote backend or household configured", nil)
		return
	}
	go func() {
		_ = c.Sync(ctx)
	}()
}

// Sync performs one full pass: pull remote state, then drain the queue
// in FIFO order, then update status. It is a no-op when the device is
// offline or the engine is dormant; offline is not an error. On
// failure it schedules a retry with capped exponential backoff.
func (c *Coordinator) Sync(ctx context.Context) error {
	if !c.Available() {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if !c.online {
		c.mu.Unlock()
		logging.Debug("Skipping sync pass: offline", nil)
		return nil
	}
	if c.syncing {
		c.mu.Unlock()
		return apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	c.syncing = true
	// A new pass supersedes any stale scheduled retry.
	c.cancelRetryLocked()
	c.mu.Unlock()

	logging.Info("Starting sync pass",
		map[string]interface{}{"household_id": c.config.HouseholdID})

	err := c.runPass(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing = false

	if err != nil {
		c.lastErr = err
		c.retryCount++
		logging.ErrorWithCode("Sync pass failed", string(apperrors.ErrSyncFailed), err,
			map[string]interface{}{"retry_count": c.retryCount})
		c.scheduleRetryLocked()
		return err
	}

	now := time.Now()
	c.lastSyncedAt = &now
	c.lastErr = nil
	c.retryCount = 0
	c.retryBackoff.Reset()
	logging.Info("Sync pass completed", nil)
	return nil
}

// runPass executes pull then push. Pull precedes push so queued
// mutations are sent with knowledge of the latest remote state; the
// conflict resolver remains the final authority either way.
func (c *Coordinator) runPass(ctx context.Context) error {
	if err := c.pull(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncPullFailed, "pull failed", err)
	}
	if err := c.push(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncPushFailed, "push failed", err)
	}
	return nil
}

// pull fetches all remote entities for the household and merges each
// into the local store through the conflict resolver.
func (c *Coordinator) pull(ctx context.Context) error {
	recipes, err := c.remote.ListRecipes(ctx, c.config.HouseholdID)
	if err != nil {
		return err
	}
	for _, recipe := range recipes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.merger.MergeRecipe(recipe); err != nil {
			return err
		}
	}

	entries, err := c.remote.ListScheduleEntries(ctx, c.config.HouseholdID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.merger.MergeScheduleEntry(entry); err != nil {
			return err
		}
	}

	return nil
}

// push drains the sync queue in strict enqueue order. A malformed item
// is logged and skipped without halting the rest of the queue; a send
// failure aborts the pass so ordering is preserved on retry.
func (c *Coordinator) push(ctx context.Context) error {
	items, err := c.queue.Pending()
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.sendItem(ctx, item)
		if err == nil {
			if err := c.queue.Complete(item.Seq); err != nil {
				return err
			}
			continue
		}

		if apperrors.Is(err, apperrors.ErrQueueCorrupt) {
			logging.ErrorWithCode("Skipping malformed queue item",
				string(apperrors.ErrQueueCorrupt), err,
				map[string]interface{}{"seq": item.Seq})
			_ = c.queue.Fail(item.Seq, err)
			continue
		}

		_ = c.queue.Fail(item.Seq, err)
		return err
	}

	return nil
}

// sendItem applies one queue item to the remote store.
func (c *Coordinator) sendItem(ctx context.Context, item *models.SyncQueueItem) error {
	decode := func(v interface{}) error {
		if err := json.Unmarshal(item.Payload, v); err != nil {
			return apperrors.Wrap(apperrors.ErrQueueCorrupt, "undecodable payload", err)
		}
		return nil
	}

	switch item.Table {
	case models.SyncTableRecipes:
		switch item.Op {
		case models.SyncOpUpsert:
			var recipe models.Recipe
			if err := decode(&recipe); err != nil {
				return err
			}
			return c.remote.UpsertRecipe(ctx, c.config.HouseholdID, &recipe)
		case models.SyncOpDelete:
			var payload models.DeletePayload
			if err := decode(&payload); err != nil {
				return err
			}
			return c.remote.DeleteRecipe(ctx, c.config.HouseholdID, payload.ID)
		}
	case models.SyncTableScheduleEntries:
		switch item.Op {
		case models.SyncOpUpsert:
			var entry models.ScheduleEntry
			if err := decode(&entry); err != nil {
				return err
			}
			return c.remote.UpsertScheduleEntry(ctx, c.config.HouseholdID, &entry)
		case models.SyncOpDelete:
			var payload models.DeletePayload
			if err := decode(&payload); err != nil {
				return err
			}
			return c.remote.DeleteScheduleEntry(ctx, c.config.HouseholdID, payload.ID)
		}
	}

	return apperrors.New(apperrors.ErrQueueCorrupt,
		fmt.Sprintf("unknown queue item %s/%s", item.Table, item.Op))
}

// =====================================================
// Retry, connectivity and status
// =====================================================

// scheduleRetryLocked arms the retry timer after a failed pass.
// Callers hold c.mu. Auto-retries stop after MaxRetries consecutive
// failures; ForceSync resets the counter and tries immediately.
// The retried pass runs on baseCtx: the context of the pass that
// failed may already be dead by the time the timer fires.
func (c *Coordinator) scheduleRetryLocked() {
	if c.closed || !c.online {
		return
	}
	if c.retryCount >= c.config.MaxRetries {
		logging.Warn("Automatic retries exhausted; waiting for force sync or reconnect",
			map[string]interface{}{"retry_count": c.retryCount})
		return
	}

	delay := c.retryBackoff.NextBackOff()
	logging.Info("Scheduling sync retry",
		map[string]interface{}{
			"retry_count": c.retryCount,
			"delay_ms":    delay.Milliseconds(),
		})

	c.retryTimer = time.AfterFunc(delay, func() {
		_ = c.Sync(c.baseCtx)
	})
}

// cancelRetryLocked stops any pending retry timer. Callers hold c.mu.
func (c *Coordinator) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// ForceSync resets the backoff state and immediately performs a pass.
// Wired to the UI's "force sync" action and the status indicator tap.
func (c *Coordinator) ForceSync(ctx context.Context) error {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.retryCount = 0
	c.retryBackoff.Reset()
	c.mu.Unlock()

	return c.Sync(ctx)
}

// SetOnline consumes a connectivity transition. Going offline cancels
// any pending retry; it is not an error state. Coming online triggers
// a sync pass on the engine's own context, so the pass outlives
// whatever short-lived call delivered the event.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	if !online {
		c.cancelRetryLocked()
	}
	c.mu.Unlock()

	if wasOnline != online {
		logging.Info("Connectivity changed",
			map[string]interface{}{"online": online})
	}

	if online && !wasOnline && c.Available() {
		go func() {
			_ = c.Sync(c.baseCtx)
		}()
	}
}

// Close tears the coordinator down, cancelling any pending retry and
// background pass. Called on logout or household change.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.baseCancel()
	c.cancelRetryLocked()
}

// State returns a point-in-time SyncState, rebuilt on every call from
// the queue length, connectivity and in-flight pass state.
func (c *Coordinator) State() models.SyncState {
	queueLen, err := c.queue.Len()
	if err != nil {
		logging.Error("Failed to read queue length", err, nil)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	state := models.SyncState{
		LastSyncedAt: c.lastSyncedAt,
		QueueLength:  queueLen,
	}

	switch {
	case !c.online:
		state.Status = models.SyncStatusOffline
	case c.syncing:
		state.Status = models.SyncStatusSyncing
	case c.lastErr != nil:
		state.Status = models.SyncStatusError
		state.Error = c.lastErr.Error()
	default:
		state.Status = models.SyncStatusSynced
	}

	return state
}
