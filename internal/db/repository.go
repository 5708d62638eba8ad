// Package db provides CRUD repository operations for mealdeck data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arialin/mealdeck/internal/models"
	"github.com/arialin/mealdeck/internal/uuid"
)

// Repository provides CRUD operations for all models.
// Every write succeeds without network access; the sync engine layers
// remote replication on top of this store.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// marshalStrings serializes a string slice to its JSON column form.
func marshalStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	data, _ := json.Marshal(s)
	return string(data)
}

// unmarshalStrings deserializes a JSON column into a string slice.
func unmarshalStrings(data string) []string {
	if data == "" {
		return nil
	}
	var s []string
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil
	}
	return s
}

// =====================================================
// Recipe Operations
// =====================================================

const recipeColumns = `id, title, ingredients, instructions, image_url, source_url, tags,
	   household_id, user_id, created_at, updated_at`

// CreateRecipe creates a new recipe. The id is generated locally so it
// can be referenced before any remote round trip.
func (r *Repository) CreateRecipe(recipe *models.Recipe) error {
	now := time.Now().Unix()
	recipe.ID = models.UUID(uuid.New())
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	query := `
	INSERT INTO recipes (` + recipeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, recipe.ID, recipe.Title,
		marshalStrings(recipe.Ingredients), marshalStrings(recipe.Instructions),
		recipe.ImageURL, recipe.SourceURL, marshalStrings(recipe.Tags),
		recipe.HouseholdID, recipe.UserID, recipe.CreatedAt, recipe.UpdatedAt)
	return err
}

// scanRecipe scans one recipe row.
func scanRecipe(scan func(...interface{}) error) (*models.Recipe, error) {
	var recipe models.Recipe
	var ingredients, instructions, tags string
	var imageURL, sourceURL, userID sql.NullString
	err := scan(
		&recipe.ID, &recipe.Title, &ingredients, &instructions,
		&imageURL, &sourceURL, &tags, &recipe.HouseholdID, &userID,
		&recipe.CreatedAt, &recipe.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	recipe.Ingredients = unmarshalStrings(ingredients)
	recipe.Instructions = unmarshalStrings(instructions)
	recipe.Tags = unmarshalStrings(tags)
	if imageURL.Valid {
		recipe.ImageURL = imageURL.String
	}
	if sourceURL.Valid {
		recipe.SourceURL = sourceURL.String
	}
	if userID.Valid {
		recipe.UserID = userID.String
	}
	return &recipe, nil
}

// GetRecipe retrieves a recipe by ID. A missing id is not a fault:
// it returns (nil, nil) so callers can render an empty state.
func (r *Repository) GetRecipe(id string) (*models.Recipe, error) {
	query := `SELECT ` + recipeColumns + ` FROM recipes WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	recipe, err := scanRecipe(stmt.QueryRow(id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

// ListRecipes returns all recipes ordered by creation time, newest first.
func (r *Repository) ListRecipes() ([]*models.Recipe, error) {
	query := `SELECT ` + recipeColumns + ` FROM recipes ORDER BY created_at DESC, id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipes []*models.Recipe
	for rows.Next() {
		recipe, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	return recipes, rows.Err()
}

// UpdateRecipe updates an existing recipe, stamping updated_at and
// leaving created_at untouched.
func (r *Repository) UpdateRecipe(recipe *models.Recipe) error {
	recipe.Touch()
	query := `
	UPDATE recipes
	SET title = ?, ingredients = ?, instructions = ?, image_url = ?, source_url = ?,
		tags = ?, household_id = ?, user_id = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := r.db.Exec(query, recipe.Title,
		marshalStrings(recipe.Ingredients), marshalStrings(recipe.Instructions),
		recipe.ImageURL, recipe.SourceURL, marshalStrings(recipe.Tags),
		recipe.HouseholdID, recipe.UserID, recipe.UpdatedAt, recipe.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("recipe not found: %s", recipe.ID)
	}
	return nil
}

// UpsertRecipe writes a recipe by id, preserving the timestamps it
// carries. Used by the merge paths, where the record's updated_at has
// already won conflict resolution and must not be restamped.
func (r *Repository) UpsertRecipe(recipe *models.Recipe) error {
	query := `
	INSERT INTO recipes (` + recipeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		ingredients = excluded.ingredients,
		instructions = excluded.instructions,
		image_url = excluded.image_url,
		source_url = excluded.source_url,
		tags = excluded.tags,
		household_id = excluded.household_id,
		user_id = excluded.user_id,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, recipe.ID, recipe.Title,
		marshalStrings(recipe.Ingredients), marshalStrings(recipe.Instructions),
		recipe.ImageURL, recipe.SourceURL, marshalStrings(recipe.Tags),
		recipe.HouseholdID, recipe.UserID, recipe.CreatedAt, recipe.UpdatedAt)
	return err
}

// DeleteRecipe deletes a recipe. Deleting an absent id is a no-op:
// deletes are idempotent so replayed remote events converge.
func (r *Repository) DeleteRecipe(id string) error {
	_, err := r.db.Exec(`DELETE FROM recipes WHERE id = ?`, id)
	return err
}

// DeleteRecipes deletes multiple recipes in a single transaction so a
// concurrent reader never observes a partially-applied batch.
func (r *Repository) DeleteRecipes(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM recipes WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AssignTags adds the given tags to each recipe's tag set in a single
// transaction. Existing tags are kept; duplicates are not added.
// Returns the updated recipes.
func (r *Repository) AssignTags(ids []string, tags []string) ([]*models.Recipe, error) {
	if len(ids) == 0 || len(tags) == 0 {
		return nil, nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + recipeColumns + ` FROM recipes WHERE id = ?`
	var updated []*models.Recipe
	for _, id := range ids {
		recipe, err := scanRecipe(tx.QueryRow(query, id).Scan)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}

		existing := make(map[string]bool, len(recipe.Tags))
		for _, t := range recipe.Tags {
			existing[t] = true
		}
		for _, t := range tags {
			if !existing[t] {
				recipe.Tags = append(recipe.Tags, t)
				existing[t] = true
			}
		}
		recipe.Touch()

		_, err = tx.Exec(`UPDATE recipes SET tags = ?, updated_at = ? WHERE id = ?`,
			marshalStrings(recipe.Tags), recipe.UpdatedAt, recipe.ID)
		if err != nil {
			return nil, err
		}
		updated = append(updated, recipe)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// =====================================================
// ScheduleEntry Operations
// =====================================================

const entryColumns = `id, recipe_id, date, meal_type, household_id, user_id, created_at, updated_at`

// scanEntry scans one schedule entry row.
func scanEntry(scan func(...interface{}) error) (*models.ScheduleEntry, error) {
	var entry models.ScheduleEntry
	var userID sql.NullString
	err := scan(
		&entry.ID, &entry.RecipeID, &entry.Date, &entry.MealType,
		&entry.HouseholdID, &userID, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		entry.UserID = userID.String
	}
	return &entry, nil
}

func insertEntry(tx *sql.Tx, entry *models.ScheduleEntry) error {
	query := `
	INSERT INTO schedule_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query, entry.ID, entry.RecipeID, entry.Date, entry.MealType,
		entry.HouseholdID, entry.UserID, entry.CreatedAt, entry.UpdatedAt)
	return err
}

// PutScheduleEntry writes an entry into its (date, mealType) slot. Any
// entry already occupying the slot is replaced, not merged: the first
// writer is evicted. Returns the id of the evicted entry, if any.
func (r *Repository) PutScheduleEntry(entry *models.ScheduleEntry) (models.UUID, error) {
	if !entry.MealType.IsValid() {
		return "", fmt.Errorf("invalid meal type: %s", entry.MealType)
	}

	now := time.Now().Unix()
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
		entry.CreatedAt = now
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	tx, err := r.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Evict whatever occupies the slot, including a previous version of
	// this entry itself.
	var evicted models.UUID
	err = tx.QueryRow(
		`SELECT id FROM schedule_entries WHERE household_id = ? AND date = ? AND meal_type = ?`,
		entry.HouseholdID, entry.Date, entry.MealType,
	).Scan(&evicted)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	if evicted != "" {
		if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE id = ?`, evicted); err != nil {
			return "", err
		}
	}
	if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE id = ?`, entry.ID); err != nil {
		return "", err
	}

	if err := insertEntry(tx, entry); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	if evicted == entry.ID {
		evicted = ""
	}
	return evicted, nil
}

// GetScheduleEntry retrieves an entry by ID, returning (nil, nil) when absent.
func (r *Repository) GetScheduleEntry(id string) (*models.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	entry, err := scanEntry(stmt.QueryRow(id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetScheduleSlot retrieves the entry occupying a (date, mealType)
// slot, returning (nil, nil) for an empty slot.
func (r *Repository) GetScheduleSlot(householdID, date string, mealType models.MealType) (*models.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries
			  WHERE household_id = ? AND date = ? AND meal_type = ?`
	entry, err := scanEntry(r.db.QueryRow(query, householdID, date, mealType).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListScheduleEntries returns entries within [from, to] ordered by date
// then meal type.
func (r *Repository) ListScheduleEntries(householdID, from, to string) ([]*models.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries
			  WHERE household_id = ? AND date >= ? AND date <= ?
			  ORDER BY date, meal_type`
	rows, err := r.db.Query(query, householdID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ScheduleEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertScheduleEntry writes an entry by id for the merge paths,
// preserving its timestamps. The slot uniqueness invariant is enforced
// by evicting any other entry occupying the slot.
func (r *Repository) UpsertScheduleEntry(entry *models.ScheduleEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE id = ?`, entry.ID); err != nil {
		return err
	}
	_, err = tx.Exec(
		`DELETE FROM schedule_entries WHERE household_id = ? AND date = ? AND meal_type = ?`,
		entry.HouseholdID, entry.Date, entry.MealType)
	if err != nil {
		return err
	}
	if err := insertEntry(tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteScheduleEntry deletes an entry; absent ids are a no-op.
func (r *Repository) DeleteScheduleEntry(id string) error {
	_, err := r.db.Exec(`DELETE FROM schedule_entries WHERE id = ?`, id)
	return err
}

// SwapScheduleSlots exchanges the contents of two (date, mealType)
// slots in one transaction: both slots end up updated or neither does.
// An empty slot swaps too — the occupied entry moves to it. Returns
// the entries as they exist after the swap.
func (r *Repository) SwapScheduleSlots(householdID, dateA string, mealA models.MealType, dateB string, mealB models.MealType) ([]*models.ScheduleEntry, error) {
	if dateA == dateB && mealA == mealB {
		return nil, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	slotQuery := `SELECT ` + entryColumns + ` FROM schedule_entries
				  WHERE household_id = ? AND date = ? AND meal_type = ?`

	entryA, err := scanEntry(tx.QueryRow(slotQuery, householdID, dateA, mealA).Scan)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	entryB, err := scanEntry(tx.QueryRow(slotQuery, householdID, dateB, mealB).Scan)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if entryA == nil && entryB == nil {
		return nil, nil
	}

	now := time.Now().Unix()
	move := func(entry *models.ScheduleEntry, date string, mealType models.MealType) error {
		entry.Date = date
		entry.MealType = mealType
		entry.UpdatedAt = now
		_, err := tx.Exec(
			`UPDATE schedule_entries SET date = ?, meal_type = ?, updated_at = ? WHERE id = ?`,
			entry.Date, entry.MealType, entry.UpdatedAt, entry.ID)
		return err
	}

	switch {
	case entryA != nil && entryB != nil:
		// Park A outside both slots so the uniqueness constraint holds
		// at every statement within the transaction.
		if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE id = ?`, entryA.ID); err != nil {
			return nil, err
		}
		if err := move(entryB, dateA, mealA); err != nil {
			return nil, err
		}
		entryA.Date = dateB
		entryA.MealType = mealB
		entryA.UpdatedAt = now
		if err := insertEntry(tx, entryA); err != nil {
			return nil, err
		}
	case entryA != nil:
		if err := move(entryA, dateB, mealB); err != nil {
			return nil, err
		}
	default:
		if err := move(entryB, dateA, mealA); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var swapped []*models.ScheduleEntry
	if entryA != nil {
		swapped = append(swapped, entryA)
	}
	if entryB != nil {
		swapped = append(swapped, entryB)
	}
	return swapped, nil
}

// =====================================================
// SyncQueue Operations
// =====================================================

// EnqueueSyncItem appends one pending mutation to the sync queue.
// Timestamps are strictly increasing across appends, even when the
// clock does not advance between them.
func (r *Repository) EnqueueSyncItem(table models.SyncTable, op models.SyncOp, payload json.RawMessage) (*models.SyncQueueItem, error) {
	// The max-read and the insert share one transaction so that
	// concurrent enqueues cannot both observe the same high-water
	// timestamp and mint duplicates.
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(timestamp), 0) FROM sync_queue`).Scan(&last); err != nil {
		return nil, err
	}

	ts := time.Now().UnixNano()
	if ts <= last {
		ts = last + 1
	}

	item := &models.SyncQueueItem{
		Table:     table,
		Op:        op,
		Payload:   payload,
		Timestamp: ts,
	}

	result, err := tx.Exec(
		`INSERT INTO sync_queue (table_name, operation, payload, timestamp, retry_count)
		 VALUES (?, ?, ?, ?, 0)`,
		item.Table, item.Op, string(item.Payload), item.Timestamp)
	if err != nil {
		return nil, err
	}
	item.Seq, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

// PendingSyncItems returns all queued items in strict enqueue order.
func (r *Repository) PendingSyncItems() ([]*models.SyncQueueItem, error) {
	rows, err := r.db.Query(
		`SELECT seq, table_name, operation, payload, timestamp, retry_count
		 FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		var item models.SyncQueueItem
		var payload string
		err := rows.Scan(&item.Seq, &item.Table, &item.Op, &payload,
			&item.Timestamp, &item.RetryCount)
		if err != nil {
			return nil, err
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// DeleteSyncItem removes a successfully sent item from the queue.
func (r *Repository) DeleteSyncItem(seq int64) error {
	_, err := r.db.Exec(`DELETE FROM sync_queue WHERE seq = ?`, seq)
	return err
}

// BumpSyncItemRetry increments an item's retry count after a failed send.
func (r *Repository) BumpSyncItemRetry(seq int64) error {
	_, err := r.db.Exec(`UPDATE sync_queue SET retry_count = retry_count + 1 WHERE seq = ?`, seq)
	return err
}

// SyncQueueLen returns the number of pending queue items. Cheap enough
// to call on every status observation.
func (r *Repository) SyncQueueLen() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}

// ClearSyncQueue removes all queued items.
func (r *Repository) ClearSyncQueue() error {
	_, err := r.db.Exec(`DELETE FROM sync_queue`)
	return err
}

// ClearEntityTables wipes recipes and schedule_entries in one
// transaction. The sync queue is logically independent storage and is
// never touched: pending network intent survives a local data wipe.
func (r *Repository) ClearEntityTables() error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM recipes`); err != nil {
		return err
	}
	return tx.Commit()
}
