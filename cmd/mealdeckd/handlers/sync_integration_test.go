package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/arialin/mealdeck/internal/db"
	"github.com/arialin/mealdeck/internal/models"
	"github.com/arialin/mealdeck/internal/sync"
)

// memoryRemote is an in-process sync.RemoteStore for end-to-end
// handler tests. It honours context cancellation, and its list calls
// take long enough that a pass always outlives the HTTP handler that
// triggered it.
type memoryRemote struct {
	mu      stdsync.Mutex
	recipes map[models.UUID]*models.Recipe
	entries map[models.UUID]*models.ScheduleEntry
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{
		recipes: make(map[models.UUID]*models.Recipe),
		entries: make(map[models.UUID]*models.ScheduleEntry),
	}
}

func (m *memoryRemote) ListRecipes(ctx context.Context, householdID string) ([]*models.Recipe, error) {
	time.Sleep(20 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Recipe, 0, len(m.recipes))
	for _, r := range m.recipes {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryRemote) ListScheduleEntries(ctx context.Context, householdID string) ([]*models.ScheduleEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScheduleEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryRemote) UpsertRecipe(ctx context.Context, householdID string, recipe *models.Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes[recipe.ID] = recipe
	return nil
}

func (m *memoryRemote) DeleteRecipe(ctx context.Context, householdID string, id models.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipes, id)
	return nil
}

func (m *memoryRemote) UpsertScheduleEntry(ctx context.Context, householdID string, entry *models.ScheduleEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *memoryRemote) DeleteScheduleEntry(ctx context.Context, householdID string, id models.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memoryRemote) recipeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recipes)
}

// setupServer wires a real coordinator over a migrated temp database
// behind the HTTP surface.
func setupServer(t *testing.T, remote sync.RemoteStore) (*httptest.Server, *sync.Coordinator) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator, err := db.NewEmbeddedMigrator(database.DB)
	if err != nil {
		t.Fatalf("Failed to create migrator: %v", err)
	}
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	config := sync.DefaultConfig()
	config.HouseholdID = "house-1"
	config.UserID = "user-1"
	c := sync.NewCoordinator(db.NewRepository(database.DB), remote, nil, config)
	t.Cleanup(c.Close)

	mux := http.NewServeMux()
	NewSyncHandler(c).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func getStatus(t *testing.T, srv *httptest.Server) models.SyncState {
	t.Helper()

	resp, err := http.Get(srv.URL + "/sync/status")
	if err != nil {
		t.Fatalf("GET /sync/status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Available bool             `json:"available"`
		State     models.SyncState `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return body.State
}

func postConnectivity(t *testing.T, srv *httptest.Server, online bool) {
	t.Helper()

	payload, _ := json.Marshal(map[string]bool{"online": online})
	resp, err := http.Post(srv.URL+"/connectivity", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /connectivity failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
}

// The offline round trip through the real engine: queue a mutation
// while offline, flip connectivity back on over HTTP, and watch the
// reconnect pass drain the queue after the handler has long returned.
func TestConnectivityReconnectDrainsQueue(t *testing.T) {
	remote := newMemoryRemote()
	srv, c := setupServer(t, remote)

	postConnectivity(t, srv, false)

	recipe := &models.Recipe{Title: "Pasta"}
	if err := c.SaveRecipe(recipe); err != nil {
		t.Fatalf("SaveRecipe failed: %v", err)
	}

	state := getStatus(t, srv)
	if state.Status != models.SyncStatusOffline {
		t.Errorf("Expected offline status, got %s", state.Status)
	}
	if state.QueueLength != 1 {
		t.Errorf("Expected queue length 1, got %d", state.QueueLength)
	}

	postConnectivity(t, srv, true)

	deadline := time.After(2 * time.Second)
	for {
		state = getStatus(t, srv)
		if state.Status == models.SyncStatusSynced && state.QueueLength == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Queue never drained: status=%s queue=%d error=%q",
				state.Status, state.QueueLength, state.Error)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := remote.recipeCount(); got != 1 {
		t.Errorf("Expected 1 recipe on the remote, got %d", got)
	}
}
