package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arialin/mealdeck/internal/models"
)

// fakeEngine is a canned sync.Engine for handler tests.
type fakeEngine struct {
	available bool
	online    bool
	state     models.SyncState
	forceErr  error
	forced    int
}

func (f *fakeEngine) Sync(ctx context.Context) error { return nil }

func (f *fakeEngine) ForceSync(ctx context.Context) error {
	f.forced++
	return f.forceErr
}

func (f *fakeEngine) SetOnline(online bool) { f.online = online }

func (f *fakeEngine) State() models.SyncState { return f.state }

func (f *fakeEngine) Available() bool { return f.available }

func setupHandler(engine *fakeEngine) *http.ServeMux {
	mux := http.NewServeMux()
	NewSyncHandler(engine).Register(mux)
	return mux
}

func TestStatusEndpoint(t *testing.T) {
	engine := &fakeEngine{
		available: true,
		state: models.SyncState{
			Status:      models.SyncStatusSynced,
			QueueLength: 3,
		},
	}
	mux := setupHandler(engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Available bool             `json:"available"`
		State     models.SyncState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Available {
		t.Error("Expected available true")
	}
	if resp.State.Status != models.SyncStatusSynced {
		t.Errorf("Expected synced, got %s", resp.State.Status)
	}
	if resp.State.QueueLength != 3 {
		t.Errorf("Expected queue length 3, got %d", resp.State.QueueLength)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	mux := setupHandler(&fakeEngine{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestForceSyncEndpoint(t *testing.T) {
	engine := &fakeEngine{
		available: true,
		state:     models.SyncState{Status: models.SyncStatusError, Error: "connection refused"},
		forceErr:  errors.New("connection refused"),
	}
	mux := setupHandler(engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/force", nil))

	// A failed pass still answers 200; the failure lives in the state.
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if engine.forced != 1 {
		t.Errorf("Expected 1 forced pass, got %d", engine.forced)
	}

	var resp struct {
		State models.SyncState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.State.Status != models.SyncStatusError {
		t.Errorf("Expected error status, got %s", resp.State.Status)
	}
	if resp.State.Error == "" {
		t.Error("Expected error message in state")
	}
}

func TestConnectivityEndpoint(t *testing.T) {
	engine := &fakeEngine{online: true}
	mux := setupHandler(engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectivity", strings.NewReader(`{"online":false}`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if engine.online {
		t.Error("Expected engine set offline")
	}
}

func TestConnectivityRejectsBadBody(t *testing.T) {
	mux := setupHandler(&fakeEngine{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectivity", strings.NewReader(`{broken`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
