// Package handlers provides REST API handlers for sync status and operations.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/arialin/mealdeck/internal/sync"
)

// SyncHandler exposes the engine's status surface to the UI layer.
type SyncHandler struct {
	engine sync.Engine
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine sync.Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// Register attaches the sync routes to mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sync/status", h.Status)
	mux.HandleFunc("/sync/force", h.ForceSync)
	mux.HandleFunc("/connectivity", h.Connectivity)
}

// statusResponse is the JSON shape of GET /sync/status.
type statusResponse struct {
	Available bool        `json:"available"`
	State     interface{} `json:"state"`
}

// Status handles GET /sync/status.
// Returns the current SyncState plus the engine's availability flag.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Available: h.engine.Available(),
		State:     h.engine.State(),
	})
}

// ForceSync handles POST /sync/force.
// Resets the retry backoff and performs a pass immediately; the
// response carries the resulting state. Sync failures surface as
// status "error" in the state, never as an HTTP failure.
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = h.engine.ForceSync(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Available: h.engine.Available(),
		State:     h.engine.State(),
	})
}

// connectivityRequest is the JSON body of POST /connectivity.
type connectivityRequest struct {
	Online bool `json:"online"`
}

// Connectivity handles POST /connectivity.
// Consumes the platform's "became online" / "became offline" events.
func (h *SyncHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// The engine runs any triggered pass on its own context; the
	// request context dies as soon as this handler returns.
	h.engine.SetOnline(req.Online)
	w.WriteHeader(http.StatusNoContent)
}
