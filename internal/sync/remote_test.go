package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arialin/mealdeck/internal/models"
)

func TestHTTPRemoteStoreListRecipes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/households/house-1/recipes" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Missing bearer token, got %q", got)
		}
		if got := r.Header.Get("X-User-ID"); got != "user-1" {
			t.Errorf("Missing user header, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]*models.Recipe{
			{ID: "11111111-0000-4000-8000-000000000000", Title: "Pasta", UpdatedAt: 100},
		})
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(&RemoteConfig{
		BaseURL:   server.URL,
		AuthToken: "token-1",
		UserID:    "user-1",
	})

	recipes, err := store.ListRecipes(context.Background(), "house-1")
	if err != nil {
		t.Fatalf("ListRecipes failed: %v", err)
	}
	if len(recipes) != 1 || recipes[0].Title != "Pasta" {
		t.Errorf("Unexpected recipes: %+v", recipes)
	}
}

func TestHTTPRemoteStoreUpsertRecipe(t *testing.T) {
	var received models.Recipe
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/households/house-1/recipes/11111111-0000-4000-8000-000000000000" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Unexpected content type: %s", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(&RemoteConfig{BaseURL: server.URL})
	recipe := &models.Recipe{
		ID:    "11111111-0000-4000-8000-000000000000",
		Title: "Pasta",
	}
	if err := store.UpsertRecipe(context.Background(), "house-1", recipe); err != nil {
		t.Fatalf("UpsertRecipe failed: %v", err)
	}
	if received.Title != "Pasta" {
		t.Errorf("Body not carried: %+v", received)
	}
}

func TestHTTPRemoteStoreDeleteAbsentRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(&RemoteConfig{BaseURL: server.URL})

	// Deleting an already-deleted row is success, not an error.
	err := store.DeleteRecipe(context.Background(), "house-1", "11111111-0000-4000-8000-000000000000")
	if err != nil {
		t.Errorf("Expected 404 on DELETE to succeed, got %v", err)
	}
}

func TestHTTPRemoteStoreServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(&RemoteConfig{BaseURL: server.URL})

	if _, err := store.ListScheduleEntries(context.Background(), "house-1"); err == nil {
		t.Error("Expected error on 500 response")
	}
	if err := store.TestConnection(context.Background(), "house-1"); err == nil {
		t.Error("Expected TestConnection to report the failure")
	}
}
