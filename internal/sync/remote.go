// Package sync provides the offline-first synchronization engine.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arialin/mealdeck/internal/models"
)

// RemoteStore defines the remote persistence boundary: two tables
// scoped by household id, authoritative for cross-device convergence
// but never for availability.
type RemoteStore interface {
	// ListRecipes fetches all recipes belonging to the household.
	ListRecipes(ctx context.Context, householdID string) ([]*models.Recipe, error)

	// ListScheduleEntries fetches all schedule entries belonging to the household.
	ListScheduleEntries(ctx context.Context, householdID string) ([]*models.ScheduleEntry, error)

	// UpsertRecipe writes a recipe row. Replaying the same write is
	// idempotent: the remote state after two applications equals one.
	UpsertRecipe(ctx context.Context, householdID string, recipe *models.Recipe) error

	// DeleteRecipe removes a recipe row. Deleting an absent row succeeds.
	DeleteRecipe(ctx context.Context, householdID string, id models.UUID) error

	// UpsertScheduleEntry writes a schedule entry row.
	UpsertScheduleEntry(ctx context.Context, householdID string, entry *models.ScheduleEntry) error

	// DeleteScheduleEntry removes a schedule entry row.
	DeleteScheduleEntry(ctx context.Context, householdID string, id models.UUID) error
}

// RemoteConfig holds remote backend connection configuration.
type RemoteConfig struct {
	BaseURL   string // e.g. "https://sync.mealdeck.app/v1"
	AuthToken string // bearer token for the authenticated household member
	UserID    string // authorship attributed to remote rows
}

// HTTPRemoteStore implements RemoteStore over a JSON HTTP API.
type HTTPRemoteStore struct {
	config     *RemoteConfig
	httpClient *http.Client
}

// NewHTTPRemoteStore creates a new HTTPRemoteStore.
func NewHTTPRemoteStore(config *RemoteConfig) *HTTPRemoteStore {
	return &HTTPRemoteStore{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// createRequest creates an authenticated JSON request.
func (c *HTTPRemoteStore) createRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	if c.config.UserID != "" {
		req.Header.Set("X-User-ID", c.config.UserID)
	}

	return req, nil
}

// do executes a request and decodes the response into out when non-nil.
// A 404 on DELETE is treated as success: the row is already gone.
func (c *HTTPRemoteStore) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodDelete {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// ListRecipes fetches all recipes for the household.
func (c *HTTPRemoteStore) ListRecipes(ctx context.Context, householdID string) ([]*models.Recipe, error) {
	req, err := c.createRequest(ctx, http.MethodGet,
		fmt.Sprintf("/households/%s/recipes", householdID), nil)
	if err != nil {
		return nil, err
	}

	var recipes []*models.Recipe
	if err := c.do(req, &recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// ListScheduleEntries fetches all schedule entries for the household.
func (c *HTTPRemoteStore) ListScheduleEntries(ctx context.Context, householdID string) ([]*models.ScheduleEntry, error) {
	req, err := c.createRequest(ctx, http.MethodGet,
		fmt.Sprintf("/households/%s/schedule-entries", householdID), nil)
	if err != nil {
		return nil, err
	}

	var entries []*models.ScheduleEntry
	if err := c.do(req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// UpsertRecipe writes one recipe row keyed by its id.
func (c *HTTPRemoteStore) UpsertRecipe(ctx context.Context, householdID string, recipe *models.Recipe) error {
	req, err := c.createRequest(ctx, http.MethodPut,
		fmt.Sprintf("/households/%s/recipes/%s", householdID, recipe.ID), recipe)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DeleteRecipe removes one recipe row.
func (c *HTTPRemoteStore) DeleteRecipe(ctx context.Context, householdID string, id models.UUID) error {
	req, err := c.createRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/households/%s/recipes/%s", householdID, id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// UpsertScheduleEntry writes one schedule entry row keyed by its id.
func (c *HTTPRemoteStore) UpsertScheduleEntry(ctx context.Context, householdID string, entry *models.ScheduleEntry) error {
	req, err := c.createRequest(ctx, http.MethodPut,
		fmt.Sprintf("/households/%s/schedule-entries/%s", householdID, entry.ID), entry)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DeleteScheduleEntry removes one schedule entry row.
func (c *HTTPRemoteStore) DeleteScheduleEntry(ctx context.Context, householdID string, id models.UUID) error {
	req, err := c.createRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/households/%s/schedule-entries/%s", householdID, id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// TestConnection verifies the remote backend is reachable.
func (c *HTTPRemoteStore) TestConnection(ctx context.Context, householdID string) error {
	_, err := c.ListRecipes(ctx, householdID)
	return err
}
