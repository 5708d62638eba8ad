// Package models provides data model definitions for the mealdeck sync engine.
package models

import "time"

// Recipe represents a household recipe.
// Ingredients and Instructions are ordered; Tags is an unordered set.
// List fields are stored as JSON text columns in SQLite and as JSON
// arrays on the wire.
type Recipe struct {
	ID           UUID     `db:"id" json:"id"`
	Title        string   `db:"title" json:"title"`
	Ingredients  []string `db:"ingredients" json:"ingredients"`
	Instructions []string `db:"instructions" json:"instructions"`
	ImageURL     string   `db:"image_url" json:"image_url,omitempty"`
	SourceURL    string   `db:"source_url" json:"source_url,omitempty"`
	Tags         []string `db:"tags" json:"tags,omitempty"`
	HouseholdID  string   `db:"household_id" json:"household_id,omitempty"`
	UserID       string   `db:"user_id" json:"user_id,omitempty"`
	CreatedAt    int64    `db:"created_at" json:"created_at"`
	UpdatedAt    int64    `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Recipe.
func (Recipe) TableName() string {
	return "recipes"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Recipe) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *Recipe) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// Touch stamps UpdatedAt with the current time. UpdatedAt never moves
// backwards for a given id, even if the wall clock does.
func (r *Recipe) Touch() {
	now := time.Now().Unix()
	if now < r.UpdatedAt {
		now = r.UpdatedAt
	}
	r.UpdatedAt = now
}
