// Package models provides data model definitions for the mealdeck sync engine.
package models

import "time"

// MealType identifies the meal slot of a schedule entry.
type MealType string

const (
	MealTypeLunch  MealType = "lunch"
	MealTypeDinner MealType = "dinner"
)

// IsValid reports whether the meal type is a known value.
func (m MealType) IsValid() bool {
	return m == MealTypeLunch || m == MealTypeDinner
}

// ScheduleEntry assigns a recipe to a (date, mealType) slot.
// RecipeID is a reference, not ownership: a dangling RecipeID after
// recipe deletion is tolerated and rendered as an empty slot.
// At most one entry exists per (household, date, mealType); writing to
// an occupied slot replaces the existing entry.
type ScheduleEntry struct {
	ID          UUID     `db:"id" json:"id"`
	RecipeID    UUID     `db:"recipe_id" json:"recipe_id"`
	Date        string   `db:"date" json:"date"` // ISO calendar day, e.g. "2026-02-10"
	MealType    MealType `db:"meal_type" json:"meal_type"`
	HouseholdID string   `db:"household_id" json:"household_id,omitempty"`
	UserID      string   `db:"user_id" json:"user_id,omitempty"`
	CreatedAt   int64    `db:"created_at" json:"created_at"`
	UpdatedAt   int64    `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for ScheduleEntry.
func (ScheduleEntry) TableName() string {
	return "schedule_entries"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (e *ScheduleEntry) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// Touch stamps UpdatedAt with the current time, never moving backwards.
func (e *ScheduleEntry) Touch() {
	now := time.Now().Unix()
	if now < e.UpdatedAt {
		now = e.UpdatedAt
	}
	e.UpdatedAt = now
}
