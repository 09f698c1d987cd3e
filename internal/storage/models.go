package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultTable is the entries table name shared by both backends.
const DefaultTable = "dashboard_entries"

// Entry is one categorized record owned by a single user. Data is the
// category payload in its stored map form.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Category  string         `json:"category"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// EntryQuery filters QueryEntries. Empty fields match everything; a zero
// Limit means no limit. Results are always most recent first.
type EntryQuery struct {
	UserID   string
	Category string
	Since    time.Time
	Limit    int
}

// CategoryCount is one row of a per-category aggregation.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// prepare assigns the id and creation time of a new entry.
func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e
}

// splitPatch separates keys to set from keys to delete (nil values).
func splitPatch(fields map[string]any) (set map[string]any, del []string) {
	set = make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			del = append(del, k)
			continue
		}
		set[k] = v
	}
	return set, del
}
