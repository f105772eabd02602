// Package models defines the client-side data model of the notes sync
// engine: note snapshots, the cached listing, and outbox entries.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers assigned locally to notes the server has
// never seen.
const TempIDPrefix = "temp-"

// Note is the latest known snapshot of a note.
//
// A note is addressed either by TempID (never synced) or by ID (assigned by
// the server), never by both at once.
type Note struct {
	// ID is the server-assigned identifier; empty until the first sync.
	ID string `json:"id,omitempty"`
	// TempID is the local placeholder used before the server assigns ID.
	TempID string `json:"temp_id,omitempty"`

	Slug     string   `json:"slug"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	IsPublic bool     `json:"is_public"`

	// Version is the server's optimistic-concurrency token. It starts at 1
	// and is only ever advanced by the server.
	Version int64 `json:"version"`

	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Key returns the identifier the note is stored under: ID when assigned,
// TempID otherwise. Empty when the note has neither.
func (n *Note) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.TempID
}

// IsTemp reports whether the note has not reached the server yet.
func (n *Note) IsTemp() bool {
	return n.ID == "" && n.TempID != ""
}

// Clone returns a deep copy.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Tags = slices.Clone(n.Tags)
	return &c
}

// Summary projects the note onto its list representation.
func (n *Note) Summary() NoteSummary {
	return NoteSummary{
		ID:        n.Key(),
		Slug:      n.Slug,
		Title:     n.Title,
		Tags:      slices.Clone(n.Tags),
		IsPublic:  n.IsPublic,
		Version:   n.Version,
		UpdatedAt: n.UpdatedAt,
	}
}

// Apply copies user-editable fields onto the note and advances UpdatedAt.
// Version is not changed.
func (n *Note) Apply(f Fields, now time.Time) {
	n.Title = f.Title
	n.Content = f.Content
	n.Tags = slices.Clone(f.Tags)
	if f.Slug != "" {
		n.Slug = f.Slug
	}
	n.UpdatedAt = Timestamp(now)
}

// Fields are the user-editable note attributes sent on create and update.
type Fields struct {
	Title   string   `json:"title" validate:"required"`
	Content string   `json:"content" validate:"required"`
	Tags    []string `json:"tags,omitempty"`
	Slug    string   `json:"slug,omitempty"`
}

// NoteSummary is one row of the "all notes" listing.
type NoteSummary struct {
	ID        string   `json:"id"`
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	IsPublic  bool     `json:"is_public"`
	Version   int64    `json:"version,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

// NoteList is the cached listing as last seen from the server.
type NoteList struct {
	Notes   []NoteSummary `json:"notes"`
	Tags    []string      `json:"tags"`
	SavedAt time.Time     `json:"saved_at"`
}

// NewTempID returns a fresh placeholder identifier. The suffix is a
// time-ordered UUID, so ids issued by one client sort in creation order.
func NewTempID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return TempIDPrefix + id.String()
}

// IsTempID reports whether id carries the reserved placeholder prefix.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix) && len(id) > len(TempIDPrefix)
}

// Timestamp formats t the way notes carry UpdatedAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTags splits a comma separated tag string, trimming blanks.
func ParseTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
