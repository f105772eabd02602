package client

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// wireID accepts identifiers sent either as JSON numbers or strings.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = wireID(n.String())
	return nil
}

type wireNote struct {
	ID        wireID   `json:"id"`
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	IsPublic  bool     `json:"is_public"`
	Version   int64    `json:"version"`
	UpdatedAt string   `json:"updated_at"`
	CreatedAt string   `json:"created_at"`
}

func (w *wireNote) toModel() *models.Note {
	if w == nil {
		return nil
	}
	return &models.Note{
		ID:        string(w.ID),
		Slug:      w.Slug,
		Title:     w.Title,
		Content:   w.Content,
		Tags:      w.Tags,
		IsPublic:  w.IsPublic,
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
		CreatedAt: w.CreatedAt,
	}
}

type wireSummary struct {
	ID        wireID   `json:"id"`
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	IsPublic  bool     `json:"is_public"`
	Version   int64    `json:"version"`
	UpdatedAt string   `json:"updated_at"`
}

type listResponse struct {
	Notes []wireSummary `json:"notes"`
	Tags  []string      `json:"tags"`
}

func (r *listResponse) toModel() *models.NoteList {
	list := &models.NoteList{
		Notes: make([]models.NoteSummary, 0, len(r.Notes)),
		Tags:  r.Tags,
	}
	for _, s := range r.Notes {
		list.Notes = append(list.Notes, models.NoteSummary{
			ID:        string(s.ID),
			Slug:      s.Slug,
			Title:     s.Title,
			Tags:      s.Tags,
			IsPublic:  s.IsPublic,
			Version:   s.Version,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return list
}

type noteResponse struct {
	Note        *wireNote `json:"note"`
	ETag        string    `json:"etag,omitempty"`
	NotModified bool      `json:"not_modified,omitempty"`
}

type visibilityResponse struct {
	OK       bool `json:"ok"`
	IsPublic bool `json:"is_public"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
