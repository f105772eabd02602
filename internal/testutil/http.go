package testutil

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// NewHTTPHandler serves b through the JSON notes API.
func NewHTTPHandler(b *Backend) http.Handler {
	h := &httpHandler{b: b}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.offline)

	r.Get(client.PingPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Get(client.NotesPath, h.getNotes)
	r.Post(client.NotesPath, h.postNotes)
	r.Post(client.PublishPath, h.publish)
	return r
}

type httpHandler struct {
	b *Backend
}

func (h *httpHandler) offline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.b.Offline() {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "server is offline")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *httpHandler) getNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, slug := q.Get("id"), q.Get("slug")

	if id == "" && slug == "" {
		list, err := h.b.List()
		if err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": list.Notes, "tags": list.Tags})
		return
	}

	note, err := h.b.Get(id, slug)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	etag := client.VersionToken(note.Version)
	w.Header().Set("ETag", etag)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note, "etag": etag})
}

type postBody struct {
	Method  string   `json:"_method"`
	ID      idString `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    string   `json:"tags"`
	Slug    string   `json:"slug"`
	Version int64    `json:"version"`
	Public  any      `json:"public"`
}

func (h *httpHandler) postNotes(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	clientID := r.Header.Get(common.ClientIDHeaderName)
	fields := models.Fields{
		Title:   body.Title,
		Content: body.Content,
		Tags:    models.ParseTags(body.Tags),
		Slug:    body.Slug,
	}

	switch strings.ToUpper(firstNonEmpty(body.Method, http.MethodPost)) {
	case http.MethodPost:
		note, err := h.b.Create(fields, clientID)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		w.Header().Set("ETag", client.VersionToken(note.Version))
		writeJSON(w, http.StatusCreated, map[string]any{"note": note})

	case http.MethodPut:
		if body.ID == "" {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "A valid note id is required.")
			return
		}
		expected, ok := client.ParseVersionToken(r.Header.Get("If-Match"))
		if !ok {
			expected = body.Version
		}
		if expected <= 0 {
			writeError(w, http.StatusPreconditionRequired, "missing_if_match", "Provide the current note version.")
			return
		}
		note, err := h.b.Update(string(body.ID), fields, expected, clientID)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		w.Header().Set("ETag", client.VersionToken(note.Version))
		writeJSON(w, http.StatusOK, map[string]any{"note": note})

	case http.MethodDelete:
		if body.ID == "" {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "A valid note id is required.")
			return
		}
		if err := h.b.Delete(string(body.ID), clientID); err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusBadRequest, "unknown_action", "Unsupported _method override provided.")
	}
}

func (h *httpHandler) publish(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "A valid note id is required.")
		return
	}

	public, err := h.b.SetVisibility(string(body.ID), truthy(body.Public), r.Header.Get(common.ClientIDHeaderName))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "is_public": public})
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	}
	return false
}

// idString accepts numeric or string ids.
type idString string

func (s *idString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = idString(t)
	case float64:
		*s = idString(strings.TrimSpace(string(b)))
	}
	return nil
}

func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "The requested note could not be found.")
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "version_conflict", "The note was updated elsewhere. Refresh and retry.")
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
