package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/metrics"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// ListResult is a listing, either fresh from the server or the cached copy.
type ListResult struct {
	List      *models.NoteList
	FromCache bool
}

// GetResult is a single note. FromCache is set when the server was not
// asked or could not be reached; NotModified when the server confirmed the
// cached copy is current.
type GetResult struct {
	Note        *models.Note
	FromCache   bool
	NotModified bool
}

// NoteService is the entry point for UI layers. Writes go straight to the
// server while online and fall back to the outbox otherwise. Reads prefer
// the server and fall back to the cache.
type NoteService struct {
	remote  client.Client
	cache   notes.Repository
	meta    metadata.Repository
	sync    *SyncService
	log     logging.Logger
	metrics *metrics.Recorder

	online atomic.Bool
}

func NewNoteService(remote client.Client, cache notes.Repository, meta metadata.Repository, sync *SyncService, log logging.Logger) *NoteService {
	if log == nil {
		log = logging.Nop()
	}
	s := &NoteService{
		remote:  remote,
		cache:   cache,
		meta:    meta,
		sync:    sync,
		log:     log.With("module", "notes"),
		metrics: sync.metrics,
	}
	s.SetOnline(true)
	return s
}

func (s *NoteService) Online() bool { return s.online.Load() }

// SetOnline records connectivity and reports whether it changed.
func (s *NoteService) SetOnline(online bool) bool {
	s.metrics.SetOnline(online)
	return s.online.Swap(online) != online
}

// Sync drains the outbox and, when it completes, refreshes the listing.
func (s *NoteService) Sync(ctx context.Context) (*DrainResult, error) {
	res, err := s.sync.Drain(ctx)
	if err != nil {
		if Classify(err) == FailureNetworkUnavailable && !errors.Is(err, ErrDrainStopped) {
			s.SetOnline(false)
		}
		return res, err
	}
	if res.Skipped {
		return res, nil
	}
	if _, err := s.List(ctx); err != nil {
		s.log.Warn(ctx, "failed to refresh list after sync", "error", err)
	}
	return res, nil
}

// List fetches the listing and caches it. Notes not yet created on the
// server are kept at the head of the cached listing.
func (s *NoteService) List(ctx context.Context) (*ListResult, error) {
	if s.Online() {
		list, err := s.remote.ListNotes(ctx)
		if err == nil {
			if err := s.mergeAndCache(ctx, list); err != nil {
				s.log.Error(ctx, "failed to cache list", "error", err)
			}
			return &ListResult{List: list}, nil
		}
		if !s.offline(ctx, err) {
			return nil, err
		}
	}

	list, err := s.cache.GetList(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return &ListResult{List: &models.NoteList{}, FromCache: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached list: %w", err)
	}
	return &ListResult{List: list, FromCache: true}, nil
}

func (s *NoteService) mergeAndCache(ctx context.Context, list *models.NoteList) error {
	cached, err := s.cache.GetList(ctx)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if cached != nil {
		var temps []models.NoteSummary
		for _, n := range cached.Notes {
			if models.IsTempID(n.ID) {
				temps = append(temps, n)
			}
		}
		list.Notes = append(temps, list.Notes...)
	}
	return s.cache.PutList(ctx, list)
}

// Get returns note id, revalidating the cached copy with its version token.
func (s *NoteService) Get(ctx context.Context, id string) (*GetResult, error) {
	id = s.sync.resolveID(ctx, id)
	if models.IsTempID(id) {
		return s.fromCache(ctx, id, "")
	}
	return s.fetch(ctx, id, "", func(token string) (*client.FetchResult, error) {
		return s.remote.GetByID(ctx, id, token)
	})
}

// GetBySlug returns the note published under slug.
func (s *NoteService) GetBySlug(ctx context.Context, slug string) (*GetResult, error) {
	id := ""
	if cached, err := s.cache.GetBySlug(ctx, slug); err == nil {
		id = cached.Key()
	}
	if models.IsTempID(id) {
		return s.fromCache(ctx, "", slug)
	}
	return s.fetch(ctx, id, slug, func(token string) (*client.FetchResult, error) {
		return s.remote.GetBySlug(ctx, slug, token)
	})
}

func (s *NoteService) fetch(ctx context.Context, id, slug string, get func(token string) (*client.FetchResult, error)) (*GetResult, error) {
	if !s.Online() {
		return s.fromCache(ctx, id, slug)
	}

	token := ""
	if id != "" {
		if v, err := s.meta.Get(ctx, metadata.VersionTokenKey(id)); err == nil {
			token = string(v)
		}
	}

	fr, err := get(token)
	if err == nil && fr.NotModified {
		if res, cerr := s.fromCache(ctx, id, slug); cerr == nil {
			res.FromCache, res.NotModified = false, true
			return res, nil
		}
		// token without a snapshot: ask again unconditionally
		fr, err = get("")
	}

	switch {
	case err == nil:
		s.sync.remember(ctx, fr.Note)
		return &GetResult{Note: fr.Note}, nil
	case errors.Is(err, client.ErrNotFound):
		if id != "" {
			s.sync.forget(ctx, id)
		}
		return nil, err
	case s.offline(ctx, err):
		return s.fromCache(ctx, id, slug)
	default:
		return nil, err
	}
}

func (s *NoteService) fromCache(ctx context.Context, id, slug string) (*GetResult, error) {
	var (
		note *models.Note
		err  error
	)
	if id != "" {
		note, err = s.cache.GetByID(ctx, id)
	} else {
		note, err = s.cache.GetBySlug(ctx, slug)
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}
	return &GetResult{Note: note, FromCache: true}, nil
}

// Save creates a note when current is nil and updates current otherwise.
// An update that loses to a newer server version returns ErrReloadRequired;
// the cache then holds the server copy.
func (s *NoteService) Save(ctx context.Context, current *models.Note, fields models.Fields) (*models.Note, error) {
	fields, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return s.create(ctx, fields, false)
	}
	return s.update(ctx, current, fields)
}

// Create is Save for a new note with an initial visibility.
func (s *NoteService) Create(ctx context.Context, fields models.Fields, public bool) (*models.Note, error) {
	fields, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, fields, public)
}

func normalize(f models.Fields) (models.Fields, error) {
	f.Tags = dedupTags(f.Tags)
	if err := models.ValidateFields(f); err != nil {
		return f, fmt.Errorf("%w: %w", common.ErrorInvalidInput, err)
	}
	return f, nil
}

// dedupTags drops repeated tags, keeping the first occurrence in place.
func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (s *NoteService) create(ctx context.Context, fields models.Fields, public bool) (*models.Note, error) {
	if !s.Online() {
		return s.sync.QueueCreate(ctx, fields, public)
	}

	note, err := s.remote.Create(ctx, fields)
	if err != nil {
		if s.offline(ctx, err) {
			return s.sync.QueueCreate(ctx, fields, public)
		}
		return nil, err
	}

	if public {
		if v, err := s.remote.SetVisibility(ctx, note.ID, true); err != nil {
			s.log.Warn(ctx, "note created but could not be published", "id", note.ID, "error", err)
		} else {
			note.IsPublic = v
		}
	}
	s.sync.remember(ctx, note)
	return note, nil
}

func (s *NoteService) update(ctx context.Context, current *models.Note, fields models.Fields) (*models.Note, error) {
	current = s.sync.current(ctx, current)
	if direct, err := s.direct(ctx, current); err != nil || !direct {
		if err != nil {
			return nil, err
		}
		return s.sync.QueueUpdate(ctx, current, fields)
	}

	note, err := s.remote.Update(ctx, current.ID, fields, current.Version)
	switch {
	case err == nil:
		s.sync.remember(ctx, note)
		return note, nil
	case errors.Is(err, client.ErrVersionConflict):
		fresh := s.sync.refetch(ctx, current.ID, err)
		s.log.Warn(ctx, "save rejected, note changed on server", "id", current.ID, "expected", current.Version)
		return fresh, fmt.Errorf("%w: %w", ErrReloadRequired, err)
	case errors.Is(err, client.ErrNotFound):
		s.sync.forget(ctx, current.ID)
		return nil, err
	case s.offline(ctx, err):
		return s.sync.QueueUpdate(ctx, current, fields)
	default:
		return nil, err
	}
}

// Delete removes note. Deleting a note already gone on the server succeeds.
func (s *NoteService) Delete(ctx context.Context, note *models.Note) error {
	note = s.sync.current(ctx, note)
	if direct, err := s.direct(ctx, note); err != nil || !direct {
		if err != nil {
			return err
		}
		return s.sync.QueueDelete(ctx, note)
	}

	err := s.remote.Delete(ctx, note.ID)
	switch {
	case err == nil, errors.Is(err, client.ErrNotFound):
		s.sync.forget(ctx, note.ID)
		return nil
	case s.offline(ctx, err):
		return s.sync.QueueDelete(ctx, note)
	default:
		return err
	}
}

// SetVisibility publishes or unpublishes note.
func (s *NoteService) SetVisibility(ctx context.Context, note *models.Note, public bool) (*models.Note, error) {
	note = s.sync.current(ctx, note)
	if direct, err := s.direct(ctx, note); err != nil || !direct {
		if err != nil {
			return nil, err
		}
		return s.sync.QueuePublish(ctx, note, public)
	}

	v, err := s.remote.SetVisibility(ctx, note.ID, public)
	switch {
	case err == nil:
		updated := note.Clone()
		updated.IsPublic = v
		s.sync.cacheNote(ctx, updated)
		return updated, nil
	case errors.Is(err, client.ErrNotFound):
		s.sync.forget(ctx, note.ID)
		return nil, err
	case s.offline(ctx, err):
		return s.sync.QueuePublish(ctx, note, public)
	default:
		return nil, err
	}
}

// Pending returns the number of queued entries.
func (s *NoteService) Pending(ctx context.Context) (int, error) {
	return s.sync.outbox.Count(ctx)
}

// SubscribePending calls fn with the queue length whenever the outbox changes.
func (s *NoteService) SubscribePending(fn func(n int)) (unsubscribe func()) {
	return s.sync.outbox.Subscribe(func() {
		n, err := s.sync.outbox.Count(context.Background())
		if err != nil {
			return
		}
		fn(n)
	})
}

// direct reports whether a write to note may bypass the outbox: the client
// is online, the server knows the note and nothing is queued for it.
func (s *NoteService) direct(ctx context.Context, note *models.Note) (bool, error) {
	if !s.Online() || note.IsTemp() {
		return false, nil
	}
	pending, err := s.sync.HasPending(ctx, note.ID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect outbox: %w", err)
	}
	return !pending, nil
}

// offline marks the client offline when err is a connectivity failure and
// reports whether it was one.
func (s *NoteService) offline(ctx context.Context, err error) bool {
	if Classify(err) != FailureNetworkUnavailable || ctx.Err() != nil {
		return false
	}
	if s.SetOnline(false) {
		s.log.Warn(ctx, "server unreachable, working offline", "error", err)
	}
	return true
}
