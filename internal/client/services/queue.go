package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/outbox"
)

// Queue operations apply an intent to the cache optimistically and record it
// in the outbox, pruning entries it supersedes first.

// QueueCreate stores a new note under a temp id and queues its creation.
func (s *SyncService) QueueCreate(ctx context.Context, fields models.Fields, makePublic bool) (*models.Note, error) {
	tempID := models.NewTempID()

	note := &models.Note{TempID: tempID, IsPublic: makePublic}
	note.Apply(fields, s.now())
	note.CreatedAt = note.UpdatedAt
	if note.Slug == "" {
		note.Slug = tempID
	}

	if err := s.enqueue(ctx, models.CreatePayload{TempID: tempID, Fields: fields, MakePublic: makePublic}); err != nil {
		return nil, err
	}
	s.cacheNote(ctx, note)

	s.log.Debug(ctx, "create queued", "temp_id", tempID)
	return note, nil
}

// QueueUpdate queues an edit of note. A pending edit of the same note is
// replaced. Editing a note the server has not seen yet re-queues its create
// with the new fields instead.
func (s *SyncService) QueueUpdate(ctx context.Context, note *models.Note, fields models.Fields) (*models.Note, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	note = s.current(ctx, note)
	id := note.Key()

	updated := note.Clone()
	updated.Apply(fields, s.now())

	if note.IsTemp() && !s.inFlight(id) {
		if err := s.requeueCreate(ctx, updated); err != nil {
			return nil, err
		}
		s.cacheNote(ctx, updated)
		return updated, nil
	}

	version := note.Version
	if note.IsTemp() {
		// the create in flight lands as version 1; the id resolves at drain time
		version = 1
	}

	if _, err := s.outbox.Prune(ctx, targeting(id, models.ActionUpdate)); err != nil {
		return nil, fmt.Errorf("failed to prune pending updates of %s: %w", id, err)
	}
	if err := s.enqueue(ctx, models.UpdatePayload{ID: id, Fields: fields, Version: version}); err != nil {
		return nil, err
	}
	s.cacheNote(ctx, updated)

	s.log.Debug(ctx, "update queued", "id", id, "version", version)
	return updated, nil
}

// QueueDelete queues removal of note and drops it from the cache. A note the
// server has never seen is cancelled locally: every entry targeting it is
// pruned and nothing is sent. If its create is already on the wire, a delete
// against the temp id is queued instead.
func (s *SyncService) QueueDelete(ctx context.Context, note *models.Note) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	note = s.current(ctx, note)
	id := note.Key()

	if note.IsTemp() && !s.inFlight(id) {
		n, err := s.outbox.Prune(ctx, targeting(id))
		if err != nil {
			return fmt.Errorf("failed to cancel pending create of %s: %w", id, err)
		}
		s.forget(ctx, id)
		s.updateSize(ctx)
		s.log.Debug(ctx, "unsynced note discarded", "temp_id", id, "pruned", n)
		return nil
	}

	if _, err := s.outbox.Prune(ctx, targeting(id, models.ActionUpdate, models.ActionPublish, models.ActionDelete)); err != nil {
		return fmt.Errorf("failed to prune pending entries of %s: %w", id, err)
	}
	if err := s.enqueue(ctx, models.DeletePayload{ID: id}); err != nil {
		return err
	}
	s.forget(ctx, id)

	s.log.Debug(ctx, "delete queued", "id", id)
	return nil
}

// QueuePublish queues a visibility change, replacing any pending one. For a
// note the server has not seen yet the create is re-queued with the new
// visibility.
func (s *SyncService) QueuePublish(ctx context.Context, note *models.Note, public bool) (*models.Note, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	note = s.current(ctx, note)
	id := note.Key()

	updated := note.Clone()
	updated.IsPublic = public

	if note.IsTemp() && !s.inFlight(id) {
		if err := s.requeueCreate(ctx, updated); err != nil {
			return nil, err
		}
		s.cacheNote(ctx, updated)
		return updated, nil
	}

	if _, err := s.outbox.Prune(ctx, targeting(id, models.ActionPublish)); err != nil {
		return nil, fmt.Errorf("failed to prune pending publish of %s: %w", id, err)
	}
	if err := s.enqueue(ctx, models.PublishPayload{ID: id, Public: public}); err != nil {
		return nil, err
	}
	s.cacheNote(ctx, updated)

	s.log.Debug(ctx, "publish queued", "id", id, "public", public)
	return updated, nil
}

// requeueCreate replaces every pending entry of an unsynced note with a
// single create carrying its current state. The payload is checked before
// anything is pruned.
func (s *SyncService) requeueCreate(ctx context.Context, note *models.Note) error {
	tempID := note.TempID
	fields := models.Fields{Title: note.Title, Content: note.Content, Tags: note.Tags}
	if note.Slug != tempID {
		fields.Slug = note.Slug
	}
	p := models.CreatePayload{TempID: tempID, Fields: fields, MakePublic: note.IsPublic}
	if err := models.ValidatePayload(p); err != nil {
		return fmt.Errorf("failed to queue %s of %s: %w", p.Action(), tempID, err)
	}

	if _, err := s.outbox.Prune(ctx, targeting(tempID)); err != nil {
		return fmt.Errorf("failed to prune pending create of %s: %w", tempID, err)
	}
	if err := s.enqueue(ctx, p); err != nil {
		return err
	}
	s.log.Debug(ctx, "create re-queued", "temp_id", tempID, "public", note.IsPublic)
	return nil
}

// Pending returns the queued entries in replay order.
func (s *SyncService) Pending(ctx context.Context) ([]*models.OutboxEntry, error) {
	return s.outbox.List(ctx)
}

// HasPending reports whether any queued entry targets id.
func (s *SyncService) HasPending(ctx context.Context, id string) (bool, error) {
	entries, err := s.outbox.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Targets(id) {
			return true, nil
		}
	}
	return false, nil
}

func (s *SyncService) enqueue(ctx context.Context, p models.Payload) error {
	if _, err := s.outbox.Enqueue(ctx, p); err != nil {
		return fmt.Errorf("failed to queue %s of %s: %w", p.Action(), p.Target(), err)
	}
	s.metrics.Enqueued(string(p.Action()))
	s.updateSize(ctx)
	return nil
}

func (s *SyncService) updateSize(ctx context.Context) {
	if n, err := s.outbox.Count(ctx); err == nil {
		s.metrics.SetOutboxSize(n)
	}
}

// current swaps a temp note that a drain has already resolved for its
// server counterpart.
func (s *SyncService) current(ctx context.Context, note *models.Note) *models.Note {
	if !note.IsTemp() {
		return note
	}
	id := s.resolveID(ctx, note.TempID)
	if id == note.TempID {
		return note
	}
	if resolved, err := s.cache.GetByID(ctx, id); err == nil {
		return resolved
	}
	c := note.Clone()
	c.ID, c.TempID = id, ""
	if c.Version == 0 {
		c.Version = 1
	}
	return c
}

// targeting selects entries for id, restricted to actions when any are given.
func targeting(id string, actions ...models.Action) outbox.Predicate {
	return func(e *models.OutboxEntry) bool {
		if !e.Targets(id) {
			return false
		}
		return len(actions) == 0 || slices.Contains(actions, e.Action)
	}
}
