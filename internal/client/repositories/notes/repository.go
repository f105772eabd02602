package notes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
)

type StoreRepository struct {
	st  store.Store
	now func() time.Time
}

func NewRepository(st store.Store) *StoreRepository {
	return &StoreRepository{st: st, now: time.Now}
}

func (r *StoreRepository) Put(ctx context.Context, note *models.Note) error {
	if note == nil || note.Key() == "" {
		return nil
	}
	return r.st.Update(ctx, func(tx store.Tx) error {
		return putNote(tx, note)
	})
}

func (r *StoreRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	var note *models.Note
	err := r.st.View(ctx, func(tx store.Tx) error {
		var err error
		note, err = getNote(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (r *StoreRepository) GetBySlug(ctx context.Context, slug string) (*models.Note, error) {
	var note *models.Note
	err := r.st.View(ctx, func(tx store.Tx) error {
		key, err := tx.Get(store.CollectionSlugs, slug)
		if errors.Is(err, store.ErrNotFound) {
			return common.ErrorNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get slug index[%s]: %w", slug, err)
		}
		note, err = getNote(tx, string(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (r *StoreRepository) Remove(ctx context.Context, id string) error {
	return r.st.Update(ctx, func(tx store.Tx) error {
		return removeNote(tx, id)
	})
}

func (r *StoreRepository) All(ctx context.Context) ([]*models.Note, error) {
	var result []*models.Note
	err := r.st.View(ctx, func(tx store.Tx) error {
		return tx.Iterate(store.CollectionNotes, func(key string, value []byte) error {
			var n models.Note
			if err := json.Unmarshal(value, &n); err != nil {
				return fmt.Errorf("failed to decode note[%s]: %w", key, err)
			}
			result = append(result, &n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *StoreRepository) PutList(ctx context.Context, list *models.NoteList) error {
	if list.SavedAt.IsZero() {
		list.SavedAt = r.now().UTC()
	}
	return r.st.Update(ctx, func(tx store.Tx) error {
		return putList(tx, list)
	})
}

func (r *StoreRepository) GetList(ctx context.Context) (*models.NoteList, error) {
	var list *models.NoteList
	err := r.st.View(ctx, func(tx store.Tx) error {
		var err error
		list, err = getList(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *StoreRepository) UpsertSummary(ctx context.Context, s models.NoteSummary) error {
	if s.ID == "" {
		return nil
	}
	return r.st.Update(ctx, func(tx store.Tx) error {
		list, err := listOrEmpty(tx)
		if err != nil {
			return err
		}
		list.Notes = upsertSummary(list.Notes, s)
		return putList(tx, list)
	})
}

func (r *StoreRepository) RemoveSummary(ctx context.Context, id string) error {
	return r.st.Update(ctx, func(tx store.Tx) error {
		list, err := getList(tx)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		list.Notes = removeSummary(list.Notes, id)
		return putList(tx, list)
	})
}

func (r *StoreRepository) ReplaceTemp(ctx context.Context, tempID string, note *models.Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("%w: replacement for %s has no server id", common.ErrorInvalidInput, tempID)
	}
	return r.st.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put(store.CollectionMetadata, metadata.TempMappingKey(tempID), []byte(note.ID)); err != nil {
			return fmt.Errorf("failed to map %s to %s: %w", tempID, note.ID, err)
		}
		if err := removeNote(tx, tempID); err != nil {
			return err
		}
		if err := putNote(tx, note); err != nil {
			return err
		}

		list, err := getList(tx)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		list.Notes = removeSummary(list.Notes, tempID)
		list.Notes = upsertSummary(list.Notes, note.Summary())
		return putList(tx, list)
	})
}

func getNote(tx store.Tx, key string) (*models.Note, error) {
	data, err := tx.Get(store.CollectionNotes, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note[%s]: %w", key, err)
	}
	var n models.Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode note[%s]: %w", key, err)
	}
	return &n, nil
}

func putNote(tx store.Tx, note *models.Note) error {
	key := note.Key()

	prev, err := getNote(tx, key)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return err
	case prev.Slug != "" && prev.Slug != note.Slug:
		if err := dropSlug(tx, prev.Slug, key); err != nil {
			return err
		}
	}

	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode note[%s]: %w", key, err)
	}
	if err := tx.Put(store.CollectionNotes, key, data); err != nil {
		return fmt.Errorf("failed to put note[%s]: %w", key, err)
	}
	if note.Slug != "" {
		if err := tx.Put(store.CollectionSlugs, note.Slug, []byte(key)); err != nil {
			return fmt.Errorf("failed to index slug[%s]: %w", note.Slug, err)
		}
	}
	return nil
}

func removeNote(tx store.Tx, key string) error {
	prev, err := getNote(tx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.Slug != "" {
		if err := dropSlug(tx, prev.Slug, key); err != nil {
			return err
		}
	}
	if err := tx.Delete(store.CollectionNotes, key); err != nil {
		return fmt.Errorf("failed to delete note[%s]: %w", key, err)
	}
	return nil
}

// dropSlug removes the index entry only while it still points at key; another
// note may have claimed the slug since.
func dropSlug(tx store.Tx, slug, key string) error {
	owner, err := tx.Get(store.CollectionSlugs, slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get slug index[%s]: %w", slug, err)
	}
	if string(owner) != key {
		return nil
	}
	if err := tx.Delete(store.CollectionSlugs, slug); err != nil {
		return fmt.Errorf("failed to delete slug index[%s]: %w", slug, err)
	}
	return nil
}

func getList(tx store.Tx) (*models.NoteList, error) {
	data, err := tx.Get(store.CollectionLists, common.NoteListKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note list: %w", err)
	}
	var list models.NoteList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode note list: %w", err)
	}
	return &list, nil
}

func listOrEmpty(tx store.Tx) (*models.NoteList, error) {
	list, err := getList(tx)
	if errors.Is(err, common.ErrorNotFound) {
		return &models.NoteList{}, nil
	}
	return list, err
}

func putList(tx store.Tx, list *models.NoteList) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode note list: %w", err)
	}
	if err := tx.Put(store.CollectionLists, common.NoteListKey, data); err != nil {
		return fmt.Errorf("failed to put note list: %w", err)
	}
	return nil
}

// upsertSummary replaces the summary with the same id or prepends s, the way
// a freshly edited note moves to the top of the listing.
func upsertSummary(list []models.NoteSummary, s models.NoteSummary) []models.NoteSummary {
	list = removeSummary(list, s.ID)
	return append([]models.NoteSummary{s}, list...)
}

func removeSummary(list []models.NoteSummary, id string) []models.NoteSummary {
	return slices.DeleteFunc(slices.Clone(list), func(s models.NoteSummary) bool {
		return s.ID == id
	})
}
