package notes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
)

func setupRepo(t *testing.T) (*StoreRepository, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return NewRepository(st), st
}

func sampleNote() *models.Note {
	return &models.Note{
		ID:        "42",
		Slug:      "groceries",
		Title:     "Groceries",
		Content:   "milk\neggs",
		Tags:      []string{"home", "todo"},
		IsPublic:  true,
		Version:   3,
		UpdatedAt: "2024-05-01T10:00:00Z",
		CreatedAt: "2024-04-01T10:00:00Z",
	}
}

func TestPut_RoundTripByIDAndSlug(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	note := sampleNote()

	require.NoError(t, r.Put(ctx, note))

	byID, err := r.GetByID(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note, byID)

	bySlug, err := r.GetBySlug(ctx, note.Slug)
	require.NoError(t, err)
	assert.Equal(t, note, bySlug)
}

func TestPut_RoundTripOnDurableStore(t *testing.T) {
	st, err := store.OpenSQLite(context.Background(), t.TempDir()+"/notes.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := NewRepository(st)
	ctx := context.Background()
	note := sampleNote()

	require.NoError(t, r.Put(ctx, note))

	bySlug, err := r.GetBySlug(ctx, note.Slug)
	require.NoError(t, err)
	assert.Equal(t, note, bySlug)
}

func TestPut_WithoutIdentifierIsNoop(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, &models.Note{Slug: "orphan", Title: "x"}))
	require.NoError(t, r.Put(ctx, nil))

	_, err := r.GetBySlug(ctx, "orphan")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPut_TempNoteKeyedByTempID(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	temp := &models.Note{TempID: "temp-1", Slug: "temp-1", Title: "Draft"}

	require.NoError(t, r.Put(ctx, temp))

	got, err := r.GetByID(ctx, "temp-1")
	require.NoError(t, err)
	assert.Equal(t, temp, got)
}

func TestPut_SlugChangeDropsStaleIndex(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	note := sampleNote()
	require.NoError(t, r.Put(ctx, note))

	renamed := note.Clone()
	renamed.Slug = "shopping"
	require.NoError(t, r.Put(ctx, renamed))

	_, err := r.GetBySlug(ctx, "groceries")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got, err := r.GetBySlug(ctx, "shopping")
	require.NoError(t, err)
	assert.Equal(t, renamed, got)
}

func TestPut_SlugClaimedByOtherNoteIsKept(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	a := &models.Note{ID: "a", Slug: "shared", Title: "A"}
	b := &models.Note{ID: "b", Slug: "shared", Title: "B"}
	require.NoError(t, r.Put(ctx, a))
	require.NoError(t, r.Put(ctx, b))

	// a moves away; the index must keep pointing at b.
	a2 := a.Clone()
	a2.Slug = "a-new"
	require.NoError(t, r.Put(ctx, a2))

	got, err := r.GetBySlug(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)
}

func TestGet_Missing(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	_, err := r.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.GetBySlug(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRemove_DeletesBothIndexes_AndIsIdempotent(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	note := sampleNote()
	require.NoError(t, r.Put(ctx, note))

	require.NoError(t, r.Remove(ctx, note.ID))
	require.NoError(t, r.Remove(ctx, note.ID))

	_, err := r.GetByID(ctx, note.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.GetBySlug(ctx, note.Slug)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAll_ReturnsEverySnapshot(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	for _, id := range []string{"2", "1", "temp-x"} {
		require.NoError(t, r.Put(ctx, &models.Note{ID: id, Slug: "s" + id, Title: id}))
	}

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "2", all[1].ID)
}

func TestPutList_GetList(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	_, err := r.GetList(ctx)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	list := &models.NoteList{
		Notes: []models.NoteSummary{{ID: "1", Slug: "one", Title: "One"}},
		Tags:  []string{"a"},
	}
	require.NoError(t, r.PutList(ctx, list))

	got, err := r.GetList(ctx)
	require.NoError(t, err)
	assert.Equal(t, list.Notes, got.Notes)
	assert.Equal(t, list.Tags, got.Tags)
	assert.True(t, fixed.Equal(got.SavedAt))

	// Wholesale replace.
	require.NoError(t, r.PutList(ctx, &models.NoteList{}))
	got, err = r.GetList(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
}

func TestUpsertSummary_PrependsAndReplaces(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UpsertSummary(ctx, models.NoteSummary{ID: "1", Title: "one"}))
	require.NoError(t, r.UpsertSummary(ctx, models.NoteSummary{ID: "2", Title: "two"}))
	require.NoError(t, r.UpsertSummary(ctx, models.NoteSummary{ID: "1", Title: "one v2"}))

	got, err := r.GetList(ctx)
	require.NoError(t, err)
	require.Len(t, got.Notes, 2)
	assert.Equal(t, "one v2", got.Notes[0].Title)
	assert.Equal(t, "2", got.Notes[1].ID)

	require.NoError(t, r.RemoveSummary(ctx, "1"))
	got, err = r.GetList(ctx)
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "2", got.Notes[0].ID)
}

func TestRemoveSummary_WithoutListIsNoop(t *testing.T) {
	r, _ := setupRepo(t)
	require.NoError(t, r.RemoveSummary(context.Background(), "1"))
}

func TestReplaceTemp_MigratesAllReferences(t *testing.T) {
	r, st := setupRepo(t)
	ctx := context.Background()

	temp := &models.Note{TempID: "temp-7", Slug: "temp-7", Title: "Draft", Content: "hello"}
	require.NoError(t, r.Put(ctx, temp))
	require.NoError(t, r.UpsertSummary(ctx, temp.Summary()))

	server := &models.Note{ID: "101", Slug: "draft", Title: "Draft", Content: "hello", Version: 1}
	require.NoError(t, r.ReplaceTemp(ctx, "temp-7", server))

	_, err := r.GetByID(ctx, "temp-7")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.GetBySlug(ctx, "temp-7")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got, err := r.GetByID(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, server, got)

	got, err = r.GetBySlug(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, server, got)

	list, err := r.GetList(ctx)
	require.NoError(t, err)
	require.Len(t, list.Notes, 1)
	assert.Equal(t, "101", list.Notes[0].ID)

	mapped, err := metadata.NewRepository(st).Get(ctx, metadata.TempMappingKey("temp-7"))
	require.NoError(t, err)
	assert.Equal(t, "101", string(mapped))
}

func TestReplaceTemp_RejectsNoteWithoutServerID(t *testing.T) {
	r, _ := setupRepo(t)
	err := r.ReplaceTemp(context.Background(), "temp-1", &models.Note{TempID: "temp-1"})
	assert.ErrorIs(t, err, common.ErrorInvalidInput)
}
