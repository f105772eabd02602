package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

func actions(entries []*models.OutboxEntry) []models.Action {
	out := make([]models.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestQueueCreate_StoresTempNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "hello", Tags: []string{"x"}}, true)
	require.NoError(t, err)
	assert.True(t, n.IsTemp())
	assert.Equal(t, n.TempID, n.Slug)
	assert.True(t, n.IsPublic)
	assert.Zero(t, n.Version)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	p, ok := entries[0].Payload.(models.CreatePayload)
	require.True(t, ok)
	assert.Equal(t, n.TempID, p.TempID)
	assert.True(t, p.MakePublic)
	assert.Empty(t, p.Slug)

	list, err := e.cache.GetList(ctx)
	require.NoError(t, err)
	require.Len(t, list.Notes, 1)
	assert.Equal(t, n.TempID, list.Notes[0].ID)

	assert.Equal(t, 1.0, e.metric(t, "notesync_outbox_entries"))
	assert.Equal(t, 1.0, e.metric(t, "notesync_outbox_enqueued_total{action=create}"))
}

func TestQueueDelete_UnsyncedNoteCancelsCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Oops", Content: "x"}, false)
	require.NoError(t, err)
	n, err = e.sync.QueueUpdate(ctx, n, models.Fields{Title: "Oops", Content: "y"})
	require.NoError(t, err)
	_, err = e.sync.QueuePublish(ctx, n, true)
	require.NoError(t, err)
	require.Len(t, e.pending(t), 1)

	require.NoError(t, e.sync.QueueDelete(ctx, n))
	assert.Empty(t, e.pending(t))

	_, err = e.cache.GetByID(ctx, n.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, e.backend.Calls())
}

func TestQueueUpdate_TempNoteRequeuesCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "one", Slug: "my-draft"}, false)
	require.NoError(t, err)
	n, err = e.sync.QueueUpdate(ctx, n, models.Fields{Title: "Draft", Content: "two", Tags: []string{"z", "a"}})
	require.NoError(t, err)
	assert.True(t, n.IsTemp())
	assert.Zero(t, n.Version)

	n, err = e.sync.QueuePublish(ctx, n, true)
	require.NoError(t, err)
	assert.True(t, n.IsPublic)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CreatePayload{
		TempID:     n.TempID,
		Fields:     models.Fields{Title: "Draft", Content: "two", Tags: []string{"z", "a"}, Slug: "my-draft"},
		MakePublic: true,
	}, entries[0].Payload)

	cached, err := e.cache.GetByID(ctx, n.TempID)
	require.NoError(t, err)
	assert.Equal(t, "two", cached.Content)
	assert.True(t, cached.IsPublic)
}

func TestQueueUpdate_TempNoteKeepsCreateOnInvalidEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "one"}, false)
	require.NoError(t, err)
	_, err = e.sync.QueueUpdate(ctx, n, models.Fields{Title: "Draft"})
	require.ErrorIs(t, err, models.ErrMalformedEntry)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Payload.(models.CreatePayload).Content)
}

func TestQueueDelete_SupersedesPendingEdits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "Old", Content: "old"})
	other := e.seed(t, &models.Note{Title: "Other", Content: "other"})

	n, err := e.sync.QueueUpdate(ctx, n, models.Fields{Title: "Old", Content: "new"})
	require.NoError(t, err)
	_, err = e.sync.QueuePublish(ctx, n, true)
	require.NoError(t, err)
	_, err = e.sync.QueueUpdate(ctx, other, models.Fields{Title: "Other", Content: "edit"})
	require.NoError(t, err)

	require.NoError(t, e.sync.QueueDelete(ctx, n))

	entries := e.pending(t)
	assert.Equal(t, []models.Action{models.ActionUpdate, models.ActionDelete}, actions(entries))
	assert.Equal(t, other.ID, entries[0].Payload.Target())
	assert.Equal(t, n.ID, entries[1].Payload.Target())

	_, err = e.cache.GetByID(ctx, n.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.backend.CallsFor("publish"))
	_, ok := e.backend.Note(n.ID)
	assert.False(t, ok)
}

func TestQueuePublish_Coalesces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "Vis", Content: "v"})

	n1, err := e.sync.QueuePublish(ctx, n, true)
	require.NoError(t, err)
	assert.True(t, n1.IsPublic)
	n2, err := e.sync.QueuePublish(ctx, n1, false)
	require.NoError(t, err)
	assert.False(t, n2.IsPublic)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.PublishPayload{ID: n.ID, Public: false}, entries[0].Payload)
}

func TestQueueUpdate_ResolvedTempNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	draft, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "hello"}, false)
	require.NoError(t, err)
	_, err = e.sync.Drain(ctx)
	require.NoError(t, err)

	// a caller still holding the temp snapshot edits it
	_, err = e.sync.QueueUpdate(ctx, draft, models.Fields{Title: "Draft", Content: "later"})
	require.NoError(t, err)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	p := entries[0].Payload.(models.UpdatePayload)
	assert.False(t, models.IsTempID(p.ID))
	assert.Equal(t, int64(1), p.Version)

	pending, err := e.sync.HasPending(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, pending)
	pending, err = e.sync.HasPending(ctx, draft.TempID)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestQueueUpdate_RejectsInvalidPayload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "T", Content: "c"})

	_, err := e.sync.QueueUpdate(ctx, n, models.Fields{Content: "no title"})
	require.ErrorIs(t, err, models.ErrMalformedEntry)
	assert.Empty(t, e.pending(t))
}
