package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/metrics"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/testutil"
)

func TestOfflineCreate_ResolvedOnReconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var resolved []string
	e.sync.OnTempResolved(func(tempID string, n *models.Note) {
		resolved = append(resolved, tempID+"->"+n.ID)
	})

	e.backend.SetOffline(true)
	draft, err := e.notes.Save(ctx, nil, models.Fields{Title: "Draft", Content: "hello"})
	require.NoError(t, err)
	require.True(t, models.IsTempID(draft.TempID))
	assert.Empty(t, draft.ID)
	assert.False(t, e.notes.Online())
	require.Len(t, e.pending(t), 1)
	assert.Empty(t, e.backend.CallsFor("create"))

	cached, err := e.cache.GetByID(ctx, draft.TempID)
	require.NoError(t, err)
	assert.Equal(t, "Draft", cached.Title)

	e.backend.SetOffline(false)
	e.notes.SetOnline(true)
	res, err := e.notes.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Remaining)

	calls := e.backend.CallsFor("create")
	require.Len(t, calls, 1)
	assert.Equal(t, models.Fields{Title: "Draft", Content: "hello"}, calls[0].Fields)

	id := res.Resolved[draft.TempID]
	require.NotEmpty(t, id)
	assert.Equal(t, []string{draft.TempID + "->" + id}, resolved)
	assert.Empty(t, e.pending(t))

	note, err := e.cache.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), note.Version)
	assert.Equal(t, "draft", note.Slug)

	_, err = e.cache.GetByID(ctx, draft.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = e.cache.GetBySlug(ctx, draft.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	bySlug, err := e.cache.GetBySlug(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, id, bySlug.ID)

	mapped, err := e.meta.Get(ctx, metadata.TempMappingKey(draft.TempID))
	require.NoError(t, err)
	assert.Equal(t, id, string(mapped))

	token, err := e.meta.Get(ctx, metadata.VersionTokenKey(id))
	require.NoError(t, err)
	assert.Equal(t, client.VersionToken(1), string(token))

	list, err := e.cache.GetList(ctx)
	require.NoError(t, err)
	for _, s := range list.Notes {
		assert.NotEqual(t, draft.TempID, s.ID)
	}
}

func TestQueuedUpdates_Coalesce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "Plan", Content: "v1"})

	e.notes.SetOnline(false)
	first, err := e.notes.Save(ctx, n, models.Fields{Title: "Plan", Content: "first"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	_, err = e.notes.Save(ctx, first, models.Fields{Title: "Plan", Content: "second"})
	require.NoError(t, err)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	p, ok := entries[0].Payload.(models.UpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "second", p.Content)
	assert.Equal(t, int64(1), p.Version)

	cached, err := e.cache.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", cached.Content)
	assert.Equal(t, int64(1), cached.Version)

	e.notes.SetOnline(true)
	_, err = e.notes.Sync(ctx)
	require.NoError(t, err)

	calls := e.backend.CallsFor("update")
	require.Len(t, calls, 1)
	assert.Equal(t, "second", calls[0].Fields.Content)
	assert.Equal(t, int64(1), calls[0].Version)

	server, _ := e.backend.Note(n.ID)
	assert.Equal(t, int64(2), server.Version)
	cached, err = e.cache.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Version)
}

func TestDrain_VersionConflictRefreshesCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "Server", Content: "server copy", Version: 2})

	_, err := e.outbox.Enqueue(ctx, models.UpdatePayload{
		ID:      n.ID,
		Fields:  models.Fields{Title: "Stale", Content: "local edit"},
		Version: 1,
	})
	require.NoError(t, err)

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, FailureVersionConflict, res.Results[0].Failure)
	assert.Equal(t, metrics.OutcomeConflict, res.Results[0].Outcome)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, n.ID, c.NoteID)
	assert.Equal(t, int64(1), c.Expected)
	assert.Equal(t, "local edit", c.Local.Content)
	require.NotNil(t, c.Current)
	assert.Equal(t, int64(2), c.Current.Version)

	assert.Empty(t, e.pending(t))

	cached, err := e.cache.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "server copy", cached.Content)
	assert.Equal(t, int64(2), cached.Version)

	server, _ := e.backend.Note(n.ID)
	assert.Equal(t, "server copy", server.Content)
	assert.Equal(t, 1.0, e.metric(t, "notesync_conflicts_total"))
}

func TestDrain_DeleteOfMissingNoteSucceeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.outbox.Enqueue(ctx, models.DeletePayload{ID: "404"})
	require.NoError(t, err)

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Results, 1)
	assert.Equal(t, metrics.OutcomeSuccess, res.Results[0].Outcome)
	assert.Empty(t, e.pending(t))
}

func TestDrain_HaltsOnNetworkFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "A", Content: "a"})

	_, err := e.outbox.Enqueue(ctx, models.PublishPayload{ID: n.ID, Public: true})
	require.NoError(t, err)
	_, err = e.outbox.Enqueue(ctx, models.DeletePayload{ID: n.ID})
	require.NoError(t, err)

	e.backend.SetOffline(true)
	res, err := e.sync.Drain(ctx)
	require.ErrorIs(t, err, client.ErrUnavailable)
	assert.True(t, res.Halted)
	assert.Equal(t, FailureNetworkUnavailable, res.Failure)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.Remaining)
	assert.Len(t, e.pending(t), 2)

	e.backend.SetOffline(false)
	res, err = e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, e.backend.Len())
}

func TestDrain_ServerErrorKeepsOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sync.QueueCreate(ctx, models.Fields{Title: "One", Content: "1"}, false)
	require.NoError(t, err)
	_, err = e.sync.QueueCreate(ctx, models.Fields{Title: "Two", Content: "2"}, false)
	require.NoError(t, err)

	e.backend.FailNext("create", errors.New("boom"))
	res, err := e.sync.Drain(ctx)
	require.ErrorIs(t, err, client.ErrServer)
	assert.Equal(t, FailureServerError, res.Failure)
	assert.True(t, res.Failure.Retryable())
	assert.Len(t, e.pending(t), 2)

	_, err = e.sync.Drain(ctx)
	require.NoError(t, err)
	// injected failures are not recorded as calls
	calls := e.backend.CallsFor("create")
	require.Len(t, calls, 2)
	assert.Equal(t, "One", calls[0].Fields.Title)
	assert.Equal(t, "Two", calls[1].Fields.Title)
}

func TestDrain_DropsRejectedAndMalformedEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.st.Update(ctx, func(tx store.Tx) error {
		seq, err := tx.NextSequence(store.CollectionOutbox)
		if err != nil {
			return err
		}
		return tx.Put(store.CollectionOutbox, store.SequenceKey(seq), []byte("{not json"))
	}))
	rejected, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Rejected", Content: "x"}, false)
	require.NoError(t, err)
	_, err = e.sync.QueueCreate(ctx, models.Fields{Title: "Accepted", Content: "y"}, false)
	require.NoError(t, err)

	e.backend.FailNext("create", testutil.ErrInvalid)
	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	require.Len(t, res.Results, 3)
	assert.Equal(t, metrics.OutcomeMalformed, res.Results[0].Outcome)
	assert.Equal(t, metrics.OutcomeValidation, res.Results[1].Outcome)
	assert.Equal(t, FailureValidationError, res.Results[1].Failure)
	assert.Equal(t, metrics.OutcomeSuccess, res.Results[2].Outcome)
	assert.Empty(t, e.pending(t))
	assert.Equal(t, 1, e.backend.Len())

	// the refused note does not linger as a local-only copy
	require.Len(t, res.Warnings, 1)
	_, err = e.cache.GetByID(ctx, rejected.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	list, err := e.cache.GetList(ctx)
	require.NoError(t, err)
	for _, n := range list.Notes {
		assert.NotEqual(t, rejected.TempID, n.ID)
	}
}

func TestDrain_EditsOfTempNoteFoldIntoCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.notes.SetOnline(false)
	draft, err := e.notes.Save(ctx, nil, models.Fields{Title: "Draft", Content: "hello"})
	require.NoError(t, err)
	edited, err := e.notes.Save(ctx, draft, models.Fields{Title: "Draft", Content: "hello again"})
	require.NoError(t, err)
	_, err = e.notes.SetVisibility(ctx, edited, true)
	require.NoError(t, err)

	entries := e.pending(t)
	require.Len(t, entries, 1)
	p, ok := entries[0].Payload.(models.CreatePayload)
	require.True(t, ok)
	assert.Equal(t, draft.TempID, p.TempID)
	assert.Equal(t, "hello again", p.Content)
	assert.True(t, p.MakePublic)

	e.notes.SetOnline(true)
	res, err := e.notes.Sync(ctx)
	require.NoError(t, err)
	id := res.Resolved[draft.TempID]
	require.NotEmpty(t, id)

	assert.Len(t, e.backend.CallsFor("create"), 1)
	assert.Empty(t, e.backend.CallsFor("update"))

	server, ok := e.backend.Note(id)
	require.True(t, ok)
	assert.Equal(t, "hello again", server.Content)
	assert.True(t, server.IsPublic)
	assert.Equal(t, int64(1), server.Version)

	cached, err := e.cache.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, cached.IsPublic)
	assert.Equal(t, int64(1), cached.Version)
}

func TestDrain_EditDuringCreateInFlight(t *testing.T) {
	var bc *blockingClient
	e := newEnvWith(t, testutil.NewBackend(), store.NewMemoryStore(), func(c client.Client) client.Client {
		bc = newBlockingClient(c)
		return bc
	})
	ctx := context.Background()

	draft, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "hello"}, false)
	require.NoError(t, err)

	done := make(chan *DrainResult)
	go func() {
		res, _ := e.sync.Drain(ctx)
		done <- res
	}()
	<-bc.started

	// the create is on the wire, so the edit cannot be folded into it
	_, err = e.sync.QueueUpdate(ctx, draft, models.Fields{Title: "Draft", Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, []models.Action{models.ActionCreate, models.ActionUpdate}, actions(e.pending(t)))

	close(bc.release)
	first := <-done
	assert.Equal(t, 1, first.Processed)
	id := first.Resolved[draft.TempID]
	require.NotEmpty(t, id)

	_, err = e.cache.GetByID(ctx, draft.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	mapped, err := e.meta.Get(ctx, metadata.TempMappingKey(draft.TempID))
	require.NoError(t, err)
	assert.Equal(t, id, string(mapped))

	_, err = e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, e.backend.CallsFor("create"), 1)
	server, ok := e.backend.Note(id)
	require.True(t, ok)
	assert.Equal(t, "edited", server.Content)
	assert.Equal(t, int64(2), server.Version)
}

func TestDrain_DeleteDuringCreateInFlight(t *testing.T) {
	var bc *blockingClient
	e := newEnvWith(t, testutil.NewBackend(), store.NewMemoryStore(), func(c client.Client) client.Client {
		bc = newBlockingClient(c)
		return bc
	})
	ctx := context.Background()

	draft, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Draft", Content: "hello"}, false)
	require.NoError(t, err)

	var resolved []string
	e.sync.OnTempResolved(func(tempID string, _ *models.Note) { resolved = append(resolved, tempID) })

	done := make(chan *DrainResult)
	go func() {
		res, _ := e.sync.Drain(ctx)
		done <- res
	}()
	<-bc.started

	require.NoError(t, e.sync.QueueDelete(ctx, draft))
	assert.Equal(t, []models.Action{models.ActionCreate, models.ActionDelete}, actions(e.pending(t)))

	close(bc.release)
	first := <-done
	id := first.Resolved[draft.TempID]
	require.NotEmpty(t, id)
	assert.Empty(t, resolved)

	_, err = e.cache.GetByID(ctx, id)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = e.cache.GetByID(ctx, draft.TempID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.pending(t))
	_, ok := e.backend.Note(id)
	assert.False(t, ok)
	assert.Zero(t, e.backend.Len())
}

func TestDrain_CreateWithPublishFailureWarns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Public", Content: "p"}, true)
	require.NoError(t, err)

	e.backend.FailNext("publish", errors.New("boom"))
	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "could not be published")
	assert.Empty(t, e.pending(t))

	require.Len(t, e.backend.CallsFor("create"), 1)
	server, ok := e.backend.Note("1")
	require.True(t, ok)
	assert.False(t, server.IsPublic)
}

func TestDrain_UpdateOfDeletedNoteIsDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.seed(t, &models.Note{Title: "Gone", Content: "soon"})

	_, err := e.sync.QueueUpdate(ctx, n, models.Fields{Title: "Gone", Content: "edited"})
	require.NoError(t, err)
	require.NoError(t, e.backend.Delete(n.ID, "other-device"))

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, FailureNotFound, res.Results[0].Failure)

	_, err = e.cache.GetByID(ctx, n.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDrain_SingleFlight(t *testing.T) {
	var bc *blockingClient
	st := store.NewMemoryStore()
	e := newEnvWith(t, testutil.NewBackend(), st, func(c client.Client) client.Client {
		bc = newBlockingClient(c)
		return bc
	})
	ctx := context.Background()

	_, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Once", Content: "1"}, false)
	require.NoError(t, err)

	done := make(chan *DrainResult)
	go func() {
		res, _ := e.sync.Drain(ctx)
		done <- res
	}()
	<-bc.started
	assert.Equal(t, StateDraining, e.sync.State())

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(bc.release)
	first := <-done
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, StateIdle, e.sync.State())
	assert.Len(t, e.backend.CallsFor("create"), 1)
	assert.Equal(t, 1.0, e.metric(t, "notesync_drains_total{result=skipped}"))
}

func TestDrain_RequestStop(t *testing.T) {
	var bc *blockingClient
	e := newEnvWith(t, testutil.NewBackend(), store.NewMemoryStore(), func(c client.Client) client.Client {
		bc = newBlockingClient(c)
		return bc
	})
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		_, err := e.sync.QueueCreate(ctx, models.Fields{Title: title, Content: title}, false)
		require.NoError(t, err)
	}

	type outcome struct {
		res *DrainResult
		err error
	}
	done := make(chan outcome)
	go func() {
		res, err := e.sync.Drain(ctx)
		done <- outcome{res, err}
	}()
	<-bc.started
	e.sync.RequestStop()
	close(bc.release)

	out := <-done
	require.ErrorIs(t, out.err, ErrDrainStopped)
	assert.True(t, out.res.Halted)
	assert.Equal(t, 1, out.res.Processed)
	assert.Equal(t, 1, out.res.Remaining)

	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestDrain_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	b := testutil.NewBackend()
	ctx := context.Background()

	st := sqliteStore(t, dir)
	e := newEnvWith(t, b, st, nil)
	for _, title := range []string{"First", "Second", "Third"} {
		_, err := e.sync.QueueCreate(ctx, models.Fields{Title: title, Content: title}, false)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	st = sqliteStore(t, dir)
	t.Cleanup(func() { _ = st.Close() })
	e = newEnvWith(t, b, st, nil)
	require.Len(t, e.pending(t), 3)

	_, err := e.sync.Drain(ctx)
	require.NoError(t, err)

	calls := b.CallsFor("create")
	require.Len(t, calls, 3)
	assert.Equal(t, "First", calls[0].Fields.Title)
	assert.Equal(t, "Second", calls[1].Fields.Title)
	assert.Equal(t, "Third", calls[2].Fields.Title)
}

func TestDrain_RateLimited(t *testing.T) {
	e := newEnv(t)
	e.sync = NewSyncService(e.remote, e.cache, e.outbox, e.meta, SyncOptions{RatePerSecond: 20})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.outbox.Enqueue(ctx, models.DeletePayload{ID: "404"})
		require.NoError(t, err)
	}

	start := time.Now()
	res, err := e.sync.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
