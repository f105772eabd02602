package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

func TestWatcher_SyncsOnReconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	w := NewWatcher(e.remote, e.notes, time.Hour, time.Second, nil)

	e.backend.SetOffline(true)
	assert.False(t, w.Check(ctx))
	assert.False(t, e.notes.Online())
	assert.Equal(t, 0.0, e.metric(t, "notesync_online"))

	_, err := e.notes.Save(ctx, nil, models.Fields{Title: "Offline", Content: "o"})
	require.NoError(t, err)
	require.Len(t, e.pending(t), 1)

	e.backend.SetOffline(false)
	assert.True(t, w.Check(ctx))
	assert.True(t, e.notes.Online())
	assert.Equal(t, 1.0, e.metric(t, "notesync_online"))
	assert.Empty(t, e.pending(t))
	assert.Len(t, e.backend.CallsFor("create"), 1)

	// still online: no further drain is started
	assert.True(t, w.Check(ctx))
	assert.Equal(t, 1.0, e.metric(t, "notesync_drains_total{result=completed}"))
}

func TestWatcher_FirstCheckSyncs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sync.QueueCreate(ctx, models.Fields{Title: "Left over", Content: "x"}, false)
	require.NoError(t, err)

	w := NewWatcher(e.remote, e.notes, time.Hour, time.Second, nil)
	assert.True(t, w.Check(ctx))
	assert.Empty(t, e.pending(t))
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	e := newEnv(t)
	w := NewWatcher(e.remote, e.notes, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	e.backend.SetOffline(true)
	assert.Eventually(t, func() bool { return !e.notes.Online() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
