package services

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/metrics"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/notify"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/testutil"
)

type env struct {
	backend *testutil.Backend
	remote  client.Client
	st      store.Store
	cache   *notes.StoreRepository
	outbox  *outbox.StoreRepository
	meta    *metadata.StoreRepository
	metrics *metrics.Recorder
	sync    *SyncService
	notes   *NoteService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return newEnvWith(t, testutil.NewBackend(), st, nil)
}

// newEnvWith wires the services over st. wrap, when set, decorates the
// remote client.
func newEnvWith(t *testing.T, b *testutil.Backend, st store.Store, wrap func(client.Client) client.Client) *env {
	t.Helper()

	srv := httptest.NewServer(testutil.NewHTTPHandler(b))
	t.Cleanup(srv.Close)

	var remote client.Client = client.NewHTTPClient(srv.URL, client.Options{
		ClientID:         "device-1",
		Timeout:          5 * time.Second,
		FailureThreshold: 1000,
	})
	t.Cleanup(func() { _ = remote.Close() })
	if wrap != nil {
		remote = wrap(remote)
	}

	e := &env{
		backend: b,
		remote:  remote,
		st:      st,
		cache:   notes.NewRepository(st),
		outbox:  outbox.NewRepository(st, notify.New(logging.Nop())),
		meta:    metadata.NewRepository(st),
		metrics: metrics.New(),
	}
	e.sync = NewSyncService(remote, e.cache, e.outbox, e.meta, SyncOptions{Metrics: e.metrics})
	e.notes = NewNoteService(remote, e.cache, e.meta, e.sync, logging.Nop())
	return e
}

// seed stores n on the server and in the cache.
func (e *env) seed(t *testing.T, n *models.Note) *models.Note {
	t.Helper()
	n = e.backend.Seed(n)
	require.NoError(t, e.cache.Put(context.Background(), n))
	return n
}

func (e *env) pending(t *testing.T) []*models.OutboxEntry {
	t.Helper()
	entries, err := e.outbox.List(context.Background())
	require.NoError(t, err)
	return entries
}

func (e *env) metric(t *testing.T, name string) float64 {
	t.Helper()
	samples, err := e.metrics.Snapshot()
	require.NoError(t, err)
	for _, s := range samples {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}

// blockingClient holds the first Create until release is closed.
type blockingClient struct {
	client.Client
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingClient(c client.Client) *blockingClient {
	return &blockingClient{Client: c, started: make(chan struct{}), release: make(chan struct{})}
}

func (c *blockingClient) Create(ctx context.Context, f models.Fields) (*models.Note, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return c.Client.Create(ctx, f)
}

func sqliteStore(t *testing.T, dir string) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(dir, "notes.db"))
	require.NoError(t, err)
	return st
}
