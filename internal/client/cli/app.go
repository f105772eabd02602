package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/metrics"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/notify"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/shared"
)

// App is the interactive notes client: local store, sync services and the
// connectivity watcher behind a line-oriented REPL.
type App struct {
	config  *config.Config
	log     logging.Logger
	store   store.Store
	remote  client.Client
	metrics *metrics.Recorder
	notes   *services.NoteService
	sync    *services.SyncService
	watcher *services.Watcher

	reader *bufio.Reader
	out    io.Writer

	mu      sync.Mutex
	current *models.Note
	pending int

	syncing sync.WaitGroup
}

// NewApp opens local storage and connects the configured transport.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	st := store.Open(ctx, store.Options{Kind: store.Kind(c.Storage), Dir: c.DataDir}, log)

	opts := client.Options{
		ClientID: installID(ctx, metadata.NewRepository(st), log),
		Timeout:  c.RequestTimeout,
		Log:      log,
	}
	var (
		remote client.Client
		err    error
	)
	switch c.Transport {
	case config.TransportGRPC:
		remote, err = client.NewGRPCClient(c.ServerAddr, opts)
	default:
		remote = client.NewHTTPClient(c.ServerAddr, opts)
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", c.Transport, err)
	}

	return newApp(c, log, st, remote, bufio.NewReader(os.Stdin), os.Stdout), nil
}

func newApp(c *config.Config, log logging.Logger, st store.Store, remote client.Client, in *bufio.Reader, out io.Writer) *App {
	m := metrics.New()
	cache := notes.NewRepository(st)
	ob := outbox.NewRepository(st, notify.New(log))
	meta := metadata.NewRepository(st)

	syncer := services.NewSyncService(remote, cache, ob, meta, services.SyncOptions{
		Log:           log,
		Metrics:       m,
		RatePerSecond: c.DrainRatePerSecond,
	})
	ns := services.NewNoteService(remote, cache, meta, syncer, log)

	a := &App{
		config:  c,
		log:     log,
		store:   st,
		remote:  remote,
		metrics: m,
		notes:   ns,
		sync:    syncer,
		watcher: services.NewWatcher(remote, ns, c.OnlineCheckInterval, c.RequestTimeout, log),
		reader:  in,
		out:     out,
	}

	syncer.OnTempResolved(a.retarget)
	ns.SubscribePending(a.setPending)
	return a
}

// Run starts the connectivity watcher and blocks in the REPL until the user
// exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Close()

	if n, err := a.notes.Pending(ctx); err == nil {
		a.setPending(n)
	}

	go a.watcher.Run(ctx)

	a.printf("notesync (%s storage, type 'help' for commands)\n", a.store.Kind())
	runREPL(ctx, a, a.status, a.reader, isTerminal())
}

// Close waits for a background sync and releases the store and transport.
func (a *App) Close() {
	a.syncing.Wait()
	if err := a.remote.Close(); err != nil {
		a.log.Warn(context.Background(), "failed to close client", "error", err)
	}
	if err := a.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		a.log.Warn(context.Background(), "failed to close store", "error", err)
	}
}

func (a *App) status() string {
	mode := "offline"
	if a.notes.Online() {
		mode = "online"
	}
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()

	s := mode
	if pending > 0 {
		s += fmt.Sprintf(" %d pending", pending)
	}
	if a.sync.State() == services.StateDraining {
		s += " syncing"
	}
	return s
}

func (a *App) setPending(n int) {
	a.mu.Lock()
	a.pending = n
	a.mu.Unlock()
}

// retarget moves the open note from its temp id to the server note.
func (a *App) retarget(tempID string, note *models.Note) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.TempID == tempID {
		a.current = note
	}
}

func (a *App) setCurrent(n *models.Note) {
	a.mu.Lock()
	a.current = n
	a.mu.Unlock()
}

// Current returns the note last shown or edited.
func (a *App) Current() *models.Note {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Clone()
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

const installIDKey = "client:install_id"

// installID returns the identifier this installation sends with every
// request, generating and storing it on first use.
func installID(ctx context.Context, meta metadata.Repository, log logging.Logger) string {
	if v, err := meta.Get(ctx, installIDKey); err == nil && len(v) > 0 {
		return string(v)
	}

	suffix, err := shared.MakeRandHexString(8)
	if err != nil {
		host, _ := os.Hostname()
		return "notesync-" + host
	}
	id := "notesync-" + suffix
	if err := meta.Set(ctx, installIDKey, []byte(id)); err != nil {
		log.Warn(ctx, "failed to store install id", "error", err)
	}
	return id
}
