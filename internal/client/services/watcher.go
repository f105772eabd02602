package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Watcher polls the server and drains the outbox whenever connectivity
// comes back.
type Watcher struct {
	remote   client.Client
	notes    *NoteService
	log      logging.Logger
	interval time.Duration
	timeout  time.Duration

	checked atomic.Bool
}

func NewWatcher(remote client.Client, notes *NoteService, interval, timeout time.Duration, log logging.Logger) *Watcher {
	if log == nil {
		log = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Watcher{
		remote:   remote,
		notes:    notes,
		log:      log.With("module", "watcher"),
		interval: interval,
		timeout:  timeout,
	}
}

// Run checks connectivity immediately and then on every tick until ctx is
// done.
func (w *Watcher) Run(ctx context.Context) {
	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check pings the server and updates the online flag. The first successful
// check and every offline to online transition start a sync.
func (w *Watcher) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.remote.Ping(pctx)
	cancel()

	online := err == nil
	changed := w.notes.SetOnline(online)
	first := !w.checked.Swap(true)

	if changed {
		if online {
			w.log.Info(ctx, "server reachable, switched to online mode")
		} else {
			w.log.Warn(ctx, "server unreachable, switched to offline mode", "error", err)
		}
	}

	if online && (changed || first) {
		if _, err := w.notes.Sync(ctx); err != nil {
			w.log.Warn(ctx, "sync after reconnect did not complete", "error", err)
		}
	}
	return online
}
