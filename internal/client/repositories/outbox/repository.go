package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/notify"
	"github.com/dmitrijs2005/notesync/internal/client/store"
)

type StoreRepository struct {
	st       store.Store
	notifier *notify.Notifier
	now      func() time.Time
}

func NewRepository(st store.Store, notifier *notify.Notifier) *StoreRepository {
	return &StoreRepository{st: st, notifier: notifier, now: time.Now}
}

// Enqueue validates and durably appends an intent, returning its sequence.
func (r *StoreRepository) Enqueue(ctx context.Context, payload models.Payload) (uint64, error) {
	if err := models.ValidatePayload(payload); err != nil {
		return 0, err
	}

	var seq uint64
	err := r.st.Update(ctx, func(tx store.Tx) error {
		var err error
		seq, err = tx.NextSequence(store.CollectionOutbox)
		if err != nil {
			return fmt.Errorf("failed to allocate outbox sequence: %w", err)
		}
		data, err := models.EncodeOutboxEntry(&models.OutboxEntry{
			Seq:       seq,
			Action:    payload.Action(),
			Payload:   payload,
			CreatedAt: r.now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.Put(store.CollectionOutbox, store.SequenceKey(seq), data); err != nil {
			return fmt.Errorf("failed to put outbox entry %d: %w", seq, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.notifier.Notify(ctx)
	return seq, nil
}

// List returns the pending entries in enqueue order.
func (r *StoreRepository) List(ctx context.Context) ([]*models.OutboxEntry, error) {
	var entries []*models.OutboxEntry
	err := r.st.View(ctx, func(tx store.Tx) error {
		var err error
		entries, err = readAll(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes every entry match selects and reports how many were removed.
// Malformed entries are passed to match as well.
func (r *StoreRepository) Prune(ctx context.Context, match Predicate) (int, error) {
	removed := 0
	err := r.st.Update(ctx, func(tx store.Tx) error {
		removed = 0
		entries, err := readAll(tx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !match(e) {
				continue
			}
			if err := tx.Delete(store.CollectionOutbox, store.SequenceKey(e.Seq)); err != nil {
				return fmt.Errorf("failed to delete outbox entry %d: %w", e.Seq, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		r.notifier.Notify(ctx)
	}
	return removed, nil
}

func (r *StoreRepository) RemoveBySequence(ctx context.Context, seq uint64) error {
	err := r.st.Update(ctx, func(tx store.Tx) error {
		if err := tx.Delete(store.CollectionOutbox, store.SequenceKey(seq)); err != nil {
			return fmt.Errorf("failed to delete outbox entry %d: %w", seq, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.notifier.Notify(ctx)
	return nil
}

// Drain walks a snapshot of the queue in order. Each entry still present is
// handed to process; on success it is removed before the next one is
// visited, on failure the drain stops and returns the error together with
// the number of entries removed so far. Entries enqueued during the drain
// are left for the next one.
func (r *StoreRepository) Drain(ctx context.Context, process Processor) (int, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		present, err := r.Contains(ctx, e.Seq)
		if err != nil {
			return done, err
		}
		if !present {
			continue
		}

		if err := process(ctx, e); err != nil {
			return done, err
		}
		if err := r.RemoveBySequence(ctx, e.Seq); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Contains reports whether the entry with seq is still queued.
func (r *StoreRepository) Contains(ctx context.Context, seq uint64) (bool, error) {
	present := false
	err := r.st.View(ctx, func(tx store.Tx) error {
		_, err := tx.Get(store.CollectionOutbox, store.SequenceKey(seq))
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("failed to get outbox entry %d: %w", seq, err)
		}
		present = true
		return nil
	})
	return present, err
}

func (r *StoreRepository) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.st.View(ctx, func(tx store.Tx) error {
		return tx.Iterate(store.CollectionOutbox, func(string, []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *StoreRepository) Clear(ctx context.Context) error {
	err := r.st.Update(ctx, func(tx store.Tx) error {
		if err := tx.Clear(store.CollectionOutbox); err != nil {
			return fmt.Errorf("failed to clear outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.notifier.Notify(ctx)
	return nil
}

func (r *StoreRepository) Subscribe(fn notify.Listener) func() {
	return r.notifier.Subscribe(fn)
}

func readAll(tx store.Tx) ([]*models.OutboxEntry, error) {
	var entries []*models.OutboxEntry
	err := tx.Iterate(store.CollectionOutbox, func(key string, value []byte) error {
		seq, err := store.ParseSequenceKey(key)
		if err != nil {
			return fmt.Errorf("%w: bad outbox key %q", models.ErrMalformedEntry, key)
		}
		entries = append(entries, models.DecodeOutboxEntry(seq, value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	return entries, nil
}
