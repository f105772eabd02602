package outbox

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/notify"
)

// Processor applies one entry remotely. Returning nil removes the entry;
// any error halts the drain and leaves it queued.
type Processor func(ctx context.Context, entry *models.OutboxEntry) error

// Predicate selects entries for Prune.
type Predicate func(entry *models.OutboxEntry) bool

type Repository interface {
	Enqueue(ctx context.Context, payload models.Payload) (uint64, error)
	List(ctx context.Context) ([]*models.OutboxEntry, error)
	Prune(ctx context.Context, match Predicate) (int, error)
	RemoveBySequence(ctx context.Context, seq uint64) error
	Contains(ctx context.Context, seq uint64) (bool, error)
	Drain(ctx context.Context, process Processor) (int, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Subscribe(fn notify.Listener) (unsubscribe func())
}
