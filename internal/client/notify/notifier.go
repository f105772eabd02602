// Package notify is a minimal observer registry. The outbox uses it to tell
// UI layers that its contents changed, so they can refresh counters without
// polling.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Listener is called synchronously on every notification.
type Listener func()

type Notifier struct {
	log logging.Logger

	mu        sync.Mutex
	next      uint64
	listeners map[uint64]Listener
	order     []uint64
}

func New(log logging.Logger) *Notifier {
	return &Notifier{
		log:       log,
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (n *Notifier) Subscribe(fn Listener) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	id := n.next
	n.listeners[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i:i], n.order[i+1:]...)
			break
		}
	}
}

// Notify calls every listener in subscription order. A panicking listener is
// logged and does not stop the others. Listeners may subscribe or
// unsubscribe from inside the callback.
func (n *Notifier) Notify(ctx context.Context) {
	n.mu.Lock()
	snapshot := make([]Listener, 0, len(n.order))
	for _, id := range n.order {
		snapshot = append(snapshot, n.listeners[id])
	}
	n.mu.Unlock()

	for _, fn := range snapshot {
		n.call(ctx, fn)
	}
}

func (n *Notifier) call(ctx context.Context, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Warn(ctx, "change listener panicked", "error", fmt.Sprint(r))
		}
	}()
	fn()
}

// Len returns the number of active listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
