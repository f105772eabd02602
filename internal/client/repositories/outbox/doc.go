// Package outbox is the durable FIFO queue of mutations waiting to be
// replayed against the server.
//
// # Data Model
//
// Entries live in the "outbox" collection keyed by store.SequenceKey(seq),
// so iteration order is enqueue order. Sequence numbers come from the
// store's durable counter and are never reused, even after Clear.
//
// # Coalescing
//
// The queue itself has no opinion about which intents supersede others.
// Callers prune superseded entries with Prune before enqueueing a fresh one;
// Prune and Enqueue each run in a single write transaction, so no enqueue is
// lost to a concurrent prune.
//
// # Notifications
//
// Every mutation that changes the queue's contents notifies subscribers after
// it has been committed.
package outbox
