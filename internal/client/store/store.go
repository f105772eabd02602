// Package store is the durable persistence substrate of the notes client.
//
// # Overview
//
// A Store holds named collections of opaque records addressed by string
// keys. All access happens inside transactions: View for reads, Update for
// writes. One Update may touch several collections atomically, which is what
// keeps the note cache's id and slug indexes consistent.
//
// # Strategies
//
// Three implementations share the interface and are chosen once, by Open:
//
//   - SQLiteStore: records table in a local SQLite file (default)
//   - BadgerStore: key/value pairs in a BadgerDB directory
//   - MemoryStore: process-local maps; contents are lost on exit
//
// When the configured strategy cannot be opened, Open logs the failure and
// hands back a MemoryStore. Running without persistence is a supported,
// degraded mode rather than an error.
//
// # Ordering
//
// Iterate visits keys in ascending byte order. Sequence numbers from
// NextSequence are formatted with SequenceKey so that byte order and
// numeric order agree.
//
// # Concurrency
//
// Stores are safe for concurrent use. Writers are serialized; a View never
// observes a partially applied Update.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Collections owned by the notes client.
const (
	CollectionNotes    = "notes"
	CollectionSlugs    = "notes_by_slug"
	CollectionLists    = "lists"
	CollectionOutbox   = "outbox"
	CollectionMetadata = "metadata"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("store closed")
)

// Kind names a storage strategy.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindBadger Kind = "badger"
	KindMemory Kind = "memory"
)

// Tx is the view of a store inside a transaction. Returned byte slices are
// owned by the caller.
type Tx interface {
	// Get returns the record stored under key or ErrNotFound.
	Get(collection, key string) ([]byte, error)

	// Put inserts or replaces a record.
	Put(collection, key string, value []byte) error

	// Delete removes a record. Deleting a missing key is not an error.
	Delete(collection, key string) error

	// Iterate calls fn for every record in ascending key order and stops at
	// the first error fn returns.
	Iterate(collection string, fn func(key string, value []byte) error) error

	// Clear removes every record of the collection. Sequences are kept.
	Clear(collection string) error

	// NextSequence returns the next value of the collection's durable,
	// strictly increasing counter. The first value is 1.
	NextSequence(collection string) (uint64, error)
}

// Store is a transactional collection store.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Kind() Kind
	Close() error
}

// SequenceKey renders a sequence number as a fixed-width key so that
// lexical and numeric order coincide.
func SequenceKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// ParseSequenceKey is the inverse of SequenceKey.
func ParseSequenceKey(key string) (uint64, error) {
	return strconv.ParseUint(key, 10, 64)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
