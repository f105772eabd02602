package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerSep       = "/"
	badgerSeqPrefix = "_seq" + badgerSep
)

// BadgerStore maps collections onto key prefixes of a BadgerDB instance.
type BadgerStore struct {
	db *badger.DB

	// Badger transactions are optimistic; serializing writers avoids
	// ErrConflict between concurrent Updates.
	mu     sync.Mutex
	closed bool
}

// OpenBadger opens (or creates) a BadgerDB directory at dir with fsync on
// every commit.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Kind() Kind { return KindBadger }

func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	return s.wrap(s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	}))
}

func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.wrap(s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	}))
}

func (s *BadgerStore) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict), errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrTxnTooBig):
		return unavailable("transaction", err)
	default:
		return err
	}
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func recordKey(collection, key string) []byte {
	return []byte(collection + badgerSep + key)
}

func (t *badgerTx) Get(collection, key string) ([]byte, error) {
	item, err := t.txn.Get(recordKey(collection, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get %s[%s]", collection, key), err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("read %s[%s]", collection, key), err)
	}
	return v, nil
}

func (t *badgerTx) Put(collection, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := t.txn.Set(recordKey(collection, key), value); err != nil {
		return unavailable(fmt.Sprintf("put %s[%s]", collection, key), err)
	}
	return nil
}

func (t *badgerTx) Delete(collection, key string) error {
	if err := t.txn.Delete(recordKey(collection, key)); err != nil {
		return unavailable(fmt.Sprintf("delete %s[%s]", collection, key), err)
	}
	return nil
}

type badgerRecord struct {
	key   string
	value []byte
}

func (t *badgerTx) scan(collection string, withValues bool) ([]badgerRecord, error) {
	prefix := []byte(collection + badgerSep)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = withValues

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var records []badgerRecord
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		r := badgerRecord{key: string(item.Key()[len(prefix):])}
		if withValues {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return nil, unavailable(fmt.Sprintf("read %s", collection), err)
			}
			r.value = v
		}
		records = append(records, r)
	}
	return records, nil
}

func (t *badgerTx) Iterate(collection string, fn func(key string, value []byte) error) error {
	// The iterator is closed before fn runs so fn may write through the txn.
	records, err := t.scan(collection, true)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) Clear(collection string) error {
	records, err := t.scan(collection, false)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := t.Delete(collection, r.key); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) NextSequence(collection string) (uint64, error) {
	key := []byte(badgerSeqPrefix + collection)

	var cur uint64
	item, err := t.txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, unavailable(fmt.Sprintf("sequence %s", collection), err)
	default:
		v, err := item.ValueCopy(nil)
		if err != nil {
			return 0, unavailable(fmt.Sprintf("sequence %s", collection), err)
		}
		if len(v) == 8 {
			cur = binary.BigEndian.Uint64(v)
		}
	}

	cur++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cur)
	if err := t.txn.Set(key, buf); err != nil {
		return 0, unavailable(fmt.Sprintf("sequence %s", collection), err)
	}
	return cur, nil
}
