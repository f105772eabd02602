package store

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
)

// MemoryStore keeps collections in process memory. It offers the same
// transactional guarantees as the durable strategies but nothing survives
// the process.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	seq    map[string]uint64
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string][]byte),
		seq:  make(map[string]uint64),
	}
}

func (s *MemoryStore) Kind() Kind { return KindMemory }

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{
		store:   s,
		writes:  make(map[string]map[string][]byte),
		cleared: make(map[string]bool),
		seq:     make(map[string]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx buffers writes until commit. A nil value in writes is a tombstone.
type memTx struct {
	store    *MemoryStore
	readOnly bool
	writes   map[string]map[string][]byte
	cleared  map[string]bool
	seq      map[string]uint64
}

var errReadOnly = errors.New("write inside read-only transaction")

func (t *memTx) Get(collection, key string) ([]byte, error) {
	if w, ok := t.writes[collection]; ok {
		if v, ok := w[key]; ok {
			if v == nil {
				return nil, ErrNotFound
			}
			return bytes.Clone(v), nil
		}
	}
	if t.cleared[collection] {
		return nil, ErrNotFound
	}
	v, ok := t.store.data[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memTx) stage(collection, key string, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	w, ok := t.writes[collection]
	if !ok {
		w = make(map[string][]byte)
		t.writes[collection] = w
	}
	w[key] = value
	return nil
}

func (t *memTx) Put(collection, key string, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	return t.stage(collection, key, v)
}

func (t *memTx) Delete(collection, key string) error {
	return t.stage(collection, key, nil)
}

func (t *memTx) Iterate(collection string, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	if !t.cleared[collection] {
		for k, v := range t.store.data[collection] {
			merged[k] = v
		}
	}
	for k, v := range t.writes[collection] {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if err := fn(k, bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) Clear(collection string) error {
	if t.readOnly {
		return errReadOnly
	}
	t.cleared[collection] = true
	delete(t.writes, collection)
	return nil
}

func (t *memTx) NextSequence(collection string) (uint64, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	cur, ok := t.seq[collection]
	if !ok {
		cur = t.store.seq[collection]
	}
	cur++
	t.seq[collection] = cur
	return cur, nil
}

func (t *memTx) commit() {
	s := t.store
	for c := range t.cleared {
		delete(s.data, c)
	}
	for c, w := range t.writes {
		coll, ok := s.data[c]
		if !ok {
			coll = make(map[string][]byte)
			s.data[c] = coll
		}
		for k, v := range w {
			if v == nil {
				delete(coll, k)
				continue
			}
			coll[k] = v
		}
	}
	for c, v := range t.seq {
		s.seq[c] = v
	}
}
