package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/notesync/internal/filex"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

const (
	sqliteFileName = "notes.db"
	badgerDirName  = "badger"
)

// Options selects the storage strategy.
type Options struct {
	Kind Kind
	// Dir is the data directory. Ignored for KindMemory.
	Dir string
}

// Open returns the configured store. If it cannot be opened the failure is
// logged and a MemoryStore is returned instead, so Open never fails.
func Open(ctx context.Context, opts Options, log logging.Logger) Store {
	s, err := open(ctx, opts)
	if err != nil {
		log.Warn(ctx, "durable storage unavailable, falling back to memory",
			"kind", string(opts.Kind), "dir", opts.Dir,
			"error", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
		return NewMemoryStore()
	}
	log.Debug(ctx, "storage opened", "kind", string(s.Kind()), "dir", opts.Dir)
	return s
}

func open(ctx context.Context, opts Options) (Store, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindSQLite
	}
	if kind == KindMemory {
		return NewMemoryStore(), nil
	}

	if opts.Dir == "" {
		return nil, fmt.Errorf("no data directory configured")
	}
	dir, err := filex.EnsureDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	switch kind {
	case KindSQLite:
		return OpenSQLite(ctx, filepath.Join(dir, sqliteFileName))
	case KindBadger:
		return OpenBadger(filepath.Join(dir, badgerDirName))
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}
