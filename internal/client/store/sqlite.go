package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/dbx"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore keeps every collection in a single records table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed atomic.Bool
}

// OpenSQLite opens (or creates) the database file at path and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps SQLite's single-writer model out of our way.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Kind() Kind { return KindSQLite }

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, fn)
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, fn)
}

func (s *SQLiteStore) run(ctx context.Context, fn func(tx Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var fnErr error
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fnErr = fn(&sqliteTx{ctx: ctx, db: tx})
		return fnErr
	})
	if err != nil && fnErr == nil && ctx.Err() == nil {
		return unavailable("transaction", err)
	}
	return err
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type sqliteTx struct {
	ctx context.Context
	db  dbx.DBTX
}

func (t *sqliteTx) Get(collection, key string) ([]byte, error) {
	var value []byte
	err := t.db.QueryRowContext(t.ctx,
		`SELECT value FROM records WHERE collection = ? AND key = ?`, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get %s[%s]", collection, key), err)
	}
	return value, nil
}

func (t *sqliteTx) Put(collection, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := t.db.ExecContext(t.ctx, `
		INSERT INTO records (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value
	`, collection, key, value)
	if err != nil {
		return unavailable(fmt.Sprintf("put %s[%s]", collection, key), err)
	}
	return nil
}

func (t *sqliteTx) Delete(collection, key string) error {
	_, err := t.db.ExecContext(t.ctx, `DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return unavailable(fmt.Sprintf("delete %s[%s]", collection, key), err)
	}
	return nil
}

type sqliteRecord struct {
	key   string
	value []byte
}

func (t *sqliteTx) Iterate(collection string, fn func(key string, value []byte) error) error {
	rows, err := t.db.QueryContext(t.ctx,
		`SELECT key, value FROM records WHERE collection = ? ORDER BY key`, collection)
	if err != nil {
		return unavailable(fmt.Sprintf("iterate %s", collection), err)
	}

	// Rows are drained before fn runs so fn may write through the same tx.
	var records []sqliteRecord
	for rows.Next() {
		var r sqliteRecord
		if err := rows.Scan(&r.key, &r.value); err != nil {
			rows.Close()
			return unavailable(fmt.Sprintf("scan %s", collection), err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return unavailable(fmt.Sprintf("iterate %s", collection), err)
	}
	rows.Close()

	for _, r := range records {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) Clear(collection string) error {
	_, err := t.db.ExecContext(t.ctx, `DELETE FROM records WHERE collection = ?`, collection)
	if err != nil {
		return unavailable(fmt.Sprintf("clear %s", collection), err)
	}
	return nil
}

func (t *sqliteTx) NextSequence(collection string) (uint64, error) {
	var next uint64
	err := t.db.QueryRowContext(t.ctx, `
		INSERT INTO sequences (collection, value) VALUES (?, 1)
		ON CONFLICT(collection) DO UPDATE SET value = value + 1
		RETURNING value
	`, collection).Scan(&next)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("sequence %s", collection), err)
	}
	return next, nil
}
