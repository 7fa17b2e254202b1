// Package sqlite provides an on-device actionqueue.Store backed by SQLite.
//
// The database is opened with:
//   - WAL journal mode
//   - FULL synchronous mode, so an acknowledged save survives power loss
//   - a 5-second busy timeout
//   - a single connection, since the queue is the only writer
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/velmie/actionqueue"
)

const (
	defaultTable    = "action_queue"
	defaultQueueKey = "default"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	queue_key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	entry_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
)`

var (
	// ErrPathRequired is returned when no database path is configured.
	ErrPathRequired = errors.New("actionqueue sqlite: path is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("actionqueue sqlite: invalid table name")
)

// Store implements actionqueue.Store on a SQLite table, one row per queue.
type Store struct {
	db       *sql.DB
	owned    bool
	table    string
	queueKey string
	clock    actionqueue.Clock

	selectOne string
	upsert    string
}

var _ actionqueue.Store = (*Store)(nil)

// Option configures the SQLite store.
type Option func(*Store)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithQueueKey sets the row key of the queue.
func WithQueueKey(key string) Option {
	return func(s *Store) {
		s.queueKey = key
	}
}

// WithClock sets the time source used for updated_at.
func WithClock(clock actionqueue.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Open creates or opens a SQLite database at path and prepares the queue table.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("actionqueue sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	store.owned = true

	return store, nil
}

// New wraps an existing database handle. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:       db,
		table:    defaultTable,
		queueKey: defaultQueueKey,
		clock:    actionqueue.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validTableName(s.table) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTableName, s.table)
	}

	if err := applyPragmas(ctx, db); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaTemplate, s.table)); err != nil {
		return nil, fmt.Errorf("actionqueue sqlite: create table: %w", err)
	}

	s.selectOne = fmt.Sprintf("SELECT data FROM %s WHERE queue_key = ?", s.table)
	s.upsert = fmt.Sprintf(
		"INSERT INTO %s (queue_key, data, entry_count, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(queue_key) DO UPDATE SET data = excluded.data, "+
			"entry_count = excluded.entry_count, updated_at = excluded.updated_at",
		s.table,
	)

	return s, nil
}

// LoadAll implements actionqueue.Store.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.selectOne, s.queueKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actionqueue sqlite: select: %w", err)
	}

	entries, err := actionqueue.DecodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("actionqueue sqlite: queue %q: %w", s.queueKey, err)
	}

	return entries, nil
}

// SaveAll implements actionqueue.Store.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	data, err := actionqueue.EncodeEntries(entries)
	if err != nil {
		return err
	}

	updatedAt := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, s.upsert, s.queueKey, data, len(entries), updatedAt); err != nil {
		return fmt.Errorf("actionqueue sqlite: upsert: %w", err)
	}

	return nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("actionqueue sqlite: %s: %w", pragma, err)
		}
	}

	return nil
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return false
	}

	return true
}
