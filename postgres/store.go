// Package postgres provides an actionqueue.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/actionqueue"
)

const (
	defaultTable    = "action_queue"
	defaultQueueKey = "default"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	queue_key TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	entry_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var (
	// ErrDBRequired is returned when a nil pool is provided.
	ErrDBRequired = errors.New("actionqueue postgres: db is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("actionqueue postgres: invalid table name")
)

// DB is the subset of *pgxpool.Pool the store uses. pgx.Tx satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements actionqueue.Store on a PostgreSQL table, one row per queue.
type Store struct {
	db       DB
	table    string
	queueKey string
	clock    actionqueue.Clock

	selectOne string
	upsert    string
}

var _ actionqueue.Store = (*Store)(nil)

// Option configures the PostgreSQL store.
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

// New constructs a store. Call Migrate to create the table.
func New(db DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

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

	s.selectOne = fmt.Sprintf("SELECT data FROM %s WHERE queue_key = $1", s.table)
	s.upsert = fmt.Sprintf(
		"INSERT INTO %s (queue_key, data, entry_count, updated_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (queue_key) DO UPDATE SET data = EXCLUDED.data, "+
			"entry_count = EXCLUDED.entry_count, updated_at = EXCLUDED.updated_at",
		s.table,
	)

	return s, nil
}

// Migrate creates the queue table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(schemaTemplate, s.table)); err != nil {
		return fmt.Errorf("actionqueue postgres: migrate: %w", err)
	}

	return nil
}

// LoadAll implements actionqueue.Store.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	var data []byte
	err := s.db.QueryRow(ctx, s.selectOne, s.queueKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actionqueue postgres: select: %w", err)
	}

	entries, err := actionqueue.DecodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("actionqueue postgres: queue %q: %w", s.queueKey, err)
	}

	return entries, nil
}

// SaveAll implements actionqueue.Store.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	data, err := actionqueue.EncodeEntries(entries)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, s.upsert, s.queueKey, string(data), len(entries), s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("actionqueue postgres: upsert: %w", err)
	}

	return nil
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return false
	}

	return true
}
