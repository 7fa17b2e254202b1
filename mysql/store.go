package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velmie/actionqueue"
)

// Executor allows saving within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements actionqueue.Store on a MySQL table, one row per queue.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var _ actionqueue.Store = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if err := validateQueueKey(cfg.QueueKey); err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// LoadAll returns the persisted entries of the queue, or none when the row does not exist.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.queries.selectOne, s.cfg.QueueKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actionqueue mysql: select failed: %w", err)
	}

	entries, err := actionqueue.DecodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("actionqueue mysql: queue %q: %w", s.cfg.QueueKey, err)
	}

	return entries, nil
}

// SaveAll replaces the persisted entries of the queue.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	return s.SaveWith(ctx, s.db, entries)
}

// SaveWith replaces the persisted entries using the provided executor (e.g., a transaction).
func (s *Store) SaveWith(ctx context.Context, exec Executor, entries []actionqueue.QueuedEntry) error {
	if exec == nil {
		exec = s.db
	}

	data, err := actionqueue.EncodeEntries(entries)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(
		ctx,
		s.queries.upsert,
		s.cfg.QueueKey,
		string(data),
		len(entries),
		s.cfg.Clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("actionqueue mysql: upsert failed: %w", err)
	}

	return nil
}

// Delete removes the queue row.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.queries.deleteOne, s.cfg.QueueKey); err != nil {
		return fmt.Errorf("actionqueue mysql: delete failed: %w", err)
	}

	return nil
}

// Table returns the sanitized table name.
func (s *Store) Table() string {
	return s.table
}
