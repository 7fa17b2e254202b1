package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/actionqueue"
)

const (
	defaultPruneBatch      = 1000
	defaultPruneEvery      = time.Hour
	defaultPruneLockPrefix = "actionqueue:prune:"
)

// PruneOptions selects the rows removed by Prune.
type PruneOptions struct {
	// Before is the cutoff: rows last written at or before it are eligible (required).
	Before time.Time
	// BatchSize caps the rows removed by one DELETE statement (0 uses the default).
	BatchSize int
}

// PruneResult reports one prune pass.
type PruneResult struct {
	Deleted int64     `json:"deleted"`
	Batches int       `json:"batches"`
	Before  time.Time `json:"before"`
}

// Prune deletes rows whose queue is empty and that were last written before opts.Before.
// A row that still holds entries is never deleted, however old it is.
// Deletion runs in batches until a batch comes back short.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	if opts.Before.IsZero() {
		return PruneResult{}, ErrPruneBeforeRequired
	}
	batch := opts.BatchSize
	if batch == 0 {
		batch = defaultPruneBatch
	}
	if batch < 0 {
		return PruneResult{}, ErrPruneBatchInvalid
	}

	result := PruneResult{Before: opts.Before.UTC()}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := s.db.ExecContext(ctx, s.queries.pruneEmpty, result.Before, batch)
		if err != nil {
			return result, fmt.Errorf("actionqueue mysql: prune delete failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("actionqueue mysql: prune rows failed: %w", err)
		}
		result.Batches++
		result.Deleted += affected

		if affected < int64(batch) {
			return result, nil
		}
	}
}

// PruneMaintainerConfig controls periodic pruning.
type PruneMaintainerConfig struct {
	// Table is the queue table name. Use schema.table for non-default schema.
	Table string
	// Retention is how long an empty row is kept after its last write (required).
	Retention time.Duration
	// CheckEvery is the interval between passes.
	CheckEvery time.Duration
	// BatchSize caps the rows removed by one DELETE statement.
	BatchSize int
	// LockName defaults to actionqueue:prune:<table>.
	LockName string
	Clock    actionqueue.Clock
	Logger   actionqueue.Logger
}

// PruneMaintainer removes rows left empty by clients that stopped writing.
// Passes from several processes are serialized by a MySQL named lock.
type PruneMaintainer struct {
	db    *sql.DB
	store *Store
	lock  namedLock
	cfg   PruneMaintainerConfig
}

// NewPruneMaintainer validates cfg and applies defaults.
func NewPruneMaintainer(db *sql.DB, cfg PruneMaintainerConfig) (*PruneMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrPruneRetentionInvalid
	}
	if cfg.BatchSize < 0 {
		return nil, ErrPruneBatchInvalid
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultPruneBatch
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultPruneEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = actionqueue.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = actionqueue.NopLogger{}
	}

	store, err := NewStore(db, WithTable(cfg.Table))
	if err != nil {
		return nil, err
	}
	cfg.Table = store.Table()
	if cfg.LockName == "" {
		cfg.LockName = defaultPruneLockPrefix + cfg.Table
	}

	return &PruneMaintainer{
		db:    db,
		store: store,
		lock:  namedLock{name: cfg.LockName},
		cfg:   cfg,
	}, nil
}

// Run prunes immediately and then every CheckEvery until ctx is canceled.
func (m *PruneMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		if _, err := m.Ensure(ctx); err != nil && ctx.Err() == nil {
			m.cfg.Logger.Warn("actionqueue prune failed", "table", m.cfg.Table, "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ensure runs one pass. It returns a zero result when another session holds the lock.
func (m *PruneMaintainer) Ensure(ctx context.Context) (PruneResult, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return PruneResult{}, fmt.Errorf("actionqueue mysql: prune conn failed: %w", err)
	}
	defer conn.Close()

	held, err := m.lock.acquire(ctx, conn)
	if err != nil {
		return PruneResult{}, err
	}
	if !held {
		m.cfg.Logger.Debug("actionqueue prune skipped, lock held elsewhere", "lock", m.cfg.LockName)

		return PruneResult{}, nil
	}
	defer func() {
		if err := m.lock.release(context.WithoutCancel(ctx), conn); err != nil {
			m.cfg.Logger.Warn("actionqueue prune lock release failed", "lock", m.cfg.LockName, "err", err)
		}
	}()

	result, err := m.store.Prune(ctx, PruneOptions{
		Before:    m.cfg.Clock.Now().Add(-m.cfg.Retention),
		BatchSize: m.cfg.BatchSize,
	})
	if err != nil {
		return result, err
	}
	if result.Deleted > 0 {
		m.cfg.Logger.Info("actionqueue pruned empty queues",
			"table", m.cfg.Table, "rows", result.Deleted, "batches", result.Batches)
	}

	return result, nil
}
