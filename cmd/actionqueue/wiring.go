package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/actionqueue"
	"github.com/velmie/actionqueue/amqptransport"
	"github.com/velmie/actionqueue/filestore"
	"github.com/velmie/actionqueue/httptransport"
	"github.com/velmie/actionqueue/internal/config"
	"github.com/velmie/actionqueue/memstore"
	"github.com/velmie/actionqueue/mysql"
	"github.com/velmie/actionqueue/postgres"
	"github.com/velmie/actionqueue/redis"
	"github.com/velmie/actionqueue/sqlite"
)

type closeFunc func() error

func nopClose() error { return nil }

// openStore builds the configured queue backend. SQL tables are created when missing.
func openStore(ctx context.Context, cfg config.Store) (actionqueue.Store, closeFunc, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return memstore.New(), nopClose, nil

	case config.StoreFile:
		store, err := filestore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}

		return store, nopClose, nil

	case config.StoreSQLite:
		opts := []sqlite.Option{sqlite.WithQueueKey(cfg.QueueKey)}
		if cfg.Table != "" {
			opts = append(opts, sqlite.WithTable(cfg.Table))
		}
		store, err := sqlite.Open(ctx, cfg.Path, opts...)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil

	case config.StoreMySQL:
		return openMySQLStore(ctx, cfg)

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		opts := []postgres.Option{postgres.WithQueueKey(cfg.QueueKey)}
		if cfg.Table != "" {
			opts = append(opts, postgres.WithTable(cfg.Table))
		}
		store, err := postgres.New(pool, opts...)
		if err == nil {
			err = store.Migrate(ctx)
		}
		if err != nil {
			pool.Close()

			return nil, nil, err
		}

		return store, func() error {
			pool.Close()

			return nil
		}, nil

	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
		store := redis.New(client, redis.WithQueueKey(cfg.QueueKey), redis.WithTTL(cfg.TTL))

		return store, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, cfg.Type)
	}
}

func openMySQLStore(ctx context.Context, cfg config.Store) (actionqueue.Store, closeFunc, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}

	opts := []mysql.Option{mysql.WithQueueKey(cfg.QueueKey)}
	if cfg.Table != "" {
		opts = append(opts, mysql.WithTable(cfg.Table))
	}
	store, err := mysql.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, nil, err
	}

	ddl, err := mysql.Schema(store.Table())
	if err == nil {
		_, err = db.ExecContext(ctx, ddl)
	}
	if err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("prepare mysql table: %w", err)
	}

	return store, db.Close, nil
}

// newTransport builds the configured transport.
func newTransport(cfg config.Transport, logger *slog.Logger) (actionqueue.Transport, closeFunc, error) {
	switch cfg.Type {
	case config.TransportHTTP:
		opts := []httptransport.Option{}
		if cfg.Token != "" {
			opts = append(opts, httptransport.WithBearerToken(cfg.Token))
		}
		for name, value := range cfg.Headers {
			opts = append(opts, httptransport.WithHeader(name, value))
		}
		if cfg.RateLimit > 0 {
			opts = append(opts, httptransport.WithRateLimit(cfg.RateLimit, cfg.Burst))
		}
		transport, err := httptransport.New(cfg.URL, opts...)
		if err != nil {
			return nil, nil, err
		}

		return transport, nopClose, nil

	case config.TransportAMQP:
		dialer, err := amqptransport.Dial(cfg.URL, cfg.Exchange)
		if err != nil {
			return nil, nil, err
		}
		opts := []amqptransport.Option{amqptransport.WithLogger(logger)}
		if cfg.Exchange != "" {
			opts = append(opts, amqptransport.WithExchange(cfg.Exchange))
		}
		transport, err := amqptransport.New(dialer.Publisher, opts...)
		if err != nil {
			_ = dialer.Close()

			return nil, nil, err
		}

		return transport, dialer.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Type)
	}
}

// session is an open client with the resources it owns.
type session struct {
	client  *actionqueue.Client
	closers []closeFunc
}

func (s *session) Close() error {
	err := s.client.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// openSession wires store, transport and client from the loaded configuration.
func openSession(ctx context.Context, opts *rootOptions, extra ...actionqueue.Option) (*session, error) {
	if err := opts.cfg.RequireTransportURL(); err != nil {
		return nil, usageError("transport", err)
	}

	queueOpts, err := opts.cfg.Queue.Options()
	if err != nil {
		return nil, usageError("queue options", err)
	}
	queueOpts = append(queueOpts, actionqueue.WithLogger(opts.logger), actionqueue.WithDropHandler(logDrop(opts.logger)))
	queueOpts = append(queueOpts, extra...)

	store, closeStore, err := openStore(ctx, opts.cfg.Store)
	if err != nil {
		return nil, err
	}
	transport, closeTransport, err := newTransport(opts.cfg.Transport, opts.logger)
	if err != nil {
		_ = closeStore()

		return nil, err
	}

	client, err := actionqueue.New(ctx, store, transport, queueOpts...)
	if err != nil {
		_ = closeTransport()
		_ = closeStore()

		return nil, err
	}

	return &session{client: client, closers: []closeFunc{closeStore, closeTransport}}, nil
}

// openQueue opens only the queue, for commands that never send.
func openQueue(ctx context.Context, opts *rootOptions) (*actionqueue.Queue, closeFunc, error) {
	queueOpts, err := opts.cfg.Queue.Options()
	if err != nil {
		return nil, nil, usageError("queue options", err)
	}

	store, closeStore, err := openStore(ctx, opts.cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	queue, err := actionqueue.OpenQueue(ctx, store, append(queueOpts, actionqueue.WithLogger(opts.logger))...)
	if err != nil {
		_ = closeStore()

		return nil, nil, err
	}

	return queue, closeStore, nil
}

func logDrop(logger *slog.Logger) actionqueue.DropHandler {
	return func(_ context.Context, entry actionqueue.QueuedEntry, err error) {
		logger.Error("actionqueue gave up on entry",
			"entry_id", entry.ID, "kind", entry.ActionKind, "retry_count", entry.RetryCount, "err", err)
	}
}
