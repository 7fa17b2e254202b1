package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue"
	"github.com/velmie/actionqueue/internal/config"
	"github.com/velmie/actionqueue/mysql"
)

var errPruneNeedsMySQL = errors.New("prune requires a mysql store (store.type or --dsn)")

type pruneOptions struct {
	dsn        string
	table      string
	retention  time.Duration
	checkEvery time.Duration
	batchSize  int
	lockName   string
	once       bool
}

func newPruneCommand(root *rootOptions) *cobra.Command {
	opts := &pruneOptions{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete empty queue rows of clients that stopped writing (MySQL)",
		Long: `Remove MySQL queue rows that hold no entries and were not written for longer
than the retention window. Rows with pending entries are always kept.
Runs are serialized across instances with a named lock.

Example:
  actionqueue prune --dsn 'user:pass@tcp(db:3306)/game?parseTime=true' --retention 720h --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "MySQL DSN (overrides store.dsn)")
	cmd.Flags().StringVar(&opts.table, "table", "", "queue table name (overrides store.table)")
	cmd.Flags().DurationVar(&opts.retention, "retention", 0, "delete rows not written for this long (overrides prune.retention)")
	cmd.Flags().DurationVar(&opts.checkEvery, "check-every", 0, "interval between runs (overrides prune.check_every)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "max rows per DELETE statement (0 uses the default)")
	cmd.Flags().StringVar(&opts.lockName, "lock-name", "", "named lock serializing runs")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run once and exit")

	return cmd
}

func (o *pruneOptions) merge(cfg config.Config) (string, mysql.PruneMaintainerConfig, error) {
	dsn := o.dsn
	if dsn == "" && cfg.Store.Type == config.StoreMySQL {
		dsn = cfg.Store.DSN
	}
	if dsn == "" {
		return "", mysql.PruneMaintainerConfig{}, errPruneNeedsMySQL
	}

	mc := mysql.PruneMaintainerConfig{
		Table:      cfg.Store.Table,
		Retention:  cfg.Prune.Retention,
		CheckEvery: cfg.Prune.CheckEvery,
		BatchSize:  cfg.Prune.BatchSize,
		LockName:   cfg.Prune.LockName,
		Clock:      actionqueue.SystemClock{},
	}
	if o.table != "" {
		mc.Table = o.table
	}
	if o.retention > 0 {
		mc.Retention = o.retention
	}
	if o.checkEvery > 0 {
		mc.CheckEvery = o.checkEvery
	}
	if o.batchSize > 0 {
		mc.BatchSize = o.batchSize
	}
	if o.lockName != "" {
		mc.LockName = o.lockName
	}

	return dsn, mc, nil
}

func runPrune(cmd *cobra.Command, root *rootOptions, opts *pruneOptions) error {
	dsn, mc, err := opts.merge(root.cfg)
	if err != nil {
		return usageError("prune", err)
	}
	mc.Logger = root.logger

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	maintainer, err := mysql.NewPruneMaintainer(db, mc)
	if err != nil {
		return usageError("init maintainer", err)
	}

	ctx := cmd.Context()
	if opts.once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}

		return root.printer(cmd.OutOrStdout()).success(result, func(w io.Writer) {
			fmt.Fprintf(w, "pruned rows=%d batches=%d before=%s\n",
				result.Deleted, result.Batches, result.Before.Format(time.RFC3339))
		})
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
