package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue/internal/config"
	"github.com/velmie/actionqueue/internal/telemetry"
)

const (
	formatText = "text"
	formatJSON = "json"
)

var validFormats = []string{formatText, formatJSON}

// rootOptions holds global flags and the state loaded before every subcommand.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string

	getenv func(string) string
	cfg    config.Config
	logger *slog.Logger
}

func (o *rootOptions) printer(w io.Writer) printer {
	return printer{format: o.Format, w: w}
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	opts := &rootOptions{getenv: getenv}

	cmd := &cobra.Command{
		Use:           "actionqueue",
		Short:         "Resilient outbound action queue",
		Long:          "Submit actions to a backend, keep them queued while offline and replay them in priority order.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return usageError(fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
			}

			cfg, err := config.Load(opts.ConfigPath, opts.getenv)
			if err != nil {
				return usageError("load config", err)
			}
			level := cfg.Log.Level
			if opts.Verbose {
				level = "debug"
			}
			opts.cfg = cfg
			opts.logger = telemetry.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)

			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("invalid flags", err)
	})

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatText, "output format (json|text)")

	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newPendingCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newFlushCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPruneCommand(opts))
	cmd.AddCommand(newBenchCommand(opts))

	return cmd
}
