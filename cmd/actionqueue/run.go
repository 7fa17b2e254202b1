package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue"
	"github.com/velmie/actionqueue/prommetrics"
)

const shutdownTimeout = 5 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Flush the queue periodically and serve /metrics",
		Long: `Replay queued actions at start and then every queue.flush_interval until interrupted.
Prometheus metrics are served on /metrics and liveness on /healthz.

Example:
  actionqueue run --config actionqueue.yaml --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				opts.cfg.Metrics.Addr = metricsAddr
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics, err := prommetrics.New(
				prommetrics.WithRegisterer(registry),
				prommetrics.WithConstLabels(prometheus.Labels{"queue": opts.cfg.Store.QueueKey}),
			)
			if err != nil {
				return err
			}

			sess, err := openSession(cmd.Context(), opts, actionqueue.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer sess.Close()

			return serve(cmd.Context(), opts, registry, sess.client)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (empty disables, overrides metrics.addr)")

	return cmd
}

func serve(ctx context.Context, opts *rootOptions, registry *prometheus.Registry, client *actionqueue.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := opts.logger
	errCh := make(chan error, 1)

	if addr := opts.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("actionqueue metrics listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("actionqueue flushing", "interval", opts.cfg.Queue.FlushInterval, "pending", client.PendingCount())
	runErr := client.Run(ctx)

	select {
	case err := <-errCh:
		return err
	default:
	}
	logger.Info("actionqueue stopped", "pending", client.PendingCount())

	return runErr
}
