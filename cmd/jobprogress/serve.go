package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobprogress"
	"github.com/jpalmerr/jobprogress/config"
	"github.com/jpalmerr/jobprogress/dashboard"
	"github.com/jpalmerr/jobprogress/internal/metrics"
	"github.com/jpalmerr/jobprogress/internal/server"
	"github.com/jpalmerr/jobprogress/internal/store"
	"github.com/jpalmerr/jobprogress/render"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd runs a tracker headless and mirrors its progress over HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Track a job and mirror its progress over HTTP",
	Long: `Track a job without a terminal bar and expose its progress over HTTP.

The server will:
  - Load configuration from the specified YAML file
  - Poll the job status endpoint until the job completes
  - Serve a live progress page on /
  - Serve the latest snapshot on /api/progress and /api/sse
  - Export Prometheus metrics on /metrics

The server keeps running after the job completes so the final state stays
readable, until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  jobprogress serve -c job.yaml
  jobprogress serve -c job.yaml --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().IntP("port", "p", 0, "HTTP port (overrides server.port)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := bindFlags(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(v.GetBool("verbose"))

	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port := v.GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	logger.Info("config loaded",
		"name", cfg.Name,
		"url", cfg.URL,
		"refresh_interval", cfg.RefreshInterval.Duration().String(),
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build tracker options: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, cfg.Name)

	st := store.NewMemoryStore()

	opts = append(opts, collector.Options()...)
	opts = append(opts,
		jobprogress.WithLogger(logger),
		jobprogress.WithRenderer(render.NewLog(logger.With("job", cfg.Name))),
		jobprogress.WithSnapshotCallback(func(s jobprogress.Snapshot) {
			st.Update(store.FromProgress(s))
		}),
		jobprogress.WithCompleteCallback(func(e jobprogress.CompleteEvent) {
			logger.Info("job complete",
				"reason", e.Reason.String(),
				"value", e.Snapshot.Value,
				"max", e.Snapshot.Max,
			)
		}),
	)

	tr, err := jobprogress.New(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// publish the initial state before the first poll returns
	st.Update(store.FromProgress(tr.Snapshot()))
	tr.Start(ctx)
	defer tr.Stop()

	srv := server.NewServer(st, cfg.Server.Port, dashboard.Assets, cfg.Name, reg, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	// wait for graceful shutdown with timeout
	select {
	case <-srv.Done():
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
	}
	return nil
}
