package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/config"
)

type runOptions struct {
	workers     int
	debug       bool
	schedule    string
	metricsAddr string
}

func runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the notification queue and deliver messages",
		Long: `Drain the notification queue until it is empty, delivering every message
to the channels it targets.

Without --schedule the queue is drained once and the process exits. With
--schedule the drain repeats on a cron schedule and /metrics and /healthz are
served until the process is signalled.

Examples:
  # Drain once
  potoo-mailer run -c mailer.yml

  # Drain every five minutes with four workers
  potoo-mailer run -c mailer.yml --workers 4 --schedule "*/5 * * * *"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMailer(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Worker pool size (default: max_num_processes from config, else 1)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.schedule, "schedule", "", "Cron expression; repeat the drain on this schedule")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-bind-address", ":8080", "Address for /metrics and /healthz in scheduled mode")

	return cmd
}

func runMailer(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := initTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	logger.Info("Starting potoo-mailer",
		zap.String("version", version),
		zap.String("queue_url", cfg.QueueURL),
		zap.String("schedule", opts.schedule))

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.schedule == "" {
		err := drain(ctx, a, opts.workers)
		pushMetrics(context.Background(), cfg.MetricsPushgatewayURL, logger)
		return err
	}
	return runScheduled(ctx, a, opts)
}

// drain runs the consumer once.
func drain(ctx context.Context, a *app, workers int) error {
	stats, err := a.consumer(workers).Run(ctx)
	a.gate.Prune(ctx)
	a.logger.Info("Drain finished",
		zap.String("runID", stats.RunID),
		zap.Int("batches", stats.Batches),
		zap.Int("processed", stats.Processed),
		zap.Int("malformed", stats.Malformed),
		zap.Int("ackErrors", stats.AckErrors),
		zap.Error(err))
	return err
}

func runScheduled(ctx context.Context, a *app, opts *runOptions) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(opts.schedule, func() {
		if err := drain(ctx, a, opts.workers); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Scheduled drain failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid --schedule %q: %w", opts.schedule, err)
	}

	srv := &http.Server{
		Addr:              opts.metricsAddr,
		Handler:           newRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	c.Start()
	a.logger.Info("Scheduler started", zap.String("schedule", opts.schedule), zap.String("metrics", opts.metricsAddr))
	<-ctx.Done()

	a.logger.Info("Shutting down")
	<-c.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter serves Prometheus metrics and a liveness probe.
func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
