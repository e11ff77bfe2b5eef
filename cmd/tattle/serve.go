package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tbnorth/tattle/internal/config"
	hfactory "github.com/tbnorth/tattle/internal/history/factory"
	"github.com/tbnorth/tattle/internal/logger"
	"github.com/tbnorth/tattle/internal/metrics"
	"github.com/tbnorth/tattle/internal/monitor"
	"github.com/tbnorth/tattle/internal/server"
	sfactory "github.com/tbnorth/tattle/internal/store/factory"
	"github.com/tbnorth/tattle/internal/sweep"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	interval, err := cfg.Interval()
	if err != nil {
		return fmt.Errorf("default_interval: %w", err)
	}

	log, closer := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	slog.SetDefault(log)

	st, err := sfactory.NewFromDSN(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store, err)
	}

	opts := monitor.Options{Logger: log, DefaultInterval: interval}
	if cfg.HistoryURL != "" {
		sink, err := hfactory.NewFromURL(cfg.HistoryURL)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		opts.Sink = sink
	}
	mon := monitor.New(st, opts)
	defer func() { _ = mon.Close() }()

	ctx := context.Background()
	changes, err := mon.InitSchema(ctx)
	if err != nil {
		return err
	}
	log.Info("schema reconciled", "decisions", len(changes))

	if cfg.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.Sweep != "" {
		sched := sweep.NewScheduler(log)
		err := sched.Add(&sweep.Task{
			Name:     "retention",
			Schedule: cfg.Sweep,
			Run: func(ctx context.Context) error {
				_, err := mon.Archive(ctx, cfg.Keep)
				return err
			},
		})
		if err == nil {
			err = sched.Add(&sweep.Task{
				Name:     "defer-expiry",
				Schedule: cfg.Sweep,
				Run: func(ctx context.Context) error {
					_, err := mon.ExpireDefers(ctx)
					return err
				},
			})
		}
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		defer sched.Stop()
		log.Info("maintenance sweeps scheduled", "schedule", cfg.Sweep, "keep", cfg.Keep)
	}

	tlsConf, err := cfg.TLS.Setup()
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	srv, err := server.NewServerTLS(cfg.Listen, cfg.BasePath, mon, cfg.Metrics, tlsConf)
	if err != nil {
		return err
	}
	log.Info("listening", "addr", cfg.Listen, "store", cfg.Store, "tls", tlsConf != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
	log.Info("stopped")
	return nil
}
