// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sysrestore/services/guardian/health"
	"github.com/AleutianAI/sysrestore/services/guardian/protected"
	"github.com/AleutianAI/sysrestore/services/guardian/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guardian daemon: health monitoring with automatic recovery",
	Long: `Runs the background guardian: samples machine health on an interval,
watches protected resources for drift, exports metrics, and restores the
latest valid snapshot when the health score crosses the critical threshold.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "sysrestore",
		ServiceVersion: "1.0.0",
		Enabled:        cfg.Observability.MetricsEnabled && cfg.Observability.MetricsListenAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	watcher, err := protected.NewWatcher(protected.Default, logger.Slog())
	if err != nil {
		return fmt.Errorf("starting drift watcher: %w", err)
	}

	var sink health.Sink
	if cfg.InfluxEnabled() {
		influx := health.NewInfluxSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		defer influx.Close()
		sink = influx
		logger.Info("health samples exported to influx", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	sampler := &health.ProcSampler{Drift: watcher, ProbeAddr: cfg.Health.ProbeAddr}
	monitor := health.NewMonitor(sampler, sink, cfg.Health.ToMonitorConfig(), logger.Slog())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})

	if cfg.Health.Enabled {
		g.Go(func() error {
			monitor.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return consumeRecoveries(gctx, eng, monitor)
		})
	}

	if handler := telemetry.MetricsHandler(); handler != nil && cfg.Observability.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		server := &http.Server{
			Addr:              cfg.Observability.MetricsListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", server.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("guardian daemon started",
		"health_enabled", cfg.Health.Enabled,
		"auto_recover", cfg.Health.AutoRecover)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("guardian daemon stopped")
	return nil
}

// consumeRecoveries restores the latest valid snapshot whenever the
// monitor requests recovery, unless auto recovery is disabled.
func consumeRecoveries(ctx context.Context, eng *engine, monitor *health.Monitor) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-monitor.Recoveries():
			if !cfg.Health.AutoRecover {
				logger.Warn("automatic recovery disabled, ignoring request",
					"score", req.Score, "warnings", req.Warnings)
				continue
			}
			logger.Warn("health critical, restoring latest valid snapshot",
				"score", req.Score, "warnings", req.Warnings)
			result, err := eng.manager.RestoreLatest(ctx)
			switch {
			case err != nil:
				logger.Error("automatic recovery failed", "error", err)
			case result == nil:
				logger.Warn("no valid snapshot available for recovery")
			default:
				logger.Info("automatic recovery complete",
					"snapshot_restored", result.TransactionID,
					"warnings", len(result.Warnings))
			}
		}
	}
}
