// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/blackbox/internal/api"
	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/daemon"
	"github.com/ManuGH/blackbox/internal/health"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/telemetry"
	"github.com/ManuGH/blackbox/internal/version"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx)
		},
	}
}

func runDaemon(ctx context.Context) error {
	logger := log.WithComponent("daemon")

	cfg, loader, err := loadConfig()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, loader.Path()).
			Msg("failed to load configuration")
		return err
	}
	if logLevel == "" {
		if err := log.SetLevel(cfg.LogLevel); err != nil {
			logger.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("ignoring invalid log level")
		}
	}
	for _, w := range loader.Warnings() {
		logger.Warn().Str(log.FieldEvent, "config.clamped").Msg(w)
	}

	created, err := config.EnsureFile(cfg.Path)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, cfg.Path).Msg("could not write default config file")
	} else if created {
		logger.Info().Str(log.FieldEvent, "config.created").Str(log.FieldPath, cfg.Path).Msg("wrote default config file")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	tcfg := cfg.TelemetryConfig()
	tp, err := telemetry.NewProvider(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	rt, err := daemon.NewRuntime(cfg, daemon.Options{})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("runtime: %w", err)
	}
	if err := rt.Start(); err != nil {
		_ = rt.Close(context.Background())
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("start runtime: %w", err)
	}
	// Panics on this goroutine still produce a bundle before the process dies.
	defer rt.RecoverAndCapture()

	hm := health.NewManager(version.Version, nil)
	rt.RegisterHealthChecks(hm)

	apiCfg := api.Config{ServeMetrics: cfg.Server.MetricsAddr == ""}
	if tcfg.Enabled {
		apiCfg.TracingService = tcfg.ServiceName
	}
	deps := daemon.Deps{
		Logger:     logger,
		Config:     cfg,
		APIHandler: api.NewServer(rt, hm, apiCfg).Handler(),
	}
	if cfg.Server.MetricsAddr != "" {
		deps.MetricsHandler = api.MetricsHandler()
	}

	mgr, err := daemon.NewManager(cfg.Server, deps)
	if err != nil {
		_ = rt.Close(context.Background())
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("create manager: %w", err)
	}
	// Hooks run in reverse: the runtime drains before spans are flushed.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("runtime", rt.Close)

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr).
		Str(log.FieldDir, cfg.DataDir).
		Msg("starting blackbox")

	app := daemon.NewApp(logger, mgr, config.NewHolder(cfg, loader), rt)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "manager.failed").Msg("daemon app failed")
		return err
	}
	logger.Info().Msg("blackbox exiting")
	return nil
}
