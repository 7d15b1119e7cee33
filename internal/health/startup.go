// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/log"
)

// PerformStartupChecks prepares the data directory and rejects settings
// the daemon cannot run with.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.IncidentDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := checkDir(dir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}
	logger.Info().Str(log.FieldDir, cfg.DataDir).Msg("data directory is writable")

	if err := checkListenAddr("server.listen_addr", cfg.Server.ListenAddr); err != nil {
		return err
	}
	if cfg.Server.MetricsAddr != "" {
		if err := checkListenAddr("server.metrics_addr", cfg.Server.MetricsAddr); err != nil {
			return err
		}
	}

	warnWebhook(logger, cfg.Webhook.URL)
	warnTempData(logger, cfg.DataDir)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}

func checkListenAddr(key, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q in %s %q", port, key, addr)
	}
	return nil
}

// warnWebhook flags a URL the notifier will refuse. Delivery is optional,
// so this never fails startup.
func warnWebhook(logger zerolog.Logger, raw string) {
	if raw == "" {
		logger.Info().Msg("webhook notifications disabled")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logger.Warn().Str(log.FieldEvent, "startup.webhook_invalid").Msg("webhook URL is invalid; notifications will be skipped")
	}
}

func warnTempData(logger zerolog.Logger, dataDir string) {
	tempDir := filepath.Clean(os.TempDir())
	dir := filepath.Clean(dataDir)
	if tempDir != "." && (dir == tempDir || strings.HasPrefix(dir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str(log.FieldDir, dataDir).
			Msg("data directory is under temp; incident bundles may be lost on reboot")
	}
}
