// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/blackbox/internal/fsutil"
	"github.com/ManuGH/blackbox/internal/log"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	dataDir    string
	version    string
	logger     zerolog.Logger
	warnings   []string
}

// NewLoader creates a loader. Empty configPath means <data dir>/blackbox.yaml;
// empty dataDir falls back to BLACKBOX_DATA_DIR, then DefaultDataDir.
func NewLoader(configPath, dataDir, version string) *Loader {
	return &Loader{
		configPath: configPath,
		dataDir:    dataDir,
		version:    version,
		logger:     log.WithComponent("config"),
	}
}

// Path is the config file this loader reads.
func (l *Loader) Path() string {
	if l.configPath != "" {
		return filepath.Clean(l.configPath)
	}
	return PathFor(l.baseDataDir(DefaultDataDir))
}

// Warnings lists the values clamped by the last Load.
func (l *Loader) Warnings() []string {
	return append([]string(nil), l.warnings...)
}

func (l *Loader) baseDataDir(fallback string) string {
	if l.dataDir != "" {
		return l.dataDir
	}
	return ParseString(EnvPrefix+"DATA_DIR", fallback)
}

// Load resolves the configuration: defaults, then the file (strict), then
// environment, then clamping of out-of-range values, then validation. A
// missing file is not an error.
func (l *Loader) Load() (AppConfig, error) {
	l.warnings = nil

	cfg := Default()
	cfg.Version = l.version
	cfg.Path = l.Path()

	fileCfg, err := l.loadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.logger.Debug().Str(log.FieldPath, cfg.Path).Msg("config file not found, using defaults")
	case err != nil:
		return cfg, fmt.Errorf("load config file: %w", err)
	default:
		l.mergeFile(&cfg, fileCfg)
	}

	l.mergeEnv(&cfg)
	l.clamp(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses path strictly: unknown keys and trailing documents are
// errors.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func (l *Loader) mergeFile(cfg *AppConfig, f *FileConfig) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if r := f.Recorder; r != nil {
		l.fileDuration(&cfg.Recorder.MaxAge, r.MaxAge, "recorder.max_age")
		setIf(&cfg.Recorder.MaxBytes, r.MaxBytes)
	}
	if t := f.Trigger; t != nil {
		l.fileDuration(&cfg.Trigger.Cooldown, t.Cooldown, "trigger.cooldown")
		l.fileDuration(&cfg.Trigger.Debounce, t.Debounce, "trigger.debounce")
		l.fileDuration(&cfg.Trigger.StallDegraded, t.StallDegraded, "trigger.stall_degraded")
		l.fileDuration(&cfg.Trigger.StallCritical, t.StallCritical, "trigger.stall_critical")
	}
	if r := f.Retention; r != nil {
		setIf(&cfg.Retention.MaxCount, r.MaxCount)
		setIf(&cfg.Retention.MaxTotalBytes, r.MaxTotalBytes)
		l.maxAge(cfg, r.MaxAge, "retention.max_age")
	}
	if w := f.Webhook; w != nil {
		setIf(&cfg.Webhook.URL, w.URL)
		l.fileDuration(&cfg.Webhook.Cooldown, w.Cooldown, "webhook.cooldown")
		l.fileDuration(&cfg.Webhook.RequestTimeout, w.RequestTimeout, "webhook.request_timeout")
		setIf(&cfg.Webhook.Username, w.Username)
	}
	if h := f.Heartbeat; h != nil {
		l.fileDuration(&cfg.Heartbeat.TickInterval, h.TickInterval, "heartbeat.tick_interval")
		l.fileDuration(&cfg.Heartbeat.CheckInterval, h.CheckInterval, "heartbeat.check_interval")
	}
	if s := f.Server; s != nil {
		if s.ListenAddr != "" {
			cfg.Server.ListenAddr = s.ListenAddr
		}
		setIf(&cfg.Server.MetricsAddr, s.MetricsAddr)
		l.fileDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout")
	}
	if t := f.Telemetry; t != nil {
		setIf(&cfg.Telemetry.Enabled, t.Enabled)
		if t.Exporter != "" {
			cfg.Telemetry.Exporter = t.Exporter
		}
		if t.Endpoint != "" {
			cfg.Telemetry.Endpoint = t.Endpoint
		}
		setIf(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.baseDataDir(cfg.DataDir)
	cfg.LogLevel = ParseString(EnvPrefix+"LOG_LEVEL", ParseString("LOG_LEVEL", cfg.LogLevel))

	cfg.Recorder.MaxAge = ParseDuration(EnvPrefix+"RECORDER_MAX_AGE", cfg.Recorder.MaxAge)
	cfg.Recorder.MaxBytes = ParseInt64(EnvPrefix+"RECORDER_MAX_BYTES", cfg.Recorder.MaxBytes)

	cfg.Trigger.Cooldown = ParseDuration(EnvPrefix+"TRIGGER_COOLDOWN", cfg.Trigger.Cooldown)
	cfg.Trigger.Debounce = ParseDuration(EnvPrefix+"TRIGGER_DEBOUNCE", cfg.Trigger.Debounce)
	cfg.Trigger.StallDegraded = ParseDuration(EnvPrefix+"TRIGGER_STALL_DEGRADED", cfg.Trigger.StallDegraded)
	cfg.Trigger.StallCritical = ParseDuration(EnvPrefix+"TRIGGER_STALL_CRITICAL", cfg.Trigger.StallCritical)

	cfg.Retention.MaxCount = ParseInt(EnvPrefix+"RETENTION_MAX_COUNT", cfg.Retention.MaxCount)
	cfg.Retention.MaxTotalBytes = ParseInt64(EnvPrefix+"RETENTION_MAX_TOTAL_BYTES", cfg.Retention.MaxTotalBytes)
	if v, ok := os.LookupEnv(EnvPrefix + "RETENTION_MAX_AGE"); ok {
		l.maxAge(cfg, v, EnvPrefix+"RETENTION_MAX_AGE")
	}

	cfg.Webhook.URL = ParseString(EnvPrefix+"WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Cooldown = ParseDuration(EnvPrefix+"WEBHOOK_COOLDOWN", cfg.Webhook.Cooldown)
	cfg.Webhook.RequestTimeout = ParseDuration(EnvPrefix+"WEBHOOK_REQUEST_TIMEOUT", cfg.Webhook.RequestTimeout)
	cfg.Webhook.Username = ParseString(EnvPrefix+"WEBHOOK_USERNAME", cfg.Webhook.Username)

	cfg.Heartbeat.TickInterval = ParseDuration(EnvPrefix+"HEARTBEAT_TICK_INTERVAL", cfg.Heartbeat.TickInterval)
	cfg.Heartbeat.CheckInterval = ParseDuration(EnvPrefix+"HEARTBEAT_CHECK_INTERVAL", cfg.Heartbeat.CheckInterval)

	cfg.Server.ListenAddr = ParseString(EnvPrefix+"SERVER_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.MetricsAddr = ParseString(EnvPrefix+"SERVER_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.ShutdownTimeout = ParseDuration(EnvPrefix+"SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Telemetry.Enabled = ParseBool(EnvPrefix+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(EnvPrefix+"TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(EnvPrefix+"TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvPrefix+"TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// clamp replaces out-of-range values with their defaults and records a
// warning for each.
func (l *Loader) clamp(cfg *AppConfig) {
	def := Default()

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil || strings.TrimSpace(cfg.LogLevel) == "" {
		l.warn("log_level", "must be a known level", cfg.LogLevel, def.LogLevel)
		cfg.LogLevel = def.LogLevel
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		l.warn("data_dir", "must be non-blank", cfg.DataDir, def.DataDir)
		cfg.DataDir = def.DataDir
	}

	l.positive(&cfg.Recorder.MaxAge, def.Recorder.MaxAge, "recorder.max_age")
	if cfg.Recorder.MaxBytes <= 0 {
		l.warn("recorder.max_bytes", "must be > 0", cfg.Recorder.MaxBytes, def.Recorder.MaxBytes)
		cfg.Recorder.MaxBytes = def.Recorder.MaxBytes
	}

	l.nonNegative(&cfg.Trigger.Cooldown, def.Trigger.Cooldown, "trigger.cooldown")
	l.nonNegative(&cfg.Trigger.Debounce, def.Trigger.Debounce, "trigger.debounce")
	l.positive(&cfg.Trigger.StallDegraded, def.Trigger.StallDegraded, "trigger.stall_degraded")
	l.positive(&cfg.Trigger.StallCritical, def.Trigger.StallCritical, "trigger.stall_critical")
	if cfg.Trigger.StallCritical < cfg.Trigger.StallDegraded {
		l.warn("trigger.stall_critical", "must be >= trigger.stall_degraded", cfg.Trigger.StallCritical, cfg.Trigger.StallDegraded)
		cfg.Trigger.StallCritical = cfg.Trigger.StallDegraded
	}

	if cfg.Retention.MaxCount < 0 {
		l.warn("retention.max_count", "must be >= 0", cfg.Retention.MaxCount, def.Retention.MaxCount)
		cfg.Retention.MaxCount = def.Retention.MaxCount
	}
	if cfg.Retention.MaxTotalBytes < 0 {
		l.warn("retention.max_total_bytes", "must be >= 0", cfg.Retention.MaxTotalBytes, def.Retention.MaxTotalBytes)
		cfg.Retention.MaxTotalBytes = def.Retention.MaxTotalBytes
	}
	if cfg.Retention.MaxAge != nil && *cfg.Retention.MaxAge < 0 {
		l.warn("retention.max_age", "must be >= 0", *cfg.Retention.MaxAge, *def.Retention.MaxAge)
		cfg.Retention.MaxAge = def.Retention.MaxAge
	}

	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	l.nonNegative(&cfg.Webhook.Cooldown, def.Webhook.Cooldown, "webhook.cooldown")
	l.nonNegative(&cfg.Webhook.RequestTimeout, def.Webhook.RequestTimeout, "webhook.request_timeout")
	if strings.TrimSpace(cfg.Webhook.Username) == "" {
		l.warn("webhook.username", "must be non-blank", cfg.Webhook.Username, def.Webhook.Username)
		cfg.Webhook.Username = def.Webhook.Username
	}
	cfg.Webhook.Username = strings.TrimSpace(cfg.Webhook.Username)

	l.positive(&cfg.Heartbeat.TickInterval, def.Heartbeat.TickInterval, "heartbeat.tick_interval")
	l.positive(&cfg.Heartbeat.CheckInterval, def.Heartbeat.CheckInterval, "heartbeat.check_interval")

	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		l.warn("server.listen_addr", "must be non-blank", cfg.Server.ListenAddr, def.Server.ListenAddr)
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	l.positive(&cfg.Server.ShutdownTimeout, def.Server.ShutdownTimeout, "server.shutdown_timeout")

	switch cfg.Telemetry.Exporter {
	case "http", "grpc":
	default:
		l.warn("telemetry.exporter", "must be http or grpc", cfg.Telemetry.Exporter, def.Telemetry.Exporter)
		cfg.Telemetry.Exporter = def.Telemetry.Exporter
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		l.warn("telemetry.sampling_rate", "must be within [0, 1]", cfg.Telemetry.SamplingRate, def.Telemetry.SamplingRate)
		cfg.Telemetry.SamplingRate = def.Telemetry.SamplingRate
	}
}

// Validate reports problems that have no sensible default to fall back to.
func Validate(cfg AppConfig) error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("%w: server.listen_addr %q: %v", ErrInvalidConfig, cfg.Server.ListenAddr, err))
	}
	if cfg.Server.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("%w: server.metrics_addr %q: %v", ErrInvalidConfig, cfg.Server.MetricsAddr, err))
		}
	}
	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("%w: telemetry.endpoint is required when telemetry is enabled", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// EnsureFile writes a default config file at path unless one exists. It
// reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	data, err := Render(Default(), false)
	if err != nil {
		return false, err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// Render marshals cfg as YAML. withDataDir includes the data_dir key, which
// the default file omits because it lives inside the data directory.
func Render(cfg AppConfig, withDataDir bool) ([]byte, error) {
	f := ToFile(cfg)
	if withDataDir {
		f.DataDir = cfg.DataDir
	}
	var buf bytes.Buffer
	buf.WriteString("# blackbox configuration. Durations use Go syntax (30s, 15m, 168h).\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *Loader) fileDuration(dst *time.Duration, raw, key string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.warn(key, "must be a duration", raw, *dst)
		return
	}
	*dst = d
}

func (l *Loader) maxAge(cfg *AppConfig, raw, key string) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return
	case "none", "unlimited":
		cfg.Retention.MaxAge = nil
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.warn(key, "must be a duration or \"none\"", raw, ageString(cfg.Retention.MaxAge))
		return
	}
	cfg.Retention.MaxAge = &d
}

func (l *Loader) positive(dst *time.Duration, def time.Duration, key string) {
	if *dst <= 0 {
		l.warn(key, "must be > 0", *dst, def)
		*dst = def
	}
}

func (l *Loader) nonNegative(dst *time.Duration, def time.Duration, key string) {
	if *dst < 0 {
		l.warn(key, "must be >= 0", *dst, def)
		*dst = def
	}
}

func (l *Loader) warn(key, rule string, got, using any) {
	msg := fmt.Sprintf("config %s %s; using %v", key, rule, using)
	l.warnings = append(l.warnings, msg)
	l.logger.Warn().
		Str("key", key).
		Interface("value", got).
		Interface("default", using).
		Str(log.FieldEvent, "config.clamped").
		Msg(msg)
}

func ageString(age *time.Duration) string {
	if age == nil {
		return "none"
	}
	return age.String()
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
