// Package config loads the daemon configuration from a YAML file in the
// data directory, BLACKBOX_* environment variables and built-in defaults.
package config

import (
	"time"

	"github.com/ManuGH/blackbox/internal/notify"
	"github.com/ManuGH/blackbox/internal/recorder"
	"github.com/ManuGH/blackbox/internal/retention"
	"github.com/ManuGH/blackbox/internal/telemetry"
	"github.com/ManuGH/blackbox/internal/trigger"
)

// FileName is the config file name inside the data directory.
const FileName = "blackbox.yaml"

// AppConfig is the resolved, clamped configuration.
type AppConfig struct {
	Version  string
	DataDir  string
	LogLevel string

	// Path is the config file the values were read from.
	Path string

	Recorder  RecorderConfig
	Trigger   TriggerConfig
	Retention RetentionConfig
	Webhook   WebhookConfig
	Heartbeat HeartbeatConfig
	Server    ServerConfig
	Telemetry TelemetryConfig
}

type RecorderConfig struct {
	MaxAge   time.Duration
	MaxBytes int64
}

type TriggerConfig struct {
	Cooldown      time.Duration
	Debounce      time.Duration
	StallDegraded time.Duration
	StallCritical time.Duration
}

// RetentionConfig mirrors retention.Policy. A nil MaxAge keeps bundles
// regardless of age.
type RetentionConfig struct {
	MaxCount      int
	MaxTotalBytes int64
	MaxAge        *time.Duration
}

type WebhookConfig struct {
	URL            string
	Cooldown       time.Duration
	RequestTimeout time.Duration
	Username       string
}

type HeartbeatConfig struct {
	TickInterval  time.Duration
	CheckInterval time.Duration
}

type ServerConfig struct {
	ListenAddr string
	// MetricsAddr serves /metrics on a separate listener when set.
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// IncidentDir is where bundles are written.
func (c AppConfig) IncidentDir() string { return joinData(c.DataDir, "incidents") }

// TempDir holds recordings until they are bundled.
func (c AppConfig) TempDir() string { return joinData(c.DataDir, "tmp") }

func (c AppConfig) TriggerPolicy() trigger.Policy {
	return trigger.Policy{
		Cooldown:      c.Trigger.Cooldown,
		Debounce:      c.Trigger.Debounce,
		StallDegraded: c.Trigger.StallDegraded,
		StallCritical: c.Trigger.StallCritical,
	}
}

func (c AppConfig) RetentionPolicy() retention.Policy {
	p := retention.Policy{MaxCount: c.Retention.MaxCount, MaxTotalBytes: c.Retention.MaxTotalBytes}
	if c.Retention.MaxAge != nil {
		age := *c.Retention.MaxAge
		p.MaxAge = &age
	}
	return p
}

func (c AppConfig) RecorderConfig() recorder.Config {
	return recorder.Config{MaxAge: c.Recorder.MaxAge, MaxBytes: uint64(c.Recorder.MaxBytes)}
}

func (c AppConfig) WebhookConfig() notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:            c.Webhook.URL,
		Cooldown:       c.Webhook.Cooldown,
		RequestTimeout: c.Webhook.RequestTimeout,
		Username:       c.Webhook.Username,
	}
}

func (c AppConfig) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "blackbox",
		ServiceVersion: c.Version,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}

// FileConfig is the on-disk shape. Durations are Go duration strings;
// absent keys keep their defaults.
type FileConfig struct {
	DataDir   string         `yaml:"data_dir,omitempty"`
	LogLevel  string         `yaml:"log_level,omitempty"`
	Recorder  *FileRecorder  `yaml:"recorder,omitempty"`
	Trigger   *FileTrigger   `yaml:"trigger,omitempty"`
	Retention *FileRetention `yaml:"retention,omitempty"`
	Webhook   *FileWebhook   `yaml:"webhook,omitempty"`
	Heartbeat *FileHeartbeat `yaml:"heartbeat,omitempty"`
	Server    *FileServer    `yaml:"server,omitempty"`
	Telemetry *FileTelemetry `yaml:"telemetry,omitempty"`
}

type FileRecorder struct {
	MaxAge   string `yaml:"max_age,omitempty"`
	MaxBytes *int64 `yaml:"max_bytes,omitempty"`
}

type FileTrigger struct {
	Cooldown      string `yaml:"cooldown,omitempty"`
	Debounce      string `yaml:"debounce,omitempty"`
	StallDegraded string `yaml:"stall_degraded,omitempty"`
	StallCritical string `yaml:"stall_critical,omitempty"`
}

type FileRetention struct {
	MaxCount      *int   `yaml:"max_count,omitempty"`
	MaxTotalBytes *int64 `yaml:"max_total_bytes,omitempty"`
	// MaxAge accepts a duration or "none".
	MaxAge string `yaml:"max_age,omitempty"`
}

type FileWebhook struct {
	URL            *string `yaml:"url,omitempty"`
	Cooldown       string  `yaml:"cooldown,omitempty"`
	RequestTimeout string  `yaml:"request_timeout,omitempty"`
	Username       *string `yaml:"username,omitempty"`
}

type FileHeartbeat struct {
	TickInterval  string `yaml:"tick_interval,omitempty"`
	CheckInterval string `yaml:"check_interval,omitempty"`
}

type FileServer struct {
	ListenAddr      string  `yaml:"listen_addr,omitempty"`
	MetricsAddr     *string `yaml:"metrics_addr,omitempty"`
	ShutdownTimeout string  `yaml:"shutdown_timeout,omitempty"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
}
