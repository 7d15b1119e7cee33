package config

import (
	"path/filepath"
	"time"
)

// DefaultDataDir is used when neither --data-dir nor BLACKBOX_DATA_DIR is set.
const DefaultDataDir = "blackbox-data"

const defaultRetentionMaxAge = 7 * 24 * time.Hour

// Default returns the configuration used for absent keys.
func Default() AppConfig {
	age := defaultRetentionMaxAge
	return AppConfig{
		DataDir:  DefaultDataDir,
		LogLevel: "info",
		Recorder: RecorderConfig{
			MaxAge:   15 * time.Minute,
			MaxBytes: 256 << 20,
		},
		Trigger: TriggerConfig{
			Cooldown:      30 * time.Second,
			Debounce:      2 * time.Second,
			StallDegraded: 2 * time.Second,
			StallCritical: 10 * time.Second,
		},
		Retention: RetentionConfig{
			MaxCount:      25,
			MaxTotalBytes: 1 << 30,
			MaxAge:        &age,
		},
		Webhook: WebhookConfig{
			Cooldown:       time.Minute,
			RequestTimeout: 10 * time.Second,
			Username:       "Blackbox",
		},
		Heartbeat: HeartbeatConfig{
			TickInterval:  50 * time.Millisecond,
			CheckInterval: 250 * time.Millisecond,
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8089",
			ShutdownTimeout: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "http",
			Endpoint:     "localhost:4318",
			SamplingRate: 1.0,
		},
	}
}

// ToFile renders cfg in its on-disk shape with every key present.
func ToFile(cfg AppConfig) FileConfig {
	maxBytes := cfg.Recorder.MaxBytes
	maxCount := cfg.Retention.MaxCount
	maxTotal := cfg.Retention.MaxTotalBytes
	maxAge := ageString(cfg.Retention.MaxAge)
	url := cfg.Webhook.URL
	username := cfg.Webhook.Username
	metricsAddr := cfg.Server.MetricsAddr
	enabled := cfg.Telemetry.Enabled
	rate := cfg.Telemetry.SamplingRate

	return FileConfig{
		LogLevel: cfg.LogLevel,
		Recorder: &FileRecorder{MaxAge: cfg.Recorder.MaxAge.String(), MaxBytes: &maxBytes},
		Trigger: &FileTrigger{
			Cooldown:      cfg.Trigger.Cooldown.String(),
			Debounce:      cfg.Trigger.Debounce.String(),
			StallDegraded: cfg.Trigger.StallDegraded.String(),
			StallCritical: cfg.Trigger.StallCritical.String(),
		},
		Retention: &FileRetention{MaxCount: &maxCount, MaxTotalBytes: &maxTotal, MaxAge: maxAge},
		Webhook: &FileWebhook{
			URL:            &url,
			Cooldown:       cfg.Webhook.Cooldown.String(),
			RequestTimeout: cfg.Webhook.RequestTimeout.String(),
			Username:       &username,
		},
		Heartbeat: &FileHeartbeat{
			TickInterval:  cfg.Heartbeat.TickInterval.String(),
			CheckInterval: cfg.Heartbeat.CheckInterval.String(),
		},
		Server: &FileServer{
			ListenAddr:      cfg.Server.ListenAddr,
			MetricsAddr:     &metricsAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.String(),
		},
		Telemetry: &FileTelemetry{
			Enabled:      &enabled,
			Exporter:     cfg.Telemetry.Exporter,
			Endpoint:     cfg.Telemetry.Endpoint,
			SamplingRate: &rate,
		},
	}
}

// PathFor returns the config file location inside dataDir.
func PathFor(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

func joinData(dataDir, name string) string {
	return filepath.Join(dataDir, name)
}
