// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/log"
)

// ReloadDebounce coalesces bursts of file events into one reload.
const ReloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
// It provides thread-safe access to configuration and supports hot reloading
// from file changes or an explicit trigger such as SIGHUP.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	debounce time.Duration
	done     chan struct{}

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder creates a holder with an already loaded configuration.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: ReloadDebounce,
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the file. On failure the current configuration is kept
// and the error returned; on success listeners are notified.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration, keeping current")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(prev, next)
	h.notifyListeners(next)

	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the directory of the config file, so that editors
// and atomic renames that replace the file are both seen.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.watchMu.Lock()
	h.watcher = watcher
	h.done = make(chan struct{})
	done := h.done
	h.watchMu.Unlock()

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher, filepath.Clean(path), done)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			_ = watcher.Close()
			h.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				h.stopTimer()
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			h.schedule(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				h.stopTimer()
				return
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

func (h *Holder) schedule(ctx context.Context) {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := h.Reload(ctx); err != nil {
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.auto_reload_failed").
				Msg("automatic config reload failed")
		}
	})
}

func (h *Holder) stopTimer() {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Stop closes the watcher and waits for its goroutine to exit.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	watcher, done := h.watcher, h.done
	h.watcher = nil
	h.watchMu.Unlock()

	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}

// RegisterListener registers a channel to receive config reload notifications.
// Sends never block; a full channel misses that reload.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(prev, next AppConfig) {
	if prev.TriggerPolicy() != next.TriggerPolicy() {
		h.logger.Info().
			Str("old", fmt.Sprintf("%+v", prev.TriggerPolicy())).
			Str("new", fmt.Sprintf("%+v", next.TriggerPolicy())).
			Msg("config changed: trigger")
	}
	if prev.RetentionPolicy().String() != next.RetentionPolicy().String() {
		h.logger.Info().
			Str("old", prev.RetentionPolicy().String()).
			Str("new", next.RetentionPolicy().String()).
			Msg("config changed: retention")
	}
	if (prev.Webhook.URL == "") != (next.Webhook.URL == "") {
		h.logger.Info().
			Bool("enabled", next.Webhook.URL != "").
			Msg("config changed: webhook")
	}
	if prev.LogLevel != next.LogLevel {
		h.logger.Info().Str("old", prev.LogLevel).Str("new", next.LogLevel).Msg("config changed: log_level")
	}
	if prev.Server != next.Server || prev.Heartbeat != next.Heartbeat || prev.DataDir != next.DataDir {
		h.logger.Warn().
			Str(log.FieldEvent, "config.restart_required").
			Msg("server, heartbeat and data_dir changes take effect after restart")
	}
}
