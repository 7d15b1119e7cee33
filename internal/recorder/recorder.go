// Package recorder keeps a rolling in-memory execution trace of the
// process and dumps it on demand.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/trace"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/fsutil"
	"github.com/ManuGH/blackbox/internal/log"
)

var (
	ErrNotStarted = errors.New("recorder not started")
	ErrClosed     = errors.New("recorder closed")
)

// Config sizes the rolling window. The runtime keeps at least MaxAge of
// trace data, bounded by roughly MaxBytes.
type Config struct {
	MaxAge   time.Duration
	MaxBytes uint64
}

// DefaultConfig returns the default rolling window.
func DefaultConfig() Config {
	return Config{MaxAge: 15 * time.Minute, MaxBytes: 256 << 20}
}

// FlightRecorder wraps runtime/trace.FlightRecorder. Dumps are serialized
// because the runtime allows only one snapshot at a time.
type FlightRecorder struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	fr     *trace.FlightRecorder
	closed bool
}

// New returns a stopped recorder.
func New(cfg Config) *FlightRecorder {
	return &FlightRecorder{cfg: cfg, logger: log.WithComponent("recorder")}
}

// Start begins recording. Calling Start on a running recorder is a no-op.
func (r *FlightRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.fr != nil && r.fr.Enabled() {
		return nil
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   r.cfg.MaxAge,
		MaxBytes: r.cfg.MaxBytes,
	})
	if err := fr.Start(); err != nil {
		return fmt.Errorf("start flight recorder: %w", err)
	}
	r.fr = fr
	r.logger.Info().
		Str(log.FieldEvent, "recorder.started").
		Dur("max_age", r.cfg.MaxAge).
		Uint64("max_bytes", r.cfg.MaxBytes).
		Msg("flight recorder started")
	return nil
}

// Running reports whether the recorder is capturing.
func (r *FlightRecorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil && r.fr.Enabled()
}

// Dump writes the current window to target, creating parent directories,
// and returns target.
func (r *FlightRecorder) Dump(ctx context.Context, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if r.fr == nil || !r.fr.Enabled() {
		return "", ErrNotStarted
	}

	var written int64
	err := fsutil.WriteAtomic(target, 0o600, func(w io.Writer) error {
		n, err := r.fr.WriteTo(w)
		written = n
		return err
	})
	if err != nil {
		return "", fmt.Errorf("dump flight recorder: %w", err)
	}
	logger := log.WithContext(ctx, r.logger)
	logger.Debug().
		Str(log.FieldPath, target).
		Int64("bytes", written).
		Msg("flight recorder dumped")
	return target, nil
}

// Close stops recording. Further dumps fail with ErrClosed.
func (r *FlightRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.fr != nil && r.fr.Enabled() {
		r.fr.Stop()
	}
	r.fr = nil
	return nil
}
