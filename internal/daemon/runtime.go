// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/capture"
	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/envinfo"
	"github.com/ManuGH/blackbox/internal/health"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/inventory"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/notify"
	"github.com/ManuGH/blackbox/internal/recorder"
	"github.com/ManuGH/blackbox/internal/retention"
	"github.com/ManuGH/blackbox/internal/trigger"
	"github.com/ManuGH/blackbox/internal/trigger/heartbeat"
	"github.com/ManuGH/blackbox/internal/worker"
)

const (
	// ServerScope is the heartbeat scope of the daemon's own loop. Manual
	// and panic captures are attributed to it.
	ServerScope = "server"

	// sweepEvery is how many ticks pass between pending-flag sweeps.
	sweepEvery = 100

	maxStackBytes = 4 << 10
)

var errScopeBusy = errors.New("scope executor busy")

// Executor runs fn on the goroutine a heartbeat scope stands for. It must
// not block; a stalled goroutine simply never runs fn.
type Executor func(fn func()) error

// Recorder is the rolling recording dumped on capture.
// *recorder.FlightRecorder implements it.
type Recorder interface {
	capture.Recorder
	Start() error
	Running() bool
	Close() error
}

// Options override collaborators. Zero values select the production ones.
type Options struct {
	Clock     clock.Clock
	Recorder  Recorder
	Transport notify.Transport
}

// Status is a point-in-time view of the runtime.
type Status struct {
	Version         string
	InstanceID      string
	StartedAt       time.Time
	Uptime          time.Duration
	DataDir         string
	IncidentDir     string
	ConfigPath      string
	Trigger         trigger.Policy
	Retention       retention.Policy
	Recorder        recorder.Config
	RecorderRunning bool
	BundleCount     int
	LastIncident    *capture.Last
	WebhookEnabled  bool
	Scopes          []heartbeat.ScopeStatus
}

// Runtime wires the capture machinery together and drives the heartbeat
// tick and stall-check loops.
type Runtime struct {
	clock     clock.Clock
	logger    zerolog.Logger
	env       *envinfo.Collector
	transport notify.Transport

	recorder Recorder
	registry *heartbeat.Registry
	detector *heartbeat.Detector
	engine   *trigger.Engine
	pipeline *capture.Pipeline
	pool     *worker.Pool

	mu      sync.RWMutex
	cfg     config.AppConfig
	webhook *notify.Webhook

	scopesMu sync.Mutex
	scopes   map[string]Executor
	pending  map[string]*atomic.Bool
	ticks    uint64

	checking atomic.Bool
	closed   atomic.Bool
	server   chan func()

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime builds every collaborator from cfg. Nothing runs until Start.
func NewRuntime(cfg config.AppConfig, opts Options) (*Runtime, error) {
	c := clock.OrReal(opts.Clock)

	rec := opts.Recorder
	if rec == nil {
		rec = recorder.New(cfg.RecorderConfig())
	}

	engine, err := trigger.NewEngine(c, cfg.TriggerPolicy())
	if err != nil {
		return nil, fmt.Errorf("trigger engine: %w", err)
	}
	registry := heartbeat.NewRegistry(c)
	detector, err := heartbeat.NewDetector(c, registry, cfg.Trigger.StallDegraded)
	if err != nil {
		return nil, fmt.Errorf("heartbeat detector: %w", err)
	}

	r := &Runtime{
		clock:     c,
		logger:    log.WithComponent("runtime"),
		env:       envinfo.New(c, cfg.DataDir, cfg.Version),
		transport: opts.Transport,
		recorder:  rec,
		registry:  registry,
		detector:  detector,
		engine:    engine,
		cfg:       cfg,
		scopes:    make(map[string]Executor),
		pending:   make(map[string]*atomic.Bool),
		server:    make(chan func(), 1),
	}
	r.logger = r.logger.With().Str(log.FieldInstanceID, r.env.InstanceID()).Logger()

	if r.webhook, err = r.newWebhook(cfg); err != nil {
		return nil, err
	}

	r.pipeline, err = capture.NewPipeline(capture.Deps{
		Clock:       c,
		IDs:         incident.NewGenerator(c),
		Evaluator:   engine,
		Recorder:    rec,
		Assembler:   bundle.NewBuilder(r.env),
		Retention:   retention.NewManager(c, nil),
		Notifier:    notify.Multi{notify.NewLog(), capture.NotifierFunc(r.notifyWebhook)},
		Extras:      capture.ExtrasFunc(r.extras),
		Summarize:   Summarize,
		IncidentDir: cfg.IncidentDir(),
		TempDir:     cfg.TempDir(),
	}, capture.Policy{Retention: cfg.RetentionPolicy()})
	if err != nil {
		return nil, fmt.Errorf("capture pipeline: %w", err)
	}

	r.pool = worker.New(worker.Config{Name: "capture-worker", Workers: 1, QueueSize: 64})
	return r, nil
}

func (r *Runtime) newWebhook(cfg config.AppConfig) (*notify.Webhook, error) {
	if strings.TrimSpace(cfg.Webhook.URL) == "" {
		return nil, nil
	}
	wh, err := notify.NewWebhook(r.clock, cfg.WebhookConfig(), r.transport, r.goAsync)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	return wh, nil
}

// goAsync hands webhook deliveries to the capture worker.
func (r *Runtime) goAsync(fn func()) error {
	return r.pool.Go(fn)
}

func (r *Runtime) notifyWebhook(ctx context.Context, rep incident.Report, bundlePath string) {
	r.mu.RLock()
	wh := r.webhook
	r.mu.RUnlock()
	if wh != nil {
		wh.OnIncident(ctx, rep, bundlePath)
	}
}

// Start begins recording and launches the server scope, tick and check
// loops.
func (r *Runtime) Start() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	if r.started {
		return ErrRuntimeStarted
	}
	if err := r.recorder.Start(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	cfg := r.Config()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true

	if err := r.RegisterScope(ServerScope, r.serverExec); err != nil {
		cancel()
		return err
	}

	r.wg.Add(3)
	go r.serveScope(ctx)
	go r.every(ctx, cfg.Heartbeat.TickInterval, r.tick)
	go r.every(ctx, cfg.Heartbeat.CheckInterval, r.check)

	r.logger.Info().
		Str(log.FieldEvent, "runtime.started").
		Str(log.FieldDir, cfg.IncidentDir()).
		Dur("tick_interval", cfg.Heartbeat.TickInterval).
		Dur("check_interval", cfg.Heartbeat.CheckInterval).
		Msg("runtime started")
	return nil
}

func (r *Runtime) every(ctx context.Context, interval time.Duration, fn func()) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// serveScope is the daemon's own monitored loop.
func (r *Runtime) serveScope(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.server:
			fn()
		}
	}
}

func (r *Runtime) serverExec(fn func()) error {
	select {
	case r.server <- fn:
		return nil
	default:
		return errScopeBusy
	}
}

// RegisterScope makes the tick loop beat scope through exec.
func (r *Runtime) RegisterScope(scope string, exec Executor) error {
	if strings.TrimSpace(scope) == "" {
		return trigger.ErrBlankScope
	}
	if exec == nil {
		return fmt.Errorf("scope %q: executor is required", scope)
	}
	r.scopesMu.Lock()
	r.scopes[scope] = exec
	r.scopesMu.Unlock()
	return nil
}

// UnregisterScope stops ticking scope and forgets its beats.
func (r *Runtime) UnregisterScope(scope string) error {
	r.scopesMu.Lock()
	_, ok := r.scopes[scope]
	delete(r.scopes, scope)
	r.scopesMu.Unlock()
	if !ok {
		return ErrUnknownScope
	}
	r.registry.Forget(scope)
	return nil
}

func (r *Runtime) registered(scope string) bool {
	r.scopesMu.Lock()
	defer r.scopesMu.Unlock()
	_, ok := r.scopes[scope]
	return ok
}

type beatJob struct {
	scope string
	exec  Executor
	flag  *atomic.Bool
}

// tick submits one beat per registered scope unless one is still queued.
func (r *Runtime) tick() {
	r.scopesMu.Lock()
	r.ticks++
	jobs := make([]beatJob, 0, len(r.scopes))
	for scope, exec := range r.scopes {
		flag := r.pending[scope]
		if flag == nil {
			flag = new(atomic.Bool)
			r.pending[scope] = flag
		}
		jobs = append(jobs, beatJob{scope: scope, exec: exec, flag: flag})
	}
	if r.ticks%sweepEvery == 0 {
		for scope := range r.pending {
			if _, ok := r.scopes[scope]; !ok {
				delete(r.pending, scope)
			}
		}
	}
	r.scopesMu.Unlock()

	for _, j := range jobs {
		if !j.flag.CompareAndSwap(false, true) {
			continue
		}
		scope, flag := j.scope, j.flag
		err := j.exec(func() {
			flag.Store(false)
			if r.registered(scope) {
				_ = r.registry.Beat(scope)
			}
		})
		if err != nil {
			flag.Store(false)
			r.logger.Debug().Err(err).Str(log.FieldScope, scope).Msg("heartbeat not scheduled")
		}
	}
}

// check runs one stall check on the worker unless one is already running.
func (r *Runtime) check() {
	if !r.checking.CompareAndSwap(false, true) {
		return
	}
	err := r.pool.Submit(func(ctx context.Context) {
		defer r.checking.Store(false)
		for _, ev := range r.detector.Check() {
			r.pipeline.Handle(ctx, ev)
		}
	})
	if err != nil {
		r.checking.Store(false)
		r.logger.Warn().Err(err).Str(log.FieldEvent, "heartbeat.check_skipped").Msg("stall check not scheduled")
	}
}

// Beat records a heartbeat for scope. External processes beat this way.
func (r *Runtime) Beat(scope string) error {
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	return r.registry.Beat(scope)
}

// CaptureManual runs a MANUAL event for the server scope through the
// pipeline. It reports false when the event was rejected or the capture
// failed.
func (r *Runtime) CaptureManual(ctx context.Context, reason string) (incident.ID, bool) {
	if r.closed.Load() {
		return "", false
	}
	var attrs map[string]string
	if strings.TrimSpace(reason) != "" {
		attrs = map[string]string{trigger.AttrReason: reason}
	}
	ev, err := trigger.NewEvent(trigger.KindManual, ServerScope, r.clock.Now(), attrs)
	if err != nil {
		return "", false
	}
	return r.pipeline.Handle(ctx, ev)
}

// RecoverAndCapture is deferred by goroutines the host wants covered. A
// recovered panic becomes a PANIC capture and is then re-raised.
//
//	defer rt.RecoverAndCapture()
func (r *Runtime) RecoverAndCapture() {
	rec := recover()
	if rec == nil {
		return
	}
	r.capturePanic(rec, debug.Stack())
	panic(rec)
}

func (r *Runtime) capturePanic(rec any, stack []byte) (incident.ID, bool) {
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}
	ev, err := trigger.NewEvent(trigger.KindPanic, ServerScope, r.clock.Now(), map[string]string{
		trigger.AttrPanic: fmt.Sprint(rec),
		trigger.AttrStack: string(stack),
	})
	if err != nil {
		return "", false
	}
	return r.pipeline.Handle(context.Background(), ev)
}

// Config returns the configuration currently applied.
func (r *Runtime) Config() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ApplyConfig swaps the hot-reloadable policies: trigger, stall threshold,
// retention and webhook. Listener addresses, intervals and the data
// directory keep their startup values. An invalid cfg changes nothing.
func (r *Runtime) ApplyConfig(cfg config.AppConfig) error {
	if err := errors.Join(
		cfg.TriggerPolicy().Validate(),
		cfg.RetentionPolicy().Validate(),
		cfg.WebhookConfig().Validate(),
	); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if cfg.WebhookConfig() != r.cfg.WebhookConfig() {
		wh, err := r.newWebhook(cfg)
		if err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
		r.webhook = wh
	}
	if err := r.engine.SetPolicy(cfg.TriggerPolicy()); err != nil {
		errs = append(errs, err)
	}
	if err := r.detector.SetThreshold(cfg.Trigger.StallDegraded); err != nil {
		errs = append(errs, err)
	}
	if err := r.pipeline.SetPolicy(capture.Policy{Retention: cfg.RetentionPolicy()}); err != nil {
		errs = append(errs, err)
	}

	keep := r.cfg
	r.cfg = cfg
	r.cfg.DataDir = keep.DataDir
	r.cfg.Server = keep.Server
	r.cfg.Heartbeat = keep.Heartbeat
	r.cfg.Recorder = keep.Recorder

	if len(errs) > 0 {
		return fmt.Errorf("apply config: %w", errors.Join(errs...))
	}
	r.logger.Info().Str(log.FieldEvent, "runtime.config_applied").Msg("policies updated")
	return nil
}

// Status collects the current configuration, policies and inventory.
func (r *Runtime) Status() (Status, error) {
	cfg := r.Config()
	r.mu.RLock()
	webhookEnabled := r.webhook != nil
	r.mu.RUnlock()

	st := Status{
		Version:         cfg.Version,
		InstanceID:      r.env.InstanceID(),
		StartedAt:       r.env.StartedAt(),
		Uptime:          r.env.Uptime(),
		DataDir:         cfg.DataDir,
		IncidentDir:     r.pipeline.IncidentDir(),
		ConfigPath:      cfg.Path,
		Trigger:         r.engine.Policy(),
		Retention:       r.pipeline.Policy().Retention,
		Recorder:        cfg.RecorderConfig(),
		RecorderRunning: r.recorder.Running(),
		WebhookEnabled:  webhookEnabled,
		Scopes:          r.detector.Snapshot(),
	}
	if last, ok := r.pipeline.Last(); ok {
		st.LastIncident = &last
	}
	n, err := inventory.Count(st.IncidentDir)
	if err != nil {
		return st, fmt.Errorf("count bundles: %w", err)
	}
	st.BundleCount = n
	return st, nil
}

// IncidentDir is where bundles are written.
func (r *Runtime) IncidentDir() string { return r.pipeline.IncidentDir() }

// RegisterHealthChecks adds the runtime's checkers to m.
func (r *Runtime) RegisterHealthChecks(m *health.Manager) {
	m.RegisterChecker(health.NewWritableDirChecker("incident_dir", r.pipeline.IncidentDir()))
	m.RegisterChecker(health.NewRecorderChecker(r.recorder.Running))
	m.RegisterChecker(health.NewHeartbeatChecker(r.detector.Snapshot, r.clock.Now))
}

// Close stops the loops, lets queued work drain until ctx ends or the
// shutdown timeout elapses, and stops the recorder. Work still queued
// after that is abandoned.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.lifeMu.Lock()
	cancel := r.cancel
	r.lifeMu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	grace := r.Config().Server.ShutdownTimeout
	if grace <= 0 {
		grace = 5 * time.Second
	}
	drainCtx, stop := context.WithTimeout(ctx, grace)
	defer stop()

	var errs []error
	if err := r.pool.Shutdown(drainCtx); err != nil {
		errs = append(errs, err)
	}
	if err := r.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	r.logger.Info().Str(log.FieldEvent, "runtime.stopped").Msg("runtime stopped")
	return errors.Join(errs...)
}
