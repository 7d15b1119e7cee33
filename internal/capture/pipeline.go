// Package capture turns accepted trigger events into incident bundles.
//
// A Pipeline evaluates each event, and on acceptance dumps a recording,
// writes the bundle, enforces retention, notifies and cleans up. Only the
// first part (up to the bundle write) decides the outcome; every later
// step is isolated so its failure cannot hide a bundle that exists.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/metrics"
	"github.com/ManuGH/blackbox/internal/retention"
	"github.com/ManuGH/blackbox/internal/telemetry"
	"github.com/ManuGH/blackbox/internal/trigger"
)

// Policy holds the tunables of a Pipeline.
type Policy struct {
	Retention retention.Policy
}

// Last describes the most recent incident written by a Pipeline.
type Last struct {
	ID         incident.ID
	At         time.Time
	BundlePath string
}

// Pipeline orchestrates captures. Captures are serialized: at most one
// runs at a time, from id allocation to temp cleanup.
type Pipeline struct {
	deps   Deps
	logger zerolog.Logger
	tracer trace.Tracer

	captureMu sync.Mutex

	mu     sync.RWMutex
	policy Policy
	last   *Last
}

// NewPipeline validates deps and policy.
func NewPipeline(deps Deps, policy Policy) (*Pipeline, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Retention.Validate(); err != nil {
		return nil, err
	}
	deps.withDefaults()
	return &Pipeline{
		deps:   deps,
		logger: log.WithComponent("capture"),
		tracer: telemetry.Tracer("blackbox/capture"),
		policy: policy,
	}, nil
}

// SetPolicy swaps the policy used by subsequent captures.
func (p *Pipeline) SetPolicy(policy Policy) error {
	if err := policy.Retention.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
	return nil
}

// Policy returns the active policy.
func (p *Pipeline) Policy() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// Last returns the most recent incident, if any.
func (p *Pipeline) Last() (Last, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Last{}, false
	}
	return *p.last, true
}

// IncidentDir is where bundles are written.
func (p *Pipeline) IncidentDir() string { return p.deps.IncidentDir }

// Handle runs ev through the pipeline. It returns the new incident id and
// true when a bundle was written; false when the event was rejected or the
// capture failed. Handle never panics.
func (p *Pipeline) Handle(ctx context.Context, ev trigger.Event) (incident.ID, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := p.logger.With().
		Str(log.FieldTrigger, ev.Kind().String()).
		Str(log.FieldScope, ev.Scope()).
		Logger()

	res, err := p.evaluate(ev)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "capture.evaluate_failed").Msg("trigger evaluation failed")
		return "", false
	}
	if !res.Accepted() {
		return "", false
	}

	p.captureMu.Lock()
	defer p.captureMu.Unlock()

	start := p.deps.Clock.Now()
	ctx, span := p.tracer.Start(ctx, "capture.handle",
		trace.WithAttributes(telemetry.TriggerAttributes(ev.Kind().String(), ev.Scope())...))
	defer span.End()

	out, err := p.produce(ctx, ev, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		logger.Error().Err(err).
			Str(log.FieldIncidentID, string(out.id)).
			Str(log.FieldEvent, "capture.failed").
			Msg("capture pipeline failed")
		return "", false
	}

	ctx = log.ContextWithIncidentID(ctx, string(out.id))
	logger = logger.With().Str(log.FieldIncidentID, string(out.id)).Logger()
	span.SetAttributes(telemetry.IncidentAttributes(string(out.id), string(res.Severity))...)
	if info, statErr := os.Stat(out.bundlePath); statErr == nil {
		span.SetAttributes(telemetry.BundleAttributes(out.bundlePath, info.Size())...)
	}

	metrics.IncIncident(string(res.Severity))
	metrics.ObserveCaptureDuration(p.deps.Clock.Now().Sub(start))
	p.mu.Lock()
	p.last = &Last{ID: out.id, At: out.report.Meta.CreatedAt, BundlePath: out.bundlePath}
	p.mu.Unlock()

	logger.Info().
		Str(log.FieldEvent, "capture.bundle_written").
		Str(log.FieldSeverity, string(res.Severity)).
		Str(log.FieldBundlePath, out.bundlePath).
		Msg(res.Headline)

	p.afterBundle(ctx, span, logger, out)
	return out.id, true
}

type produced struct {
	id         incident.ID
	report     incident.Report
	recording  string
	bundlePath string
}

func (p *Pipeline) evaluate(ev trigger.Event) (res trigger.Result, err error) {
	err = guard("evaluate", func() error {
		res = p.deps.Evaluator.Evaluate(ev)
		return nil
	})
	return res, err
}

// produce runs the critical path: id, report, recording, bundle. Any
// error or panic here means no incident.
func (p *Pipeline) produce(ctx context.Context, ev trigger.Event, res trigger.Result) (out produced, err error) {
	createdAt := ev.At()
	if createdAt.IsZero() {
		createdAt = p.deps.Clock.Now()
	}
	out.id = p.deps.IDs.At(createdAt)

	err = guard(metrics.StageMetadata, func() error {
		meta, err := incident.NewMetadata(out.id, createdAt, res.Severity, ev.Kind().String(), ev.Scope(), res.Headline)
		if err != nil {
			return err
		}
		out.report = incident.Report{Meta: meta, Summary: p.deps.Summarize(res, ev)}
		for _, dir := range []string{p.deps.TempDir, p.deps.IncidentDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.IncCaptureFailure(metrics.StageMetadata)
		return out, err
	}

	target := filepath.Join(p.deps.TempDir, string(out.id)+".trace")
	err = guard(metrics.StageRecording, func() error {
		path, err := p.deps.Recorder.Dump(ctx, target)
		if err != nil {
			return err
		}
		if path == "" {
			path = target
		}
		out.recording = path
		return nil
	})
	if err != nil {
		metrics.IncCaptureFailure(metrics.StageRecording)
		p.removeTemp(target)
		return out, err
	}
	trace.SpanFromContext(ctx).AddEvent("recording.dumped")

	extras := p.extras(ctx, out.report, ev)

	out.bundlePath = filepath.Join(p.deps.IncidentDir, incident.BundleFileName(out.id))
	err = guard(metrics.StageBundle, func() error {
		return p.deps.Assembler.Build(out.report, out.recording, out.bundlePath, extras)
	})
	if err != nil {
		metrics.IncCaptureFailure(metrics.StageBundle)
		p.removeTemp(out.recording)
		return out, err
	}
	trace.SpanFromContext(ctx).AddEvent("bundle.written")
	return out, nil
}

// extras asks the provider for attachments. A failing provider is logged
// and contributes nothing.
func (p *Pipeline) extras(ctx context.Context, r incident.Report, ev trigger.Event) []bundle.Attachment {
	var extras []bundle.Attachment
	err := guard(metrics.StageExtras, func() error {
		var err error
		extras, err = p.deps.Extras.Extras(ctx, r, ev)
		return err
	})
	if err != nil {
		metrics.IncCaptureFailure(metrics.StageExtras)
		logger := log.WithContext(ctx, p.logger)
		logger.Warn().Err(err).
			Str(log.FieldIncidentID, string(r.Meta.ID)).
			Str(log.FieldEvent, "capture.extras_failed").
			Msg("extras provider failed, bundling without extras")
		return nil
	}
	return extras
}

// afterBundle runs retention, notification and cleanup. Each step is
// isolated from the others and from the result.
func (p *Pipeline) afterBundle(ctx context.Context, span trace.Span, logger zerolog.Logger, out produced) {
	policy := p.Policy()

	if err := guard(metrics.StageRetention, func() error {
		stats := p.deps.Retention.Enforce(p.deps.IncidentDir, policy.Retention)
		span.AddEvent("retention.enforced")
		logger.Debug().
			Int("deleted", stats.Deleted).
			Int("failures", stats.DeleteFailures).
			Int("final_count", stats.FinalCount).
			Msg("retention enforced")
		return nil
	}); err != nil {
		metrics.IncCaptureFailure(metrics.StageRetention)
		logger.Warn().Err(err).Str(log.FieldEvent, "capture.retention_failed").Msg("retention enforcement failed")
	}

	if err := guard(metrics.StageNotify, func() error {
		p.deps.Notifier.OnIncident(ctx, out.report, out.bundlePath)
		return nil
	}); err != nil {
		metrics.IncCaptureFailure(metrics.StageNotify)
		logger.Warn().Err(err).Str(log.FieldEvent, "capture.notify_failed").Msg("incident notification failed")
	}

	if err := guard(metrics.StageCleanup, func() error {
		return removeIfExists(out.recording)
	}); err != nil {
		metrics.IncCaptureFailure(metrics.StageCleanup)
		logger.Warn().Err(err).Str(log.FieldEvent, "capture.cleanup_failed").Msg("failed to clean up temp recording")
	}
}

func (p *Pipeline) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := removeIfExists(path); err != nil {
		p.logger.Debug().Err(err).Str(log.FieldPath, path).Msg("failed to remove temp recording")
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// guard runs fn and turns a panic into an error tagged with stage.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", stage, r)
		}
	}()
	return fn()
}
