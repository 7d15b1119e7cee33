package capture

import (
	"context"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/retention"
	"github.com/ManuGH/blackbox/internal/trigger"
)

// Recorder dumps the current diagnostic recording to target, creating
// parent directories as needed, and returns the path written.
type Recorder interface {
	Dump(ctx context.Context, target string) (string, error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, target string) (string, error)

func (f RecorderFunc) Dump(ctx context.Context, target string) (string, error) { return f(ctx, target) }

// Notifier is told about every written bundle. Implementations must not
// block on delivery; the pipeline does not wait for confirmation.
type Notifier interface {
	OnIncident(ctx context.Context, r incident.Report, bundlePath string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r incident.Report, bundlePath string)

func (f NotifierFunc) OnIncident(ctx context.Context, r incident.Report, bundlePath string) {
	f(ctx, r, bundlePath)
}

// NoopNotifier discards notifications.
var NoopNotifier Notifier = NotifierFunc(func(context.Context, incident.Report, string) {})

// ExtrasProvider supplies host-specific attachments for a bundle.
type ExtrasProvider interface {
	Extras(ctx context.Context, r incident.Report, ev trigger.Event) ([]bundle.Attachment, error)
}

// ExtrasFunc adapts a function to ExtrasProvider.
type ExtrasFunc func(ctx context.Context, r incident.Report, ev trigger.Event) ([]bundle.Attachment, error)

func (f ExtrasFunc) Extras(ctx context.Context, r incident.Report, ev trigger.Event) ([]bundle.Attachment, error) {
	return f(ctx, r, ev)
}

// NoExtras contributes nothing.
var NoExtras ExtrasProvider = ExtrasFunc(func(context.Context, incident.Report, trigger.Event) ([]bundle.Attachment, error) {
	return nil, nil
})

// Evaluator gates events. *trigger.Engine implements it.
type Evaluator interface {
	Evaluate(ev trigger.Event) trigger.Result
}

// Assembler writes a bundle. *bundle.Builder implements it.
type Assembler interface {
	Build(r incident.Report, recordingPath, outputPath string, extras []bundle.Attachment) error
}

// Enforcer prunes the bundle directory. *retention.Manager implements it.
type Enforcer interface {
	Enforce(dir string, p retention.Policy) retention.Stats
}

// Summarizer writes the human-facing part of a report.
type Summarizer func(res trigger.Result, ev trigger.Event) incident.Summary

// DefaultSummary is used when no Summarizer is configured.
func DefaultSummary(_ trigger.Result, ev trigger.Event) incident.Summary {
	return incident.NewSummary(
		"Unknown",
		[]string{"Triggered by " + ev.Kind().String()},
		[]string{"Review the incident report and recording."},
	)
}
