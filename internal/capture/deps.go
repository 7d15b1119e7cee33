package capture

import (
	"errors"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
)

var (
	ErrMissingEvaluator   = errors.New("capture: trigger evaluator is required")
	ErrMissingRecorder    = errors.New("capture: recorder is required")
	ErrMissingAssembler   = errors.New("capture: bundle assembler is required")
	ErrMissingEnforcer    = errors.New("capture: retention enforcer is required")
	ErrMissingIncidentDir = errors.New("capture: incident directory is required")
	ErrMissingTempDir     = errors.New("capture: temp directory is required")
)

// Deps are the collaborators of a Pipeline. Clock, IDs, Notifier, Extras
// and Summarize are optional.
type Deps struct {
	Clock     clock.Clock
	IDs       *incident.Generator
	Evaluator Evaluator
	Recorder  Recorder
	Assembler Assembler
	Retention Enforcer
	Notifier  Notifier
	Extras    ExtrasProvider
	Summarize Summarizer

	// IncidentDir receives bundles; TempDir holds recordings until they
	// are packaged.
	IncidentDir string
	TempDir     string
}

// Validate checks that required collaborators are present.
func (d *Deps) Validate() error {
	switch {
	case d.Evaluator == nil:
		return ErrMissingEvaluator
	case d.Recorder == nil:
		return ErrMissingRecorder
	case d.Assembler == nil:
		return ErrMissingAssembler
	case d.Retention == nil:
		return ErrMissingEnforcer
	case d.IncidentDir == "":
		return ErrMissingIncidentDir
	case d.TempDir == "":
		return ErrMissingTempDir
	}
	return nil
}

func (d *Deps) withDefaults() {
	d.Clock = clock.OrReal(d.Clock)
	if d.IDs == nil {
		d.IDs = incident.NewGenerator(d.Clock)
	}
	if d.Notifier == nil {
		d.Notifier = NoopNotifier
	}
	if d.Extras == nil {
		d.Extras = NoExtras
	}
	if d.Summarize == nil {
		d.Summarize = DefaultSummary
	}
}
