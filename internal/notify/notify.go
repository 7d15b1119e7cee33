package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
)

// Notifier matches capture.Notifier.
type Notifier interface {
	OnIncident(ctx context.Context, r incident.Report, bundlePath string)
}

// Log writes one structured line per incident, at a level matching its
// severity.
type Log struct {
	logger zerolog.Logger
}

func NewLog() *Log {
	return &Log{logger: log.WithComponent("notify")}
}

func (l *Log) OnIncident(ctx context.Context, r incident.Report, bundlePath string) {
	logger := log.WithContext(ctx, l.logger)
	logger.WithLevel(levelFor(r.Meta.Severity)).
		Str(log.FieldEvent, "incident.created").
		Str(log.FieldIncidentID, string(r.Meta.ID)).
		Str(log.FieldSeverity, string(r.Meta.Severity)).
		Str(log.FieldTrigger, r.Meta.Trigger).
		Str(log.FieldScope, r.Meta.Scope).
		Str(log.FieldBundlePath, bundlePath).
		Msg(r.Meta.Headline)
}

func levelFor(s incident.Severity) zerolog.Level {
	switch s {
	case incident.SeverityCritical:
		return zerolog.ErrorLevel
	case incident.SeverityDegraded:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// Multi fans out to every notifier in order. A panicking notifier does not
// stop the ones after it.
type Multi []Notifier

func (m Multi) OnIncident(ctx context.Context, r incident.Report, bundlePath string) {
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := safeNotify(ctx, n, r, bundlePath); err != nil {
			logger := log.WithContext(ctx, log.WithComponent("notify"))
			logger.Warn().
				Err(err).
				Str(log.FieldIncidentID, string(r.Meta.ID)).
				Str(log.FieldEvent, "notify.failed").
				Msg("notifier failed")
		}
	}
}

func safeNotify(ctx context.Context, n Notifier, r incident.Report, bundlePath string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("notifier panic: %v", rec)
		}
	}()
	n.OnIncident(ctx, r, bundlePath)
	return nil
}
