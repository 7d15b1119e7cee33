package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/metrics"
)

// Engine applies cooldown and debounce to trigger events. It is safe for
// concurrent use: each evaluation, including the timestamp update on
// acceptance, happens under one lock.
type Engine struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu             sync.Mutex
	policy         Policy
	lastAccepted   time.Time
	lastAcceptedBy map[string]time.Time
}

// NewEngine validates policy and returns an Engine.
func NewEngine(c clock.Clock, policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		clock:          clock.OrReal(c),
		logger:         log.WithComponent("trigger"),
		policy:         policy,
		lastAcceptedBy: make(map[string]time.Time),
	}, nil
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// SetPolicy swaps the active policy. Timers already recorded are kept and
// measured against the new windows.
func (e *Engine) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
	return nil
}

// Evaluate decides whether ev becomes an incident. Cooldown is checked
// before debounce and rejections never move either timer.
func (e *Engine) Evaluate(ev Event) Result {
	now := ev.At()
	if now.IsZero() {
		now = e.clock.Now()
	}

	res := e.evaluate(ev, now)
	metrics.IncTriggerDecision(string(ev.Kind()), string(res.Decision))

	evt := e.logger.Debug()
	if res.Accepted() {
		evt = e.logger.Info()
	}
	evt.Str(log.FieldEvent, "trigger.evaluated").
		Str(log.FieldTrigger, string(ev.Kind())).
		Str(log.FieldScope, ev.Scope()).
		Str(log.FieldDecision, string(res.Decision)).
		Str(log.FieldSeverity, string(res.Severity)).
		Msg(res.Headline)
	return res
}

func (e *Engine) evaluate(ev Event, now time.Time) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastAccepted.IsZero() && now.Before(e.lastAccepted.Add(e.policy.Cooldown)) {
		return Result{Decision: DecisionCooldown, Severity: incident.SeverityInfo, Headline: "Rejected: cooldown active"}
	}

	key := ev.key()
	if last, ok := e.lastAcceptedBy[key]; ok && now.Before(last.Add(e.policy.Debounce)) {
		return Result{Decision: DecisionDebounce, Severity: incident.SeverityInfo, Headline: "Rejected: debounce active"}
	}

	res := e.classify(ev)
	e.lastAccepted = now
	e.lastAcceptedBy[key] = now
	return res
}

func (e *Engine) classify(ev Event) Result {
	switch ev.Kind() {
	case KindManual:
		headline := "Manual capture"
		if reason, _ := ev.Attr(AttrReason); strings.TrimSpace(reason) != "" {
			headline += ": " + reason
		}
		return Result{Decision: DecisionAccept, Severity: incident.SeverityInfo, Headline: headline}

	case KindHeartbeatStall:
		stall := StallDuration(ev)
		severity := incident.SeverityInfo
		switch {
		case stall >= e.policy.StallCritical:
			severity = incident.SeverityCritical
		case stall >= e.policy.StallDegraded:
			severity = incident.SeverityDegraded
		}
		return Result{
			Decision: DecisionAccept,
			Severity: severity,
			Headline: fmt.Sprintf("Heartbeat stalled %s (%dms)", ev.Scope(), stall.Milliseconds()),
		}

	case KindPanic:
		headline := "Panic recovered"
		if msg, _ := ev.Attr(AttrPanic); msg != "" {
			headline += ": " + firstLine(msg)
		}
		return Result{Decision: DecisionAccept, Severity: incident.SeverityCritical, Headline: headline}
	}
	return Result{Decision: DecisionAccept, Severity: incident.SeverityInfo, Headline: "Capture triggered"}
}

// StallDuration reads the stallMs attribute. Missing or unparseable values
// count as zero.
func StallDuration(ev Event) time.Duration {
	raw, ok := ev.Attr(AttrStallMs)
	if !ok {
		return 0
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
