package heartbeat

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/metrics"
	"github.com/ManuGH/blackbox/internal/trigger"
)

type scopeState struct {
	lastSeen time.Time
	stalled  bool
}

// ScopeStatus is a read-only view of one scope for status output.
type ScopeStatus struct {
	Scope    string
	LastBeat time.Time
	Stalled  bool
}

// Detector emits one heartbeat-stall event per stall episode: on the
// transition into a stall, never per tick and never on recovery.
type Detector struct {
	clock    clock.Clock
	registry *Registry
	logger   zerolog.Logger

	mu        sync.Mutex
	threshold time.Duration
	state     map[string]*scopeState
}

// NewDetector returns a detector flagging scopes whose last beat is at
// least threshold old.
func NewDetector(c clock.Clock, registry *Registry, threshold time.Duration) (*Detector, error) {
	if registry == nil {
		return nil, fmt.Errorf("heartbeat: registry is required")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: stall threshold must be > 0", trigger.ErrInvalidPolicy)
	}
	return &Detector{
		clock:     clock.OrReal(c),
		registry:  registry,
		logger:    log.WithComponent("heartbeat"),
		threshold: threshold,
		state:     make(map[string]*scopeState),
	}, nil
}

// SetThreshold changes the stall threshold for subsequent checks.
func (d *Detector) SetThreshold(threshold time.Duration) error {
	if threshold <= 0 {
		return fmt.Errorf("%w: stall threshold must be > 0", trigger.ErrInvalidPolicy)
	}
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
	return nil
}

// Check inspects every registered scope once and returns the stall events
// for scopes that just entered a stall.
func (d *Detector) Check() []trigger.Event {
	now := d.clock.Now()
	scopes := d.registry.Scopes()

	d.mu.Lock()
	defer d.mu.Unlock()

	var events []trigger.Event
	live := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		live[scope] = struct{}{}
		last, ok := d.registry.LastBeat(scope)
		if !ok {
			continue
		}
		st := d.state[scope]
		if st == nil {
			st = &scopeState{}
			d.state[scope] = st
		}
		// A fresh beat always ends the current episode.
		if st.lastSeen.IsZero() || last.After(st.lastSeen) {
			st.lastSeen = last
			st.stalled = false
		}

		stall := now.Sub(last)
		switch {
		case stall >= d.threshold && !st.stalled:
			st.stalled = true
			stallMs := stall.Milliseconds()
			ev, err := trigger.NewEvent(trigger.KindHeartbeatStall, scope, now, map[string]string{
				trigger.AttrStallMs: strconv.FormatInt(stallMs, 10),
			})
			if err != nil {
				continue
			}
			metrics.IncHeartbeatStall()
			d.logger.Warn().
				Str(log.FieldEvent, "heartbeat.stall_detected").
				Str(log.FieldScope, scope).
				Int64(log.FieldStallMs, stallMs).
				Msg("heartbeat stalled")
			events = append(events, ev)
		case stall < d.threshold && st.stalled:
			st.stalled = false
			d.logger.Info().
				Str(log.FieldEvent, "heartbeat.recovered").
				Str(log.FieldScope, scope).
				Msg("heartbeat recovered")
		}
	}

	for scope := range d.state {
		if _, ok := live[scope]; !ok {
			delete(d.state, scope)
		}
	}
	return events
}

// Snapshot reports every registered scope with its last beat and whether
// it is currently inside a stall episode.
func (d *Detector) Snapshot() []ScopeStatus {
	scopes := d.registry.Scopes()
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ScopeStatus, 0, len(scopes))
	for _, scope := range scopes {
		last, ok := d.registry.LastBeat(scope)
		if !ok {
			continue
		}
		st := ScopeStatus{Scope: scope, LastBeat: last}
		if s := d.state[scope]; s != nil && !last.After(s.lastSeen) {
			st.Stalled = s.stalled
		}
		out = append(out, st)
	}
	return out
}
