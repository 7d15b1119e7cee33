// Package heartbeat tracks liveness signals per scope and turns stale
// signals into heartbeat-stall trigger events.
package heartbeat

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/metrics"
	"github.com/ManuGH/blackbox/internal/trigger"
)

// Registry stores the last beat per scope. Any number of goroutines may
// beat concurrently.
type Registry struct {
	clock clock.Clock

	mu    sync.RWMutex
	beats map[string]time.Time
}

// NewRegistry returns an empty registry reading time from c.
func NewRegistry(c clock.Clock) *Registry {
	return &Registry{clock: clock.OrReal(c), beats: make(map[string]time.Time)}
}

// Beat records a heartbeat for scope at the current time, overwriting
// whatever was recorded before.
func (r *Registry) Beat(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return trigger.ErrBlankScope
	}
	now := r.clock.Now()
	r.mu.Lock()
	_, known := r.beats[scope]
	r.beats[scope] = now
	n := len(r.beats)
	r.mu.Unlock()
	if !known {
		metrics.SetHeartbeatScopes(n)
	}
	return nil
}

// LastBeat returns the last recorded beat for scope.
func (r *Registry) LastBeat(scope string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.beats[scope]
	return t, ok
}

// Scopes returns every known scope in sorted order.
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.beats))
	for s := range r.beats {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Forget drops a scope, e.g. when the unit it monitors shuts down.
func (r *Registry) Forget(scope string) {
	r.mu.Lock()
	delete(r.beats, scope)
	n := len(r.beats)
	r.mu.Unlock()
	metrics.SetHeartbeatScopes(n)
}
