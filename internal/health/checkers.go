package health

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/blackbox/internal/trigger/heartbeat"
)

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string                          { return c.name }
func (c *CheckerFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// WritableDirChecker verifies that a directory exists and accepts new files.
type WritableDirChecker struct {
	name string
	path string
}

func NewWritableDirChecker(name, path string) *WritableDirChecker {
	return &WritableDirChecker{name: name, path: path}
}

func (c *WritableDirChecker) Name() string { return c.name }

func (c *WritableDirChecker) Check(context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file", Message: c.path}
	}

	probe, err := os.CreateTemp(c.path, ".write_test-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "directory is not writable"}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return CheckResult{Status: StatusHealthy, Message: "directory is writable"}
}

// RecorderChecker reports whether the flight recorder is running. A stopped
// recorder makes every capture fail, so it is unhealthy.
type RecorderChecker struct {
	running func() bool
}

func NewRecorderChecker(running func() bool) *RecorderChecker {
	return &RecorderChecker{running: running}
}

func (c *RecorderChecker) Name() string { return "recorder" }

func (c *RecorderChecker) Check(context.Context) CheckResult {
	if !c.running() {
		return CheckResult{Status: StatusUnhealthy, Message: "flight recorder is not running"}
	}
	return CheckResult{Status: StatusHealthy, Message: "flight recorder is running"}
}

// HeartbeatChecker is degraded while any scope is stalled.
type HeartbeatChecker struct {
	snapshot func() []heartbeat.ScopeStatus
	now      func() time.Time
}

func NewHeartbeatChecker(snapshot func() []heartbeat.ScopeStatus, now func() time.Time) *HeartbeatChecker {
	if now == nil {
		now = time.Now
	}
	return &HeartbeatChecker{snapshot: snapshot, now: now}
}

func (c *HeartbeatChecker) Name() string { return "heartbeats" }

func (c *HeartbeatChecker) Check(context.Context) CheckResult {
	scopes := c.snapshot()
	var stalled []string
	for _, s := range scopes {
		if s.Stalled {
			stalled = append(stalled, fmt.Sprintf("%s (%dms)", s.Scope, c.now().Sub(s.LastBeat).Milliseconds()))
		}
	}
	if len(stalled) > 0 {
		return CheckResult{Status: StatusDegraded, Message: "stalled: " + strings.Join(stalled, ", ")}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d scopes beating", len(scopes))}
}
