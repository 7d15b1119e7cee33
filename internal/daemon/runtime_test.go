package daemon

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/health"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/inventory"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu      sync.Mutex
	running bool
	closed  bool
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeRecorder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRecorder) Dump(_ context.Context, target string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", err
	}
	return target, os.WriteFile(target, []byte("trace"), 0o600)
}

func (f *fakeRecorder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.closed = true
	return nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	return cfg
}

func newRuntime(t *testing.T, cfg config.AppConfig) (*Runtime, *clock.Manual, *fakeRecorder) {
	t.Helper()
	c := clock.NewManual(t0)
	rec := &fakeRecorder{}
	rt, err := NewRuntime(cfg, Options{Clock: c, Recorder: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt, c, rec
}

func TestCaptureManualWritesBundle(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))

	id, ok := rt.CaptureManual(context.Background(), "lag spike")
	require.True(t, ok)

	d, err := inventory.Show(rt.IncidentDir(), id)
	require.NoError(t, err)
	assert.Equal(t, "Manual capture: lag spike", d.Report.Meta.Headline)
	assert.Equal(t, incident.SeverityInfo, d.Report.Meta.Severity)
	assert.Equal(t, ServerScope, d.Report.Meta.Scope)
	assert.Equal(t, "Operator request", d.Report.Summary.LikelyCause)

	entries, err := bundle.Entries(d.Path)
	require.NoError(t, err)
	assert.Contains(t, entries, extrasRuntime)
	assert.Contains(t, entries, extrasScopes)
	assert.Contains(t, entries, extrasTrigger)
}

func TestCaptureManualHonoursCooldown(t *testing.T) {
	rt, c, _ := newRuntime(t, testConfig(t))
	ctx := context.Background()

	_, ok := rt.CaptureManual(ctx, "")
	require.True(t, ok)
	_, ok = rt.CaptureManual(ctx, "again")
	assert.False(t, ok)

	c.Advance(31 * time.Second)
	_, ok = rt.CaptureManual(ctx, "later")
	assert.True(t, ok)

	n, err := inventory.Count(rt.IncidentDir())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCaptureAfterCloseIsRejected(t *testing.T) {
	rt, _, rec := newRuntime(t, testConfig(t))
	require.NoError(t, rt.Close(context.Background()))
	assert.True(t, rec.closed)

	_, ok := rt.CaptureManual(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, rt.Beat("ext"), ErrRuntimeClosed)
	assert.ErrorIs(t, rt.Start(), ErrRuntimeClosed)
	assert.NoError(t, rt.Close(context.Background()))
}

// queueExec collects submitted beats without running them, like a loop
// that is currently busy.
type queueExec struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queueExec) exec(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
	return nil
}

func (q *queueExec) runAll() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (q *queueExec) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

func TestTickQueuesAtMostOneBeatPerScope(t *testing.T) {
	rt, c, _ := newRuntime(t, testConfig(t))
	q := &queueExec{}
	require.NoError(t, rt.RegisterScope("loop", q.exec))

	rt.tick()
	rt.tick()
	rt.tick()
	assert.Equal(t, 1, q.len())
	_, ok := rt.registry.LastBeat("loop")
	assert.False(t, ok)

	c.Advance(time.Second)
	q.runAll()
	last, ok := rt.registry.LastBeat("loop")
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), last)

	rt.tick()
	assert.Equal(t, 1, q.len())
}

func TestTickSweepsPendingFlagsOfUnregisteredScopes(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	q := &queueExec{}
	require.NoError(t, rt.RegisterScope("loop", q.exec))
	rt.tick()
	require.NoError(t, rt.UnregisterScope("loop"))

	for i := 1; i < sweepEvery; i++ {
		rt.tick()
	}
	rt.scopesMu.Lock()
	_, ok := rt.pending["loop"]
	rt.scopesMu.Unlock()
	assert.False(t, ok)
}

func TestQueuedBeatAfterUnregisterIsDropped(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	q := &queueExec{}
	require.NoError(t, rt.RegisterScope("loop", q.exec))
	rt.tick()
	require.NoError(t, rt.UnregisterScope("loop"))

	q.runAll()
	_, ok := rt.registry.LastBeat("loop")
	assert.False(t, ok)
	assert.ErrorIs(t, rt.UnregisterScope("loop"), ErrUnknownScope)
}

func TestRegisterScopeValidation(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	assert.Error(t, rt.RegisterScope(" ", func(fn func()) error { return nil }))
	assert.Error(t, rt.RegisterScope("loop", nil))
}

func TestCheckCapturesStall(t *testing.T) {
	rt, c, _ := newRuntime(t, testConfig(t))
	require.NoError(t, rt.Beat("ingest"))

	c.Advance(11 * time.Second)
	rt.check()
	require.NoError(t, rt.Close(context.Background()))

	entries, err := inventory.List(rt.IncidentDir(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	r, err := bundle.ReadReport(entries[0].Path)
	require.NoError(t, err)
	assert.Equal(t, incident.SeverityCritical, r.Meta.Severity)
	assert.Equal(t, "ingest", r.Meta.Scope)
	assert.Equal(t, "Heartbeat stalled ingest (11000ms)", r.Meta.Headline)
}

func TestRecoverAndCaptureRepanics(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))

	assert.PanicsWithValue(t, "boom", func() {
		defer rt.RecoverAndCapture()
		panic("boom")
	})

	last, ok := rt.pipeline.Last()
	require.True(t, ok)
	r, err := bundle.ReadReport(last.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, "PANIC", r.Meta.Trigger)
	assert.Equal(t, "Panic recovered: boom", r.Meta.Headline)
	assert.Equal(t, incident.SeverityCritical, r.Meta.Severity)
}

func TestRecoverAndCaptureWithoutPanic(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	assert.NotPanics(t, func() {
		defer rt.RecoverAndCapture()
	})
	_, ok := rt.pipeline.Last()
	assert.False(t, ok)
}

func TestPanicStackIsTruncated(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	stack := []byte(strings.Repeat("x", 3*maxStackBytes))

	_, ok := rt.capturePanic("boom", stack)
	require.True(t, ok)
	last, ok := rt.pipeline.Last()
	require.True(t, ok)

	text := readEntry(t, last.BundlePath, extrasTrigger)
	assert.Contains(t, text, "kind: PANIC")
	assert.Contains(t, text, "panic: boom")
	assert.Contains(t, text, strings.Repeat("x", maxStackBytes))
	assert.NotContains(t, text, strings.Repeat("x", maxStackBytes+1))
}

func readEntry(t *testing.T, path, name string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	f, err := zr.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	rt, _, _ := newRuntime(t, cfg)

	next := cfg
	next.Trigger.Cooldown = time.Minute
	next.Retention.MaxCount = 3
	next.Webhook.URL = "https://hooks.example.com/x"
	next.Server.ListenAddr = "127.0.0.1:9999"
	require.NoError(t, rt.ApplyConfig(next))

	st, err := rt.Status()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, st.Trigger.Cooldown)
	assert.Equal(t, 3, st.Retention.MaxCount)
	assert.True(t, st.WebhookEnabled)
	assert.Equal(t, cfg.Server.ListenAddr, rt.Config().Server.ListenAddr)

	bad := next
	bad.Trigger.StallDegraded = 0
	assert.Error(t, rt.ApplyConfig(bad))
}

func TestStatus(t *testing.T) {
	cfg := testConfig(t)
	rt, _, _ := newRuntime(t, cfg)

	st, err := rt.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, 0, st.BundleCount)
	assert.Nil(t, st.LastIncident)
	assert.False(t, st.WebhookEnabled)
	assert.False(t, st.RecorderRunning)
	assert.NotEmpty(t, st.InstanceID)

	id, ok := rt.CaptureManual(context.Background(), "")
	require.True(t, ok)
	st, err = rt.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, st.BundleCount)
	require.NotNil(t, st.LastIncident)
	assert.Equal(t, id, st.LastIncident.ID)
}

func TestStartBeatsServerScope(t *testing.T) {
	cfg := testConfig(t)
	cfg.Heartbeat.TickInterval = 5 * time.Millisecond
	cfg.Heartbeat.CheckInterval = 5 * time.Millisecond
	rt, err := NewRuntime(cfg, Options{Recorder: &fakeRecorder{}})
	require.NoError(t, err)

	require.NoError(t, rt.Start())
	assert.ErrorIs(t, rt.Start(), ErrRuntimeStarted)
	assert.True(t, rt.recorder.Running())

	require.Eventually(t, func() bool {
		_, ok := rt.registry.LastBeat(ServerScope)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Close(context.Background()))
	assert.False(t, rt.recorder.Running())
}

func TestRegisterHealthChecks(t *testing.T) {
	rt, _, _ := newRuntime(t, testConfig(t))
	require.NoError(t, os.MkdirAll(rt.IncidentDir(), 0o750))

	m := health.NewManager("test", nil)
	rt.RegisterHealthChecks(m)
	resp := m.Health(context.Background(), true)
	assert.Contains(t, resp.Checks, "incident_dir")
	assert.Contains(t, resp.Checks, "recorder")
	assert.Contains(t, resp.Checks, "heartbeats")
	assert.Equal(t, health.StatusUnhealthy, resp.Checks["recorder"].Status)
}
