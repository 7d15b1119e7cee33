package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/api/middleware"
	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/capture"
	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/daemon"
	"github.com/ManuGH/blackbox/internal/health"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/trigger"
	"github.com/ManuGH/blackbox/internal/trigger/heartbeat"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeRuntime struct {
	dir string

	mu        sync.Mutex
	captured  []string
	captureOK bool
	beats     []string
	beatErr   error
	status    daemon.Status
	statErr   error
}

func (f *fakeRuntime) Status() (daemon.Status, error) { return f.status, f.statErr }
func (f *fakeRuntime) IncidentDir() string            { return f.dir }

func (f *fakeRuntime) CaptureManual(_ context.Context, reason string) (incident.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, reason)
	if !f.captureOK {
		return "", false
	}
	return incident.NewGenerator(clock.NewManual(t0)).Next(), true
}

func (f *fakeRuntime) Beat(scope string) error {
	if f.beatErr != nil {
		return f.beatErr
	}
	if strings.TrimSpace(scope) == "" {
		return trigger.ErrBlankScope
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats = append(f.beats, scope)
	return nil
}

func writeBundle(t *testing.T, dir string, at time.Time, headline string) incident.ID {
	t.Helper()
	id := incident.NewGenerator(clock.NewManual(at)).Next()
	meta, err := incident.NewMetadata(id, at, incident.SeverityInfo, "MANUAL", "server", headline)
	require.NoError(t, err)
	r := incident.Report{Meta: meta, Summary: incident.NewSummary("Operator request", nil, nil)}

	rec := filepath.Join(t.TempDir(), "recording.trace")
	require.NoError(t, os.WriteFile(rec, []byte("trace"), 0o600))
	b := bundle.NewBuilder(bundle.EnvSourceFunc(func() []bundle.Attachment { return nil }))
	require.NoError(t, b.Build(r, rec, filepath.Join(dir, incident.BundleFileName(id)), nil))
	return id
}

func newTestServer(t *testing.T, rt *fakeRuntime, cfg Config) http.Handler {
	t.Helper()
	if rt.dir == "" {
		rt.dir = t.TempDir()
	}
	return NewServer(rt, health.NewManager("test", nil), cfg).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{}, Config{})

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestMetricsMountedOnlyWhenEnabled(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeRuntime{}, Config{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newTestServer(t, &fakeRuntime{}, Config{ServeMetrics: true}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blackbox_http_requests_in_flight")
}

func TestStatus(t *testing.T) {
	age := 7 * 24 * time.Hour
	rt := &fakeRuntime{status: daemon.Status{
		Version:     "1.2.3",
		InstanceID:  "abc",
		StartedAt:   t0,
		Uptime:      90 * time.Second,
		BundleCount: 2,
		Trigger:     trigger.Policy{Cooldown: 30 * time.Second, Debounce: 2 * time.Second, StallDegraded: 2 * time.Second, StallCritical: 10 * time.Second},
		LastIncident: &capture.Last{
			ID: "20261019-120000.000+0000-000001",
			At: t0,
		},
		Scopes: []heartbeat.ScopeStatus{{Scope: "server", LastBeat: t0, Stalled: true}},
	}}
	rt.status.Retention.MaxCount = 25
	rt.status.Retention.MaxAge = &age
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[StatusResponse](t, rec)
	assert.Equal(t, "1.2.3", st.Version)
	assert.Equal(t, int64(90), st.UptimeSeconds)
	assert.Equal(t, 2, st.BundleCount)
	assert.Equal(t, int64(30000), st.Trigger.CooldownMs)
	require.NotNil(t, st.Retention.MaxAgeMs)
	assert.Equal(t, age.Milliseconds(), *st.Retention.MaxAgeMs)
	require.NotNil(t, st.LastIncident)
	assert.Equal(t, "20261019-120000.000+0000-000001", st.LastIncident.ID)
	require.Len(t, st.Scopes, 1)
	assert.True(t, st.Scopes[0].Stalled)
}

func TestStatusError(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{statErr: errors.New("disk gone")}, Config{})
	rec := do(t, h, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "status failed", decode[ErrorResponse](t, rec).Error)
}

func TestListIncidents(t *testing.T) {
	rt := &fakeRuntime{dir: t.TempDir()}
	oldest := writeBundle(t, rt.dir, t0, "first")
	newest := writeBundle(t, rt.dir, t0.Add(time.Minute), "second")
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodGet, "/api/v1/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[IncidentList](t, rec)
	require.Len(t, list.Incidents, 2)
	assert.Equal(t, newest.String(), list.Incidents[0].ID)
	assert.Equal(t, "second", list.Incidents[0].Headline)
	assert.Equal(t, oldest.String(), list.Incidents[1].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/incidents?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[IncidentList](t, rec).Incidents, 1)

	for _, bad := range []string{"0", "-1", "abc", "1001"} {
		rec = do(t, h, http.MethodGet, "/api/v1/incidents?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestListIncidentsEmpty(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{dir: filepath.Join(t.TempDir(), "missing")}, Config{})
	rec := do(t, h, http.MethodGet, "/api/v1/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"incidents":[]}`, rec.Body.String())
}

func TestGetIncident(t *testing.T) {
	rt := &fakeRuntime{dir: t.TempDir()}
	id := writeBundle(t, rt.dir, t0, "lag")
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodGet, "/api/v1/incidents/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r, err := incident.ReadJSON(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, id, r.Meta.ID)
	assert.Equal(t, "lag", r.Meta.Headline)

	rec = do(t, h, http.MethodGet, "/api/v1/incidents/a%5Cb", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/incidents/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	unknown := incident.NewGenerator(clock.NewManual(t0.Add(time.Hour))).Next()
	rec = do(t, h, http.MethodGet, "/api/v1/incidents/"+unknown.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadBundle(t *testing.T) {
	rt := &fakeRuntime{dir: t.TempDir()}
	id := writeBundle(t, rt.dir, t0, "lag")
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodGet, "/api/v1/incidents/"+id.String()+"/bundle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), incident.BundleFileName(id))

	want, err := os.ReadFile(filepath.Join(rt.dir, incident.BundleFileName(id)))
	require.NoError(t, err)
	assert.Equal(t, want, rec.Body.Bytes())
}

func TestCapture(t *testing.T) {
	rt := &fakeRuntime{captureOK: true}
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodPost, "/api/v1/incidents", strings.NewReader(`{"reason":"lag spike"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[CaptureResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "/api/v1/incidents/"+resp.ID, rec.Header().Get("Location"))

	rec = do(t, h, http.MethodPost, "/api/v1/incidents", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"lag spike", ""}, rt.captured)
}

func TestCaptureRejected(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{}, Config{})

	rec := do(t, h, http.MethodPost, "/api/v1/incidents", strings.NewReader(`{}`))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CaptureFailedMessage, decode[ErrorResponse](t, rec).Error)
}

func TestCaptureBadBody(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{captureOK: true}, Config{})

	rec := do(t, h, http.MethodPost, "/api/v1/incidents", strings.NewReader(`{"reason":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := bytes.Repeat([]byte("x"), maxCaptureBody+1)
	rec = do(t, h, http.MethodPost, "/api/v1/incidents", bytes.NewReader(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHeartbeat(t *testing.T) {
	rt := &fakeRuntime{}
	h := newTestServer(t, rt, Config{})

	rec := do(t, h, http.MethodPost, "/api/v1/heartbeats/ingest", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"ingest"}, rt.beats)

	rec = do(t, h, http.MethodPost, "/api/v1/heartbeats/%20", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/heartbeats/ingest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHeartbeatAfterClose(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{beatErr: daemon.ErrRuntimeClosed}, Config{})
	rec := do(t, h, http.MethodPost, "/api/v1/heartbeats/ingest", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, &fakeRuntime{}, Config{})
	rec := do(t, h, http.MethodGet, "/api/v2/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[ErrorResponse](t, rec).Error)
}
