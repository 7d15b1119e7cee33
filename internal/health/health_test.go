// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/trigger/heartbeat"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }
func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestManager_Health(t *testing.T) {
	c := clock.NewManual(t0)
	m := NewManager("v1.0.0", c)
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	c.Advance(90 * time.Second)
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, int64(90), resp.Uptime)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	m := NewManager("v1", nil)
	assert.True(t, m.Ready(context.Background()).Ready)

	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(&mockChecker{name: "down", status: StatusUnhealthy})
	resp = m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeReady(t *testing.T) {
	m := NewManager("v1", nil)
	m.RegisterChecker(NewRecorderChecker(func() bool { return false }))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Checks["recorder"].Status)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWritableDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewWritableDirChecker("incidents", dir).Check(context.Background()).Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file removed")

	missing := NewWritableDirChecker("incidents", filepath.Join(dir, "nope")).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, missing.Status)

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Equal(t, StatusUnhealthy, NewWritableDirChecker("incidents", file).Check(context.Background()).Status)
}

func TestHeartbeatChecker(t *testing.T) {
	scopes := []heartbeat.ScopeStatus{
		{Scope: "server", LastBeat: t0},
		{Scope: "world", LastBeat: t0.Add(-3 * time.Second), Stalled: true},
	}
	c := NewHeartbeatChecker(func() []heartbeat.ScopeStatus { return scopes }, func() time.Time { return t0 })

	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "stalled: world (3000ms)", res.Message)

	scopes[1].Stalled = false
	res = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "2 scopes beating", res.Message)
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	require.NoError(t, PerformStartupChecks(cfg))
	assert.DirExists(t, cfg.IncidentDir())
	assert.DirExists(t, cfg.TempDir())

	cfg.Server.ListenAddr = "127.0.0.1:99999"
	assert.Error(t, PerformStartupChecks(cfg))
}
