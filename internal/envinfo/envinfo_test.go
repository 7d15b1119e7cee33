package envinfo

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/clock"
)

func TestSnippetsLayout(t *testing.T) {
	c := New(nil, t.TempDir(), "v1.2.3")
	snips := c.Snippets()
	require.Len(t, snips, 3)
	assert.Equal(t, RuntimeFile, snips[0].Path())
	assert.Equal(t, OSFile, snips[1].Path())
	assert.Equal(t, HostFile, snips[2].Path())
	for _, s := range snips {
		assert.NotEmpty(t, s.Data(), s.Path())
	}
}

func TestRuntimeContainsIdentity(t *testing.T) {
	c := New(nil, "", "v1.2.3")
	_, err := uuid.Parse(c.InstanceID())
	require.NoError(t, err)

	out := c.Runtime()
	assert.Contains(t, out, "instance_id: "+c.InstanceID()+"\n")
	assert.Contains(t, out, "version: v1.2.3\n")
	assert.Contains(t, out, "go_version: go")
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		assert.Contains(t, line, ": ", "every line is key: value")
	}
}

func TestUptimeFollowsClock(t *testing.T) {
	m := clock.NewManual(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	c := New(m, "", "")
	m.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Uptime())
	assert.Contains(t, c.Runtime(), "uptime: 1m30s\n")
	assert.Contains(t, c.Runtime(), "version: unavailable\n")
}

func TestOSRedactsSecrets(t *testing.T) {
	t.Setenv("BLACKBOX_WEBHOOK_URL", "https://discord.example/api/webhooks/1/secret")
	t.Setenv("BLACKBOX_DATA_DIR", "/var/lib/blackbox")

	out := New(nil, "", "").OS()
	assert.Contains(t, out, "env.BLACKBOX_WEBHOOK_URL: [REDACTED]\n")
	assert.Contains(t, out, "env.BLACKBOX_DATA_DIR: /var/lib/blackbox\n")
	assert.NotContains(t, out, "secret")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "[REDACTED]", Redact("API_TOKEN", "abc"))
	assert.Equal(t, "", Redact("API_TOKEN", ""))
	assert.Equal(t, "debug", Redact("LOG_LEVEL", "debug"))
}
