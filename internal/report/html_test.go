package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/incident"
)

func render(t *testing.T, scope, headline string, summary incident.Summary) string {
	t.Helper()
	meta, err := incident.NewMetadata("20261019-120000.000+0000-000001",
		time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), incident.SeverityDegraded, "MANUAL", scope, headline)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, incident.Report{Meta: meta, Summary: summary}))
	return buf.String()
}

func TestWriteHTMLEscapesContent(t *testing.T) {
	out := render(t, "", `<script>alert("x")</script> & 'q'`,
		incident.NewSummary("a<b", []string{"x > y"}, []string{"use & not &&"}))

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "&amp;")
	assert.Contains(t, out, "a&lt;b")
	assert.Contains(t, out, "x &gt; y")
	assert.NotContains(t, out, "<script", "page must not load scripts")
	assert.NotContains(t, out, "src=")
	assert.NotContains(t, out, "href=")
}

func TestWriteHTMLBreaksAndTabs(t *testing.T) {
	out := render(t, "", "h", incident.NewSummary("one\r\ntwo\nthree\rfour\tfive", nil, nil))
	assert.Contains(t, out, "<p>one<br>two<br>three<br>four&#9;five</p>")
}

func TestWriteHTMLScopeOptional(t *testing.T) {
	assert.NotContains(t, render(t, "", "h", incident.Summary{}), "Scope:")
	assert.Contains(t, render(t, "world-1", "h", incident.Summary{}), "Scope: world-1")
}

func TestWriteHTMLListOrder(t *testing.T) {
	out := render(t, "", "h", incident.NewSummary("c", []string{"zeta", "alpha"}, []string{"step 2", "step 1"}))
	assert.Less(t, strings.Index(out, "zeta"), strings.Index(out, "alpha"))
	assert.Less(t, strings.Index(out, "step 2"), strings.Index(out, "step 1"))
	assert.Contains(t, out, "go tool trace recording.trace")
}

func TestWithBreaks(t *testing.T) {
	assert.Equal(t, "a&lt;b<br>&#9;&#34;c&#34;", string(withBreaks("a<b\n\t\"c\"")))
	assert.Equal(t, "", string(withBreaks("")))
}
