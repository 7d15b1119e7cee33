package trigger

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func mustEvent(t *testing.T, kind Kind, scope string, at time.Time, attrs map[string]string) Event {
	t.Helper()
	ev, err := NewEvent(kind, scope, at, attrs)
	require.NoError(t, err)
	return ev
}

func newEngine(t *testing.T, c clock.Clock, p Policy) *Engine {
	t.Helper()
	e, err := NewEngine(c, p)
	require.NoError(t, err)
	return e
}

func TestCooldownAcceptsOnceThenAfterWindow(t *testing.T) {
	c := clock.NewManual(t0)
	e := newEngine(t, c, Policy{Cooldown: 30 * time.Second, StallDegraded: time.Second, StallCritical: time.Second})

	accepted := 0
	for i := 0; i < 100; i++ {
		if e.Evaluate(mustEvent(t, KindManual, "server", time.Time{}, nil)).Accepted() {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)

	c.Advance(30 * time.Second)
	assert.True(t, e.Evaluate(mustEvent(t, KindManual, "server", time.Time{}, nil)).Accepted())
}

func TestCooldownCheckedBeforeDebounce(t *testing.T) {
	e := newEngine(t, nil, Policy{Cooldown: 10 * time.Second, Debounce: 5 * time.Second, StallDegraded: time.Second, StallCritical: time.Second})

	require.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0, nil)).Accepted())
	res := e.Evaluate(mustEvent(t, KindManual, "a", t0.Add(time.Second), nil))
	assert.Equal(t, DecisionCooldown, res.Decision)
	assert.Equal(t, incident.SeverityInfo, res.Severity)
	assert.Equal(t, "Rejected: cooldown active", res.Headline)
}

func TestDebouncePerKindAndScope(t *testing.T) {
	e := newEngine(t, nil, Policy{Debounce: 5 * time.Second, StallDegraded: time.Second, StallCritical: time.Second})

	require.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0, nil)).Accepted())
	res := e.Evaluate(mustEvent(t, KindManual, "a", t0.Add(time.Second), nil))
	assert.Equal(t, DecisionDebounce, res.Decision)
	assert.Equal(t, "Rejected: debounce active", res.Headline)

	assert.True(t, e.Evaluate(mustEvent(t, KindManual, "b", t0.Add(time.Second), nil)).Accepted(), "other scope")
	assert.True(t, e.Evaluate(mustEvent(t, KindHeartbeatStall, "a", t0.Add(time.Second), nil)).Accepted(), "other kind")
	assert.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0.Add(5*time.Second), nil)).Accepted(), "window elapsed")
}

func TestRejectionsDoNotResetTimers(t *testing.T) {
	e := newEngine(t, nil, Policy{Cooldown: 10 * time.Second, Debounce: 10 * time.Second, StallDegraded: time.Second, StallCritical: time.Second})

	require.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0, nil)).Accepted())
	for i := 1; i < 10; i++ {
		require.False(t, e.Evaluate(mustEvent(t, KindManual, "a", t0.Add(time.Duration(i)*time.Second), nil)).Accepted())
	}
	assert.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0.Add(10*time.Second), nil)).Accepted())
}

func TestStallSeverity(t *testing.T) {
	p := Policy{StallDegraded: 2 * time.Second, StallCritical: 6 * time.Second}
	tests := []struct {
		stallMs  string
		severity incident.Severity
		headline string
	}{
		{"1999", incident.SeverityInfo, "Heartbeat stalled w (1999ms)"},
		{"2000", incident.SeverityDegraded, "Heartbeat stalled w (2000ms)"},
		{"5999", incident.SeverityDegraded, "Heartbeat stalled w (5999ms)"},
		{"6000", incident.SeverityCritical, "Heartbeat stalled w (6000ms)"},
		{"garbage", incident.SeverityInfo, "Heartbeat stalled w (0ms)"},
	}
	for _, tt := range tests {
		t.Run(tt.stallMs, func(t *testing.T) {
			e := newEngine(t, nil, p)
			res := e.Evaluate(mustEvent(t, KindHeartbeatStall, "w", t0, map[string]string{AttrStallMs: tt.stallMs}))
			require.True(t, res.Accepted())
			assert.Equal(t, tt.severity, res.Severity)
			assert.Equal(t, tt.headline, res.Headline)
		})
	}

	e := newEngine(t, nil, p)
	res := e.Evaluate(mustEvent(t, KindHeartbeatStall, "w", t0, nil))
	assert.Equal(t, "Heartbeat stalled w (0ms)", res.Headline)
}

func TestHeadlines(t *testing.T) {
	p := DefaultPolicy()
	p.Cooldown, p.Debounce = 0, 0
	e := newEngine(t, nil, p)

	assert.Equal(t, "Manual capture", e.Evaluate(mustEvent(t, KindManual, "s", t0, nil)).Headline)
	assert.Equal(t, "Manual capture", e.Evaluate(mustEvent(t, KindManual, "s", t0, map[string]string{AttrReason: "  "})).Headline)
	assert.Equal(t, "Manual capture: lag spike", e.Evaluate(mustEvent(t, KindManual, "s", t0, map[string]string{AttrReason: "lag spike"})).Headline)

	res := e.Evaluate(mustEvent(t, KindPanic, "s", t0, map[string]string{AttrPanic: "nil map\nwith detail"}))
	assert.Equal(t, incident.SeverityCritical, res.Severity)
	assert.Equal(t, "Panic recovered: nil map", res.Headline)

	res = e.Evaluate(mustEvent(t, Kind("CUSTOM"), "s", t0, nil))
	assert.Equal(t, incident.SeverityInfo, res.Severity)
	assert.Equal(t, "Capture triggered", res.Headline)
}

func TestConcurrentEvaluationAcceptsOnce(t *testing.T) {
	e := newEngine(t, nil, Policy{Cooldown: time.Minute, StallDegraded: time.Second, StallCritical: time.Second})

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := NewEvent(KindManual, "scope-"+strconv.Itoa(i%4), t0, nil)
			if err != nil {
				return
			}
			if e.Evaluate(ev).Accepted() {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestAcceptSpacingProperty(t *testing.T) {
	p := Policy{Cooldown: 3 * time.Second, Debounce: 7 * time.Second, StallDegraded: time.Second, StallCritical: time.Second}
	e := newEngine(t, nil, p)

	lastAny := time.Time{}
	lastByKey := map[string]time.Time{}
	scopes := []string{"a", "b"}
	for i := 0; i < 200; i++ {
		at := t0.Add(time.Duration(i) * 500 * time.Millisecond)
		scope := scopes[i%2]
		if !e.Evaluate(mustEvent(t, KindManual, scope, at, nil)).Accepted() {
			continue
		}
		if !lastAny.IsZero() {
			require.GreaterOrEqual(t, at.Sub(lastAny), p.Cooldown)
		}
		if last, ok := lastByKey[scope]; ok {
			require.GreaterOrEqual(t, at.Sub(last), p.Debounce)
		}
		lastAny = at
		lastByKey[scope] = at
	}
}

func TestSetPolicy(t *testing.T) {
	e := newEngine(t, nil, DefaultPolicy())
	require.True(t, e.Evaluate(mustEvent(t, KindManual, "a", t0, nil)).Accepted())
	require.False(t, e.Evaluate(mustEvent(t, KindManual, "b", t0.Add(time.Second), nil)).Accepted())

	p := DefaultPolicy()
	p.Cooldown = 0
	require.NoError(t, e.SetPolicy(p))
	assert.True(t, e.Evaluate(mustEvent(t, KindManual, "b", t0.Add(time.Second), nil)).Accepted())
	assert.Equal(t, p, e.Policy())

	assert.ErrorIs(t, e.SetPolicy(Policy{Cooldown: -1}), ErrInvalidPolicy)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{Cooldown: -time.Second, StallDegraded: 1, StallCritical: 1},
		{Debounce: -time.Second, StallDegraded: 1, StallCritical: 1},
		{StallDegraded: 0, StallCritical: 1},
		{StallDegraded: 2, StallCritical: 1},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
	}
	_, err := NewEngine(nil, bad[0])
	assert.Error(t, err)
}

func TestNewEventValidation(t *testing.T) {
	_, err := NewEvent(KindManual, " ", t0, nil)
	assert.ErrorIs(t, err, ErrBlankScope)
	_, err = NewEvent("", "s", t0, nil)
	assert.ErrorIs(t, err, ErrBlankKind)

	attrs := map[string]string{"k": "v"}
	ev := mustEvent(t, KindManual, "s", t0, attrs)
	attrs["k"] = "mutated"
	v, _ := ev.Attr("k")
	assert.Equal(t, "v", v)

	copied := ev.Attrs()
	copied["k"] = "changed"
	v, _ = ev.Attr("k")
	assert.Equal(t, "v", v)
}
