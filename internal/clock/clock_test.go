package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	c.Advance(30 * time.Second)
	assert.Equal(t, start.Add(30*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestOrReal(t *testing.T) {
	_, isReal := OrReal(nil).(Real)
	assert.True(t, isReal)

	m := NewManual(time.Time{})
	assert.Same(t, m, OrReal(m))
}
