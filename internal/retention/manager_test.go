package retention

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// writeBundles creates n bundles one minute apart starting at t0 and
// returns their names oldest first.
func writeBundles(t *testing.T, dir string, n int, size int) []string {
	t.Helper()
	gen := incident.NewGenerator(nil)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := incident.BundleFileName(gen.At(t0.Add(time.Duration(i) * time.Minute)))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o600))
		names = append(names, name)
	}
	return names
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if incident.IsBundleFileName(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func dur(d time.Duration) *time.Duration { return &d }

func TestMaxCountKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 5, 10)

	m := NewManager(clock.NewManual(t0.Add(time.Hour)), nil)
	stats := m.Enforce(dir, Policy{MaxCount: 2})

	assert.Equal(t, Stats{Scanned: 5, Deleted: 3, BytesDeleted: 30, FinalCount: 2, FinalBytes: 20}, stats)
	assert.Equal(t, names[3:], remaining(t, dir))
}

func TestMaxCountPropertyAlwaysKeepsNewest(t *testing.T) {
	for n := 0; n <= 6; n++ {
		dir := t.TempDir()
		names := writeBundles(t, dir, 5, 1)
		stats := NewManager(nil, nil).Enforce(dir, Policy{MaxCount: n})

		left := remaining(t, dir)
		if n > 0 {
			assert.LessOrEqual(t, len(left), max(n, 1))
		} else {
			assert.Len(t, left, 5, "zero disables the limit")
		}
		assert.Contains(t, left, names[4])
		assert.Equal(t, len(left), stats.FinalCount)
	}
}

func TestPartialDeleteFailureContinues(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 4, 10)

	var attempts []string
	deleter := DeleterFunc(func(path string) error {
		attempts = append(attempts, filepath.Base(path))
		if filepath.Base(path) == names[0] {
			return errors.New("permission denied")
		}
		return os.Remove(path)
	})

	stats := NewManager(nil, deleter).Enforce(dir, Policy{MaxCount: 2})

	assert.Equal(t, 1, stats.DeleteFailures)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, []string{names[0], names[1], names[2]}, attempts)
	assert.Equal(t, []string{names[0], names[3]}, remaining(t, dir))
	assert.Equal(t, 2, stats.FinalCount)
}

func TestAllDeletesFailStopsLoop(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 3, 10)

	deleter := DeleterFunc(func(string) error { return errors.New("read-only filesystem") })
	stats := NewManager(nil, deleter).Enforce(dir, Policy{MaxCount: 1, MaxTotalBytes: 1})

	assert.Equal(t, 2, stats.DeleteFailures, "each file fails once per pass")
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, names, remaining(t, dir))
}

func TestPanickingDeleterCountsAsFailure(t *testing.T) {
	dir := t.TempDir()
	writeBundles(t, dir, 2, 10)

	deleter := DeleterFunc(func(string) error { panic("boom") })
	stats := NewManager(nil, deleter).Enforce(dir, Policy{MaxCount: 1})
	assert.Equal(t, 1, stats.DeleteFailures)
	assert.Equal(t, 2, stats.FinalCount)
}

func TestMaxAge(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 5, 10)

	// Cutoff at t0+2m30s: bundles at 0, 1 and 2 minutes are expired.
	c := clock.NewManual(t0.Add(1*time.Hour + 2*time.Minute + 30*time.Second))
	stats := NewManager(c, nil).Enforce(dir, Policy{MaxAge: dur(time.Hour)})

	assert.Equal(t, 3, stats.Deleted)
	assert.Equal(t, names[3:], remaining(t, dir))
}

func TestMaxAgeNeverDeletesNewest(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 3, 10)

	c := clock.NewManual(t0.Add(30 * 24 * time.Hour))
	stats := NewManager(c, nil).Enforce(dir, Policy{MaxAge: dur(time.Hour)})

	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, names[2:], remaining(t, dir))
}

func TestMaxTotalBytes(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 4, 100)

	stats := NewManager(nil, nil).Enforce(dir, Policy{MaxTotalBytes: 250})

	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, int64(200), stats.FinalBytes)
	assert.Equal(t, names[2:], remaining(t, dir))
}

func TestMaxTotalBytesKeepsOversizedNewest(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 2, 100)

	stats := NewManager(nil, nil).Enforce(dir, Policy{MaxTotalBytes: 10})
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, names[1:], remaining(t, dir))
}

func TestLimitsCompose(t *testing.T) {
	dir := t.TempDir()
	names := writeBundles(t, dir, 6, 100)

	c := clock.NewManual(t0.Add(time.Hour + 30*time.Second))
	stats := NewManager(c, nil).Enforce(dir, Policy{
		MaxAge:        dur(time.Hour), // removes the bundle at t0
		MaxCount:      4,              // removes t0+1m
		MaxTotalBytes: 300,            // removes t0+2m
	})

	assert.Equal(t, 3, stats.Deleted)
	assert.Equal(t, names[3:], remaining(t, dir))
}

func TestMissingAndEmptyDirectory(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Equal(t, Stats{}, m.Enforce(filepath.Join(t.TempDir(), "absent"), Policy{MaxCount: 1}))
	assert.Equal(t, Stats{}, m.Enforce(t.TempDir(), Policy{MaxCount: 1}))
}

func TestIgnoresNonBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundles(t, dir, 2, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.zip"), 0o755))

	stats := NewManager(nil, nil).Enforce(dir, Policy{MaxCount: 1})
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.FinalCount)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.DirExists(t, filepath.Join(dir, "dir.zip"))
}

func TestModTimeFallbackAndNameTieBreak(t *testing.T) {
	dir := t.TempDir()
	// Unparseable names fall back to mtime; equal times sort by name.
	for _, name := range []string{"b.zip", "a.zip", "c.zip"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(p, t0, t0))
	}
	newer := filepath.Join(dir, "0-newest.zip")
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(newer, t0.Add(time.Minute), t0.Add(time.Minute)))

	stats := NewManager(nil, nil).Enforce(dir, Policy{MaxCount: 2})
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, []string{"0-newest.zip", "c.zip"}, remaining(t, dir))
}

func TestPolicyValidation(t *testing.T) {
	_, err := NewPolicy(-1, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = NewPolicy(0, -1, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = NewPolicy(0, 0, dur(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	age := time.Hour
	p, err := NewPolicy(1, 2, &age)
	require.NoError(t, err)
	age = time.Minute
	assert.Equal(t, time.Hour, *p.MaxAge, "max age is copied")
	assert.Equal(t, "maxCount=1 maxTotalBytes=2 maxAge=1h0m0s", p.String())
}
