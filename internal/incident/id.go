package incident

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/blackbox/internal/clock"
)

// ID identifies one incident. It sorts lexicographically in creation order
// within a process: a UTC millisecond timestamp followed by a counter.
type ID string

func (id ID) String() string { return string(id) }

// ParseID validates a raw identifier.
func ParseID(raw string) (ID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrBlankID
	}
	if strings.ContainsAny(raw, `/\`) {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, raw)
	}
	return ID(raw), nil
}

const (
	idTimeLayout      = "20060102-150405.000-0700"
	idTimeParseLayout = "20060102-150405.000Z0700"
	idCounterWidth    = 6

	// BundlePrefix and BundleExt frame an ID in a bundle file name.
	BundlePrefix = "incident-"
	BundleExt    = ".zip"
)

// Generator allocates IDs. The counter is shared by every incident
// created by the generator and never resets.
type Generator struct {
	clock   clock.Clock
	counter atomic.Uint64
}

// NewGenerator returns a Generator reading time from c.
func NewGenerator(c clock.Clock) *Generator {
	return &Generator{clock: clock.OrReal(c)}
}

// Next returns a fresh ID stamped with the current time.
func (g *Generator) Next() ID {
	return g.At(g.clock.Now())
}

// At returns a fresh ID stamped with t.
func (g *Generator) At(t time.Time) ID {
	n := g.counter.Add(1)
	suffix := strconv.FormatUint(n, 32)
	if len(suffix) < idCounterWidth {
		suffix = strings.Repeat("0", idCounterWidth-len(suffix)) + suffix
	}
	return ID(t.UTC().Format(idTimeLayout) + "-" + suffix)
}

// Time extracts the timestamp embedded in id.
func (id ID) Time() (time.Time, bool) {
	s := string(id)
	i := strings.LastIndexByte(s, '-')
	if i <= 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(idTimeParseLayout, s[:i])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BundleFileName is the on-disk name of the bundle for id.
func BundleFileName(id ID) string {
	return BundlePrefix + string(id) + BundleExt
}

// IsBundleFileName reports whether name has the bundle extension.
func IsBundleFileName(name string) bool {
	return strings.HasSuffix(name, BundleExt)
}

// IDFromBundleFileName recovers the ID from a bundle file name or path.
func IDFromBundleFileName(name string) (ID, bool) {
	base := filepath.Base(name)
	if !IsBundleFileName(base) {
		return "", false
	}
	base = strings.TrimSuffix(base, BundleExt)
	base = strings.TrimPrefix(base, BundlePrefix)
	if base == "" {
		return "", false
	}
	return ID(base), true
}

// CreatedAtFromBundleFileName parses the creation time embedded in a
// bundle file name. The "incident-" prefix is optional.
func CreatedAtFromBundleFileName(name string) (time.Time, bool) {
	id, ok := IDFromBundleFileName(name)
	if !ok {
		return time.Time{}, false
	}
	return id.Time()
}
