package retention

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/metrics"
)

// Manager enforces a Policy over a directory of bundles. It keeps no state
// between passes; the files on disk are the only source of truth.
type Manager struct {
	clock   clock.Clock
	deleter Deleter
	logger  zerolog.Logger
}

// NewManager returns a Manager. A nil deleter removes files from disk.
func NewManager(c clock.Clock, deleter Deleter) *Manager {
	if deleter == nil {
		deleter = OSDeleter{}
	}
	return &Manager{
		clock:   clock.OrReal(c),
		deleter: deleter,
		logger:  log.WithComponent("retention"),
	}
}

type bundleFile struct {
	path      string
	name      string
	createdAt time.Time
	size      int64
}

type pass struct {
	m      *Manager
	files  []bundleFile // ascending by (createdAt, name)
	newest string
	failed map[string]struct{}
	stats  Stats
	count  int
	bytes  int64
}

// Enforce runs one pass over dir. Limits are applied in the order age,
// count, bytes, each on what the previous step left. The newest bundle is
// never deleted and a failed deletion never aborts the pass. Final totals
// come from a rescan of the directory.
func (m *Manager) Enforce(dir string, policy Policy) Stats {
	logger := m.logger.With().Str(log.FieldDir, dir).Logger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str(log.FieldEvent, "retention.list_failed").Msg("failed to list incident directory")
		}
		return Stats{}
	}

	p := &pass{m: m, failed: make(map[string]struct{})}
	for _, e := range entries {
		if !incident.IsBundleFileName(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		p.stats.Scanned++
		f, err := m.describe(dir, e)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, e.Name()).Msg("failed to read bundle metadata")
			continue
		}
		p.files = append(p.files, f)
	}
	slices.SortFunc(p.files, func(a, b bundleFile) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})

	if len(p.files) > 0 {
		p.newest = p.files[len(p.files)-1].path
		p.count = len(p.files)
		for _, f := range p.files {
			p.bytes += f.size
		}
		p.byAge(policy, logger)
		p.byCount(policy, logger)
		p.byBytes(policy, logger)
	}

	p.stats.FinalCount, p.stats.FinalBytes = rescan(dir)
	metrics.RecordRetentionPass(p.stats.Deleted, p.stats.DeleteFailures, p.stats.BytesDeleted,
		p.stats.FinalCount, p.stats.FinalBytes)

	if p.stats.Deleted > 0 || p.stats.DeleteFailures > 0 {
		logger.Info().
			Str(log.FieldEvent, "retention.enforced").
			Int("deleted", p.stats.Deleted).
			Int("failures", p.stats.DeleteFailures).
			Int64("bytes_deleted", p.stats.BytesDeleted).
			Int("final_count", p.stats.FinalCount).
			Int64("final_bytes", p.stats.FinalBytes).
			Msg("retention pass complete")
	}
	return p.stats
}

func (m *Manager) describe(dir string, e os.DirEntry) (bundleFile, error) {
	info, err := e.Info()
	if err != nil {
		return bundleFile{}, err
	}
	createdAt, ok := incident.CreatedAtFromBundleFileName(e.Name())
	if !ok {
		createdAt = info.ModTime()
	}
	return bundleFile{
		path:      filepath.Join(dir, e.Name()),
		name:      e.Name(),
		createdAt: createdAt,
		size:      info.Size(),
	}, nil
}

func (p *pass) byAge(policy Policy, logger zerolog.Logger) {
	if policy.MaxAge == nil {
		return
	}
	cutoff := p.m.clock.Now().Add(-*policy.MaxAge)
	for _, f := range slices.Clone(p.files) {
		if f.path == p.newest || !f.createdAt.Before(cutoff) {
			continue
		}
		p.delete(f, logger)
	}
	if p.count == 1 && p.files[0].createdAt.Before(cutoff) {
		logger.Warn().Msg("retention max age exceeded but newest incident must be kept")
	}
}

func (p *pass) byCount(policy Policy, logger zerolog.Logger) {
	if policy.MaxCount <= 0 {
		return
	}
	for p.count > policy.MaxCount {
		f, ok := p.oldestCandidate()
		if !ok {
			logger.Warn().Msg("retention max count exceeded but no deletable incidents remain")
			return
		}
		p.delete(f, logger)
		if p.count <= 1 {
			logger.Warn().Msg("retention would remove newest incident; stopping deletions")
			return
		}
	}
}

func (p *pass) byBytes(policy Policy, logger zerolog.Logger) {
	if policy.MaxTotalBytes <= 0 {
		return
	}
	for p.bytes > policy.MaxTotalBytes {
		f, ok := p.oldestCandidate()
		if !ok {
			logger.Warn().Msg("retention max total bytes exceeded but no deletable incidents remain")
			return
		}
		p.delete(f, logger)
		if p.count <= 1 {
			logger.Warn().Msg("retention would remove newest incident; stopping deletions")
			return
		}
	}
}

func (p *pass) oldestCandidate() (bundleFile, bool) {
	for _, f := range p.files {
		if f.path == p.newest {
			continue
		}
		if _, failed := p.failed[f.path]; failed {
			continue
		}
		return f, true
	}
	return bundleFile{}, false
}

// delete attempts one removal. A failed file is excluded from the rest of
// the pass.
func (p *pass) delete(f bundleFile, logger zerolog.Logger) {
	if f.path == p.newest {
		return
	}
	if _, failed := p.failed[f.path]; failed {
		return
	}
	if err := p.m.safeDelete(f.path); err != nil {
		p.failed[f.path] = struct{}{}
		p.stats.DeleteFailures++
		logger.Warn().Err(err).
			Str(log.FieldEvent, "retention.delete_failed").
			Str(log.FieldBundlePath, f.path).
			Msg("failed to delete incident bundle")
		return
	}
	p.files = slices.DeleteFunc(p.files, func(x bundleFile) bool { return x.path == f.path })
	p.stats.Deleted++
	p.stats.BytesDeleted += f.size
	p.bytes -= f.size
	p.count--
	logger.Debug().Str(log.FieldBundlePath, f.path).Msg("deleted incident bundle")
}

func (m *Manager) safeDelete(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deleter panicked: %v", r)
		}
	}()
	return m.deleter.Delete(path)
}

func rescan(dir string) (count int, bytes int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if !incident.IsBundleFileName(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		count++
		if info, err := e.Info(); err == nil {
			bytes += info.Size()
		}
	}
	return count, bytes
}
