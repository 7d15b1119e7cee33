// Package inventory lists and inspects the bundles in an incident
// directory. It only reads; retention owns deletion.
package inventory

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/fsutil"
	"github.com/ManuGH/blackbox/internal/incident"
)

// ErrNotFound is returned by Find and Show for an unknown incident.
var ErrNotFound = errors.New("incident not found")

// Entry is one bundle on disk.
type Entry struct {
	ID   incident.ID
	Path string
	Size int64
	// CreatedAt is parsed from the file name, falling back to the
	// modification time, the same order retention uses.
	CreatedAt time.Time
	// Headline is read from the bundle by List. Empty when unreadable.
	Headline string
}

// Detail is an Entry plus the decoded report and archive contents.
type Detail struct {
	Entry
	Report incident.Report
	Files  []string
}

// Count returns the number of bundle files in dir. A missing directory
// counts as empty.
func Count(dir string) (int, error) {
	entries, err := scan(dir)
	return len(entries), err
}

// List returns up to limit of the most recent bundles, newest first, with
// headlines filled in. limit <= 0 returns nothing.
func List(dir string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := scan(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	slices.Reverse(entries)
	for i := range entries {
		if r, err := bundle.ReadReport(entries[i].Path); err == nil {
			entries[i].Headline = r.Meta.Headline
		}
	}
	return entries, nil
}

// Latest returns the newest bundle, if any.
func Latest(dir string) (Entry, bool, error) {
	entries, err := List(dir, 1)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

// Find resolves id to its bundle inside dir. The canonical
// incident-<id>.zip wins over a bare <id>.zip carrying the same ID.
func Find(dir string, id incident.ID) (Entry, error) {
	if _, err := incident.ParseID(string(id)); err != nil {
		return Entry{}, err
	}
	entries, err := scan(dir)
	if err != nil {
		return Entry{}, err
	}
	var (
		found Entry
		ok    bool
	)
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		found, ok = e, true
		if filepath.Base(e.Path) == incident.BundleFileName(id) {
			break
		}
	}
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := fsutil.ConfineRelPath(dir, filepath.Base(found.Path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Entry{}, err
	}
	return found, nil
}

// Show loads the full report and file list of one bundle.
func Show(dir string, id incident.ID) (Detail, error) {
	e, err := Find(dir, id)
	if err != nil {
		return Detail{}, err
	}
	r, err := bundle.ReadReport(e.Path)
	if err != nil {
		return Detail{}, err
	}
	files, err := bundle.Entries(e.Path)
	if err != nil {
		return Detail{}, err
	}
	e.Headline = r.Meta.Headline
	return Detail{Entry: e, Report: r, Files: files}, nil
}

// scan lists bundles oldest first: by embedded timestamp (or mtime), then
// file name.
func scan(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	var out []Entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		id, ok := incident.IDFromBundleFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{ID: id, Path: filepath.Join(dir, de.Name()), Size: info.Size()}
		createdAt, ok := id.Time()
		if !ok {
			createdAt = info.ModTime()
		}
		e.CreatedAt = createdAt
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(filepath.Base(a.Path), filepath.Base(b.Path))
	})
	return out, nil
}
