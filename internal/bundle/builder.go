// Package bundle packages an incident report, its recording and
// environment snippets into one reproducible zip archive.
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/fsutil"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/report"
)

// EnvSource supplies the env/ snippets of a bundle.
type EnvSource interface {
	Snippets() []Attachment
}

// EnvSourceFunc adapts a function to EnvSource.
type EnvSourceFunc func() []Attachment

func (f EnvSourceFunc) Snippets() []Attachment { return f() }

// Builder writes bundles. Entry order is fixed: incident.json,
// report.html, the recording, env snippets in the order the EnvSource
// returns them, then attachments sorted by path. Every entry carries a
// zero timestamp, so identical input yields identical bytes.
type Builder struct {
	env    EnvSource
	logger zerolog.Logger
}

// NewBuilder returns a Builder. env may be nil.
func NewBuilder(env EnvSource) *Builder {
	return &Builder{env: env, logger: log.WithComponent("bundle")}
}

// Build writes the bundle for r to outputPath. The archive is assembled
// in a pending file and only renamed into place once complete.
func (b *Builder) Build(r incident.Report, recordingPath, outputPath string, extras []Attachment) error {
	var env []Attachment
	if b.env != nil {
		env = b.valid(r.Meta.ID, b.env.Snippets())
	}

	reserved := map[string]struct{}{
		incident.JSONFileName:    {},
		report.FileName:          {},
		report.RecordingFileName: {},
	}
	for _, a := range env {
		reserved[a.Path()] = struct{}{}
	}

	sorted := b.valid(r.Meta.ID, extras)
	slices.SortStableFunc(sorted, func(a, b Attachment) int { return strings.Compare(a.Path(), b.Path()) })
	kept := sorted[:0]
	for _, a := range sorted {
		if _, dup := reserved[a.Path()]; dup {
			b.logger.Warn().
				Str(log.FieldIncidentID, string(r.Meta.ID)).
				Str(log.FieldPath, a.Path()).
				Msg("dropping attachment that collides with an existing bundle entry")
			continue
		}
		reserved[a.Path()] = struct{}{}
		kept = append(kept, a)
	}

	return fsutil.WriteAtomic(outputPath, 0o644, func(w io.Writer) error {
		return write(w, r, recordingPath, env, kept)
	})
}

// valid drops attachments that did not come through NewAttachment, such as
// the zero value.
func (b *Builder) valid(id incident.ID, in []Attachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		if err := validatePath(a.Path()); err != nil {
			b.logger.Warn().
				Err(err).
				Str(log.FieldIncidentID, string(id)).
				Str(log.FieldPath, a.Path()).
				Msg("dropping attachment with an invalid path")
			continue
		}
		out = append(out, a)
	}
	return out
}

func write(w io.Writer, r incident.Report, recordingPath string, env, extras []Attachment) error {
	zw := zip.NewWriter(w)

	var buf bytes.Buffer
	if err := incident.WriteJSON(&buf, r); err != nil {
		return fmt.Errorf("render %s: %w", incident.JSONFileName, err)
	}
	if err := addBytes(zw, incident.JSONFileName, buf.Bytes()); err != nil {
		return err
	}

	buf.Reset()
	if err := report.WriteHTML(&buf, r); err != nil {
		return fmt.Errorf("render %s: %w", report.FileName, err)
	}
	if err := addBytes(zw, report.FileName, buf.Bytes()); err != nil {
		return err
	}

	if err := addFile(zw, report.RecordingFileName, recordingPath); err != nil {
		return err
	}

	for _, a := range env {
		if err := addBytes(zw, a.Path(), a.Data()); err != nil {
			return err
		}
	}
	for _, a := range extras {
		if err := addBytes(zw, a.Path(), a.Data()); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func entry(zw *zip.Writer, name string) (io.Writer, error) {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Time{}}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("create entry %s: %w", name, err)
	}
	return w, nil
}

func addBytes(zw *zip.Writer, name string, data []byte) error {
	w, err := entry(zw, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

func addFile(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	w, err := entry(zw, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
