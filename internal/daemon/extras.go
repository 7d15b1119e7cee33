package daemon

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/trigger"
)

const (
	extrasRuntime = "extras/runtime.txt"
	extrasScopes  = "extras/scopes.txt"
	extrasTrigger = "extras/trigger.txt"
)

// extras builds the daemon's attachments. Each one stands alone: a
// failing attachment is logged and left out.
func (r *Runtime) extras(ctx context.Context, rep incident.Report, ev trigger.Event) ([]bundle.Attachment, error) {
	builders := []struct {
		path  string
		build func() string
	}{
		{extrasRuntime, r.runtimeText},
		{extrasScopes, r.scopesText},
		{extrasTrigger, func() string { return triggerText(ev) }},
	}

	out := make([]bundle.Attachment, 0, len(builders))
	for _, b := range builders {
		a, err := safeAttachment(b.path, b.build)
		if err != nil {
			logger := log.WithContext(ctx, r.logger)
			logger.Warn().
				Err(err).
				Str(log.FieldIncidentID, string(rep.Meta.ID)).
				Str(log.FieldPath, b.path).
				Msg("attachment omitted")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func safeAttachment(path string, build func() string) (a bundle.Attachment, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("build %s: panic: %v", path, rec)
		}
	}()
	return bundle.TextAttachment(path, build())
}

func (r *Runtime) runtimeText() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var sb strings.Builder
	line := func(k string, v any) { fmt.Fprintf(&sb, "%s: %v\n", k, v) }
	line("instance_id", r.env.InstanceID())
	line("uptime", r.env.Uptime().Round(time.Millisecond))
	line("goroutines", runtime.NumGoroutine())
	line("gomaxprocs", runtime.GOMAXPROCS(0))
	line("heap_alloc_bytes", ms.HeapAlloc)
	line("heap_objects", ms.HeapObjects)
	line("sys_bytes", ms.Sys)
	line("num_gc", ms.NumGC)
	line("gc_pause_total", time.Duration(ms.PauseTotalNs))
	if ms.LastGC > 0 {
		line("last_gc", time.Unix(0, int64(ms.LastGC)).UTC().Format(time.RFC3339Nano))
	}
	line("gc_cpu_fraction", fmt.Sprintf("%.6f", ms.GCCPUFraction))
	return sb.String()
}

func (r *Runtime) scopesText() string {
	now := r.clock.Now()
	scopes := r.detector.Snapshot()
	if len(scopes) == 0 {
		return "no heartbeat scopes registered\n"
	}
	var sb strings.Builder
	for _, s := range scopes {
		state := "ok"
		if s.Stalled {
			state = "stalled"
		}
		fmt.Fprintf(&sb, "%s\t%s\tlast_beat=%s\tage=%s\n",
			s.Scope, state,
			s.LastBeat.UTC().Format(time.RFC3339Nano),
			now.Sub(s.LastBeat).Round(time.Millisecond))
	}
	return sb.String()
}

func triggerText(ev trigger.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kind: %s\nscope: %s\n", ev.Kind(), ev.Scope())
	if !ev.At().IsZero() {
		fmt.Fprintf(&sb, "at: %s\n", ev.At().UTC().Format(time.RFC3339Nano))
	}
	attrs := ev.Attrs()
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		v := attrs[k]
		if strings.Contains(v, "\n") {
			fmt.Fprintf(&sb, "%s:\n%s\n", k, v)
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", k, v)
	}
	return sb.String()
}
