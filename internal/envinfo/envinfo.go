// Package envinfo produces the plain-text environment snippets stored under
// env/ in every bundle. Collection is best effort: a probe that fails is
// reported as unavailable instead of failing the bundle.
package envinfo

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ManuGH/blackbox/internal/bundle"
	"github.com/ManuGH/blackbox/internal/clock"
)

// Entry names written by Collector.
const (
	RuntimeFile = "env/runtime.txt"
	OSFile      = "env/os.txt"
	HostFile    = "env/host.txt"
)

const unavailable = "unavailable"

// Collector gathers runtime, OS and host facts about the current process.
type Collector struct {
	clock      clock.Clock
	instanceID string
	startedAt  time.Time
	dataDir    string
	version    string
}

// New returns a Collector. dataDir is the directory whose disk usage is
// reported; version is the build version of the daemon.
func New(c clock.Clock, dataDir, version string) *Collector {
	c = clock.OrReal(c)
	return &Collector{
		clock:      c,
		instanceID: uuid.NewString(),
		startedAt:  c.Now(),
		dataDir:    dataDir,
		version:    version,
	}
}

// InstanceID identifies this process run.
func (c *Collector) InstanceID() string { return c.instanceID }

// StartedAt is when the collector was created.
func (c *Collector) StartedAt() time.Time { return c.startedAt }

// Uptime is the time since the collector was created.
func (c *Collector) Uptime() time.Duration { return c.clock.Now().Sub(c.startedAt) }

// Snippets implements bundle.EnvSource.
func (c *Collector) Snippets() []bundle.Attachment {
	var out []bundle.Attachment
	for _, s := range []struct {
		path string
		text string
	}{
		{RuntimeFile, c.Runtime()},
		{OSFile, c.OS()},
		{HostFile, c.Host()},
	} {
		if a, err := bundle.TextAttachment(s.path, s.text); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Runtime describes the Go runtime of this process.
func (c *Collector) Runtime() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var b kv
	b.add("instance_id", c.instanceID)
	b.add("version", orUnavailable(c.version))
	b.add("go_version", runtime.Version())
	b.add("compiler", runtime.Compiler)
	b.add("pid", fmt.Sprint(os.Getpid()))
	if exe, err := os.Executable(); err == nil {
		b.add("executable", exe)
	} else {
		b.add("executable", unavailable)
	}
	b.add("args", strings.Join(os.Args, " "))
	b.add("started_at", c.startedAt.UTC().Format(time.RFC3339))
	b.add("uptime", c.Uptime().Truncate(time.Second).String())
	b.add("gomaxprocs", fmt.Sprint(runtime.GOMAXPROCS(0)))
	b.add("num_cpu", fmt.Sprint(runtime.NumCPU()))
	b.add("num_goroutine", fmt.Sprint(runtime.NumGoroutine()))
	b.add("heap_alloc_bytes", fmt.Sprint(ms.HeapAlloc))
	b.add("heap_sys_bytes", fmt.Sprint(ms.HeapSys))
	b.add("sys_bytes", fmt.Sprint(ms.Sys))
	b.add("num_gc", fmt.Sprint(ms.NumGC))
	b.add("gc_pause_total", time.Duration(ms.PauseTotalNs).String())
	if info, ok := debug.ReadBuildInfo(); ok {
		b.add("module", info.Main.Path+"@"+info.Main.Version)
		for _, s := range info.Settings {
			if strings.HasPrefix(s.Key, "vcs.") || s.Key == "GOOS" || s.Key == "GOARCH" {
				b.add("build."+s.Key, s.Value)
			}
		}
	}
	return b.String()
}

// OS describes the operating system and a redacted view of the process
// environment.
func (c *Collector) OS() string {
	var b kv
	b.add("goos", runtime.GOOS)
	b.add("goarch", runtime.GOARCH)
	if name, err := os.Hostname(); err == nil {
		b.add("hostname", name)
	} else {
		b.add("hostname", unavailable)
	}
	if info, err := host.Info(); err == nil {
		b.add("platform", strings.TrimSpace(info.Platform+" "+info.PlatformVersion))
		b.add("platform_family", info.PlatformFamily)
		b.add("kernel_version", info.KernelVersion)
		b.add("kernel_arch", info.KernelArch)
		b.add("virtualization", orUnavailable(strings.TrimSpace(info.VirtualizationSystem+" "+info.VirtualizationRole)))
		b.add("host_uptime", (time.Duration(info.Uptime) * time.Second).String())
	} else {
		b.add("platform", unavailable)
	}
	if wd, err := os.Getwd(); err == nil {
		b.add("working_dir", wd)
	}
	b.add("uid", fmt.Sprint(os.Getuid()))

	env := os.Environ()
	slices.Sort(env)
	for _, kvp := range env {
		key, value, _ := strings.Cut(kvp, "=")
		if !relevantEnv(key) {
			continue
		}
		b.add("env."+key, Redact(key, value))
	}
	return b.String()
}

// Host describes machine resources.
func (c *Collector) Host() string {
	var b kv
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		b.add("cpu_model", strings.TrimSpace(infos[0].ModelName))
	} else {
		b.add("cpu_model", unavailable)
	}
	if n, err := cpu.Counts(false); err == nil {
		b.add("cpu_cores", fmt.Sprint(n))
	}
	if n, err := cpu.Counts(true); err == nil {
		b.add("cpu_threads", fmt.Sprint(n))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		b.add("mem_total_bytes", fmt.Sprint(vm.Total))
		b.add("mem_available_bytes", fmt.Sprint(vm.Available))
		b.add("mem_used_percent", fmt.Sprintf("%.1f", vm.UsedPercent))
	} else {
		b.add("mem_total_bytes", unavailable)
	}
	if avg, err := load.Avg(); err == nil {
		b.add("load_avg", fmt.Sprintf("%.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15))
	} else {
		b.add("load_avg", unavailable)
	}
	if c.dataDir != "" {
		if u, err := disk.Usage(c.dataDir); err == nil {
			b.add("data_dir", c.dataDir)
			b.add("data_disk_total_bytes", fmt.Sprint(u.Total))
			b.add("data_disk_free_bytes", fmt.Sprint(u.Free))
			b.add("data_disk_used_percent", fmt.Sprintf("%.1f", u.UsedPercent))
		} else {
			b.add("data_dir", c.dataDir+" ("+unavailable+")")
		}
	}
	return b.String()
}

func relevantEnv(key string) bool {
	return strings.HasPrefix(key, "BLACKBOX_") ||
		strings.HasPrefix(key, "GO") ||
		key == "LOG_LEVEL" || key == "TZ" || key == "LANG"
}

var secretMarkers = []string{"TOKEN", "SECRET", "PASSWORD", "PASS", "KEY", "WEBHOOK", "URL", "AUTH"}

// Redact hides the value of environment variables that may carry
// credentials.
func Redact(key, value string) string {
	upper := strings.ToUpper(key)
	for _, m := range secretMarkers {
		if strings.Contains(upper, m) {
			if value == "" {
				return ""
			}
			return "[REDACTED]"
		}
	}
	return value
}

func orUnavailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return unavailable
	}
	return s
}

type kv struct {
	sb strings.Builder
}

func (b *kv) add(key, value string) {
	b.sb.WriteString(key)
	b.sb.WriteString(": ")
	b.sb.WriteString(strings.ReplaceAll(value, "\n", " "))
	b.sb.WriteByte('\n')
}

func (b *kv) String() string { return b.sb.String() }
