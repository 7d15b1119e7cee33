package api

import (
	"path/filepath"
	"time"

	"github.com/ManuGH/blackbox/internal/daemon"
	"github.com/ManuGH/blackbox/internal/inventory"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version        string          `json:"version"`
	InstanceID     string          `json:"instanceId"`
	StartedAt      time.Time       `json:"startedAt"`
	UptimeSeconds  int64           `json:"uptimeSeconds"`
	DataDir        string          `json:"dataDir"`
	IncidentDir    string          `json:"incidentDir"`
	ConfigPath     string          `json:"configPath,omitempty"`
	Trigger        TriggerPolicy   `json:"trigger"`
	Retention      RetentionPolicy `json:"retention"`
	Recorder       RecorderStatus  `json:"recorder"`
	BundleCount    int             `json:"bundleCount"`
	LastIncident   *LastIncident   `json:"lastIncident"`
	WebhookEnabled bool            `json:"webhookEnabled"`
	Scopes         []ScopeStatus   `json:"scopes"`
}

type TriggerPolicy struct {
	CooldownMs      int64 `json:"cooldownMs"`
	DebounceMs      int64 `json:"debounceMs"`
	StallDegradedMs int64 `json:"stallDegradedMs"`
	StallCriticalMs int64 `json:"stallCriticalMs"`
}

// RetentionPolicy reports MaxAgeMs as null when bundles never expire.
type RetentionPolicy struct {
	MaxCount      int    `json:"maxCount"`
	MaxTotalBytes int64  `json:"maxTotalBytes"`
	MaxAgeMs      *int64 `json:"maxAgeMs"`
}

type RecorderStatus struct {
	Running  bool   `json:"running"`
	MaxAgeMs int64  `json:"maxAgeMs"`
	MaxBytes uint64 `json:"maxBytes"`
}

type LastIncident struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	BundlePath string    `json:"bundlePath"`
}

type ScopeStatus struct {
	Scope    string    `json:"scope"`
	LastBeat time.Time `json:"lastBeat"`
	Stalled  bool      `json:"stalled"`
}

// IncidentEntry is one row of GET /api/v1/incidents.
type IncidentEntry struct {
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	SizeBytes int64      `json:"sizeBytes"`
	Headline  string     `json:"headline"`
	FileName  string     `json:"fileName"`
}

type IncidentList struct {
	Incidents []IncidentEntry `json:"incidents"`
}

// CaptureRequest is the optional body of POST /api/v1/incidents.
type CaptureRequest struct {
	Reason string `json:"reason"`
}

type CaptureResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func toStatusResponse(st daemon.Status) StatusResponse {
	resp := StatusResponse{
		Version:       st.Version,
		InstanceID:    st.InstanceID,
		StartedAt:     st.StartedAt.UTC(),
		UptimeSeconds: int64(st.Uptime.Seconds()),
		DataDir:       st.DataDir,
		IncidentDir:   st.IncidentDir,
		ConfigPath:    st.ConfigPath,
		Trigger: TriggerPolicy{
			CooldownMs:      st.Trigger.Cooldown.Milliseconds(),
			DebounceMs:      st.Trigger.Debounce.Milliseconds(),
			StallDegradedMs: st.Trigger.StallDegraded.Milliseconds(),
			StallCriticalMs: st.Trigger.StallCritical.Milliseconds(),
		},
		Retention: RetentionPolicy{
			MaxCount:      st.Retention.MaxCount,
			MaxTotalBytes: st.Retention.MaxTotalBytes,
		},
		Recorder: RecorderStatus{
			Running:  st.RecorderRunning,
			MaxAgeMs: st.Recorder.MaxAge.Milliseconds(),
			MaxBytes: st.Recorder.MaxBytes,
		},
		BundleCount:    st.BundleCount,
		WebhookEnabled: st.WebhookEnabled,
		Scopes:         make([]ScopeStatus, 0, len(st.Scopes)),
	}
	if st.Retention.MaxAge != nil {
		ms := st.Retention.MaxAge.Milliseconds()
		resp.Retention.MaxAgeMs = &ms
	}
	if st.LastIncident != nil {
		resp.LastIncident = &LastIncident{
			ID:         st.LastIncident.ID.String(),
			CreatedAt:  st.LastIncident.At.UTC(),
			BundlePath: st.LastIncident.BundlePath,
		}
	}
	for _, s := range st.Scopes {
		resp.Scopes = append(resp.Scopes, ScopeStatus{Scope: s.Scope, LastBeat: s.LastBeat.UTC(), Stalled: s.Stalled})
	}
	return resp
}

// ToIncidentEntry converts an inventory entry to its wire shape.
func ToIncidentEntry(e inventory.Entry) IncidentEntry {
	out := IncidentEntry{
		ID:        e.ID.String(),
		SizeBytes: e.Size,
		Headline:  e.Headline,
		FileName:  filepath.Base(e.Path),
	}
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt.UTC()
		out.CreatedAt = &t
	}
	return out
}
