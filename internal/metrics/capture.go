// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	triggerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_trigger_decisions_total",
		Help: "Trigger evaluations by kind and decision",
	}, []string{"kind", "decision"}) // decision=accept|cooldown|debounce

	incidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_incidents_total",
		Help: "Incident bundles written by severity",
	}, []string{"severity"})

	captureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_capture_failures_total",
		Help: "Capture pipeline step failures by stage",
	}, []string{"stage"}) // stage=metadata|recording|extras|bundle|retention|notify|cleanup

	captureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blackbox_capture_duration_seconds",
		Help:    "Wall time from accepted trigger to written bundle",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// Heartbeats
	heartbeatStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blackbox_heartbeat_stalls_total",
		Help: "Stall episodes detected across all scopes",
	})
	heartbeatScopes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blackbox_heartbeat_scopes",
		Help: "Scopes currently tracked by the heartbeat registry",
	})

	// Webhook
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_webhook_deliveries_total",
		Help: "Webhook notification attempts by outcome",
	}, []string{"outcome"}) // outcome=sent|failed|suppressed|rejected
)

// Stage labels for capture failures.
const (
	StageMetadata  = "metadata"
	StageRecording = "recording"
	StageExtras    = "extras"
	StageBundle    = "bundle"
	StageRetention = "retention"
	StageNotify    = "notify"
	StageCleanup   = "cleanup"
)

func IncTriggerDecision(kind, decision string) {
	triggerDecisions.WithLabelValues(kind, decision).Inc()
}

func IncIncident(severity string) { incidentsTotal.WithLabelValues(severity).Inc() }

func IncCaptureFailure(stage string) { captureFailures.WithLabelValues(stage).Inc() }

func ObserveCaptureDuration(d time.Duration) { captureDuration.Observe(d.Seconds()) }

func IncHeartbeatStall() { heartbeatStalls.Inc() }

func SetHeartbeatScopes(n int) { heartbeatScopes.Set(float64(n)) }

func IncWebhookDelivery(outcome string) { webhookDeliveries.WithLabelValues(outcome).Inc() }
