// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on capture spans.
const (
	IncidentIDKey       = "incident.id"
	IncidentSeverityKey = "incident.severity"
	TriggerKindKey      = "trigger.kind"
	TriggerScopeKey     = "trigger.scope"
	TriggerDecisionKey  = "trigger.decision"
	BundlePathKey       = "bundle.path"
	BundleBytesKey      = "bundle.bytes"
	StageKey            = "capture.stage"
)

// TriggerAttributes describes the event entering the pipeline.
func TriggerAttributes(kind, scope string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TriggerKindKey, kind),
		attribute.String(TriggerScopeKey, scope),
	}
}

// IncidentAttributes describes an accepted incident.
func IncidentAttributes(id, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(IncidentIDKey, id),
		attribute.String(IncidentSeverityKey, severity),
	}
}

// BundleAttributes describes a written bundle.
func BundleAttributes(path string, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BundlePathKey, path),
		attribute.Int64(BundleBytesKey, size),
	}
}
