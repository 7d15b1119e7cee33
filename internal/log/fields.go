// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldIncidentID = "incident_id"
	FieldInstanceID = "instance_id"
	FieldRequestID  = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// Trigger fields
	FieldTrigger  = "trigger"
	FieldScope    = "scope"
	FieldSeverity = "severity"
	FieldDecision = "decision"
	FieldStallMs  = "stall_ms"

	// Path / URL fields
	FieldPath       = "path"
	FieldBundlePath = "bundle_path"
	FieldDir        = "dir"
)
