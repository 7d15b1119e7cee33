package incident

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/blackbox/internal/jsonw"
)

// JSONFileName is the bundle entry holding the machine-readable report.
const JSONFileName = "incident.json"

// WriteJSON writes r as incident.json. Key order is fixed:
// meta{id, createdAt, severity, trigger, scope, headline} then
// summary{likelyCause, whatHappened, nextSteps}. An empty scope is null.
func WriteJSON(w io.Writer, r Report) error {
	out := jsonw.New(w)
	out.BeginObject()

	out.Name("meta").BeginObject().
		Name("id").String(string(r.Meta.ID)).
		Name("createdAt").String(r.Meta.CreatedAt.UTC().Format(time.RFC3339Nano)).
		Name("severity").String(string(r.Meta.Severity)).
		Name("trigger").String(r.Meta.Trigger).
		Name("scope").StringOrNull(r.Meta.Scope).
		Name("headline").String(r.Meta.Headline).
		EndObject()

	out.Name("summary").BeginObject().
		Name("likelyCause").String(r.Summary.LikelyCause).
		Name("whatHappened").Strings(r.Summary.WhatHappened).
		Name("nextSteps").Strings(r.Summary.NextSteps).
		EndObject()

	out.EndObject()
	return out.Flush()
}

type wireReport struct {
	Meta *struct {
		ID        string  `json:"id"`
		CreatedAt string  `json:"createdAt"`
		Severity  string  `json:"severity"`
		Trigger   string  `json:"trigger"`
		Scope     *string `json:"scope"`
		Headline  string  `json:"headline"`
	} `json:"meta"`
	Summary *struct {
		LikelyCause  string   `json:"likelyCause"`
		WhatHappened []string `json:"whatHappened"`
		NextSteps    []string `json:"nextSteps"`
	} `json:"summary"`
}

// ReadJSON parses a document produced by WriteJSON.
func ReadJSON(r io.Reader) (Report, error) {
	var wire wireReport
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	if wire.Meta == nil || wire.Summary == nil {
		return Report{}, fmt.Errorf("%w: missing meta or summary", ErrMalformedReport)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, wire.Meta.CreatedAt)
	if err != nil {
		return Report{}, fmt.Errorf("%w: createdAt: %v", ErrMalformedReport, err)
	}
	severity, err := ParseSeverity(wire.Meta.Severity)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	scope := ""
	if wire.Meta.Scope != nil {
		scope = *wire.Meta.Scope
	}
	meta, err := NewMetadata(ID(wire.Meta.ID), createdAt, severity, wire.Meta.Trigger, scope, wire.Meta.Headline)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	return Report{
		Meta:    meta,
		Summary: NewSummary(wire.Summary.LikelyCause, wire.Summary.WhatHappened, wire.Summary.NextSteps),
	}, nil
}
