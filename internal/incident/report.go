package incident

import (
	"strings"
	"time"
)

// Metadata identifies what happened and when. Scope is empty when the
// incident is not tied to a monitored unit.
type Metadata struct {
	ID        ID
	CreatedAt time.Time
	Severity  Severity
	Trigger   string
	Scope     string
	Headline  string
}

// Summary is the free-text, human-facing content of a report. List order
// is display order.
type Summary struct {
	LikelyCause  string
	WhatHappened []string
	NextSteps    []string
}

// Report is everything serialized into a bundle.
type Report struct {
	Meta    Metadata
	Summary Summary
}

// NewMetadata validates and builds Metadata.
func NewMetadata(id ID, createdAt time.Time, severity Severity, trigger, scope, headline string) (Metadata, error) {
	if strings.TrimSpace(string(id)) == "" {
		return Metadata{}, ErrBlankID
	}
	if createdAt.IsZero() {
		return Metadata{}, ErrMissingCreatedAt
	}
	if !severity.Valid() {
		return Metadata{}, ErrInvalidSeverity
	}
	if strings.TrimSpace(trigger) == "" {
		return Metadata{}, ErrBlankTrigger
	}
	return Metadata{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Severity:  severity,
		Trigger:   validText(trigger),
		Scope:     validText(scope),
		Headline:  validText(headline),
	}, nil
}

// NewSummary copies the lists so later mutation by the caller has no effect.
func NewSummary(likelyCause string, whatHappened, nextSteps []string) Summary {
	return Summary{
		LikelyCause:  validText(likelyCause),
		WhatHappened: validLines(whatHappened),
		NextSteps:    validLines(nextSteps),
	}
}

// validText replaces invalid UTF-8 with U+FFFD, matching what incident.json
// stores for the same bytes.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func validLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, validText(l))
	}
	return out
}
