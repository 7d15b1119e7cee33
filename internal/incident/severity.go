package incident

import (
	"fmt"
	"strings"
)

// Severity classifies how bad an incident is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityDegraded Severity = "DEGRADED"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityDegraded, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string { return string(s) }

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, raw)
	}
	return s, nil
}
