package trigger

import "github.com/ManuGH/blackbox/internal/incident"

// Decision is the outcome of evaluating one event.
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionCooldown Decision = "cooldown"
	DecisionDebounce Decision = "debounce"
)

func (d Decision) String() string { return string(d) }

// Result is produced once per evaluated event.
type Result struct {
	Decision Decision
	Severity incident.Severity
	Headline string
}

// Accepted reports whether the event should be captured.
func (r Result) Accepted() bool { return r.Decision == DecisionAccept }
