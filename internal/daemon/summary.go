package daemon

import (
	"fmt"
	"strings"

	"github.com/ManuGH/blackbox/internal/capture"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/trigger"
)

const openRecording = "Open recording.trace with `go tool trace recording.trace` and inspect the last seconds before the capture."

// Summarize writes the human-facing summary for the trigger kinds the
// daemon emits.
func Summarize(res trigger.Result, ev trigger.Event) incident.Summary {
	switch ev.Kind() {
	case trigger.KindManual:
		happened := []string{"A capture was requested manually for scope " + ev.Scope() + "."}
		if reason, _ := ev.Attr(trigger.AttrReason); strings.TrimSpace(reason) != "" {
			happened = append(happened, "Reason given: "+reason)
		}
		return incident.NewSummary(
			"Operator request",
			happened,
			[]string{openRecording, "Compare extras/runtime.txt with a capture taken while healthy."},
		)

	case trigger.KindHeartbeatStall:
		stall := trigger.StallDuration(ev)
		return incident.NewSummary(
			fmt.Sprintf("The %s loop is blocked or starved", ev.Scope()),
			[]string{
				fmt.Sprintf("Scope %s did not beat for %dms.", ev.Scope(), stall.Milliseconds()),
				fmt.Sprintf("Severity %s was assigned from the stall thresholds.", res.Severity),
			},
			[]string{
				openRecording,
				"Look for goroutines blocked on locks, channels or syscalls in the trace.",
				"Check extras/scopes.txt for other scopes stalled at the same time.",
			},
		)

	case trigger.KindPanic:
		msg, _ := ev.Attr(trigger.AttrPanic)
		return incident.NewSummary(
			"Unrecovered panic: "+msg,
			[]string{"A goroutine panicked and the process is about to crash."},
			[]string{
				"Read the stack in extras/trigger.txt.",
				openRecording,
			},
		)
	}
	return capture.DefaultSummary(res, ev)
}
