// Package trigger decides whether a capture request should become an
// incident. Every request, manual or detected, passes through one Engine
// which enforces a global cooldown and a per kind+scope debounce and
// classifies severity.
package trigger

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Kind names the source of a trigger event.
type Kind string

const (
	KindManual         Kind = "MANUAL"
	KindHeartbeatStall Kind = "HEARTBEAT_STALL"
	KindPanic          Kind = "PANIC"
)

func (k Kind) String() string { return string(k) }

// Well-known attribute keys.
const (
	AttrReason  = "reason"
	AttrStallMs = "stallMs"
	AttrPanic   = "panic"
	AttrStack   = "stack"
)

var (
	ErrBlankScope    = errors.New("trigger scope must be non-blank")
	ErrBlankKind     = errors.New("trigger kind must be non-blank")
	ErrInvalidPolicy = errors.New("invalid trigger policy")
)

// Event is an immutable capture request.
type Event struct {
	kind  Kind
	scope string
	at    time.Time
	attrs map[string]string
}

// NewEvent validates and builds an Event. A zero at means "evaluate at the
// engine's current time". attrs is copied.
func NewEvent(kind Kind, scope string, at time.Time, attrs map[string]string) (Event, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return Event{}, ErrBlankKind
	}
	if strings.TrimSpace(scope) == "" {
		return Event{}, ErrBlankScope
	}
	return Event{kind: kind, scope: scope, at: at, attrs: maps.Clone(attrs)}, nil
}

func (e Event) Kind() Kind { return e.kind }
func (e Event) Scope() string { return e.scope }
func (e Event) At() time.Time { return e.at }
func (e Event) IsZero() bool { return e.kind == "" }
func (e Event) key() string { return string(e.kind) + "|" + e.scope }
func (e Event) String() string { return fmt.Sprintf("%s(%s)", e.kind, e.scope) }

// Attr returns a single attribute.
func (e Event) Attr(key string) (string, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Attrs returns a copy of all attributes.
func (e Event) Attrs() map[string]string {
	out := maps.Clone(e.attrs)
	if out == nil {
		out = map[string]string{}
	}
	return out
}
