// Package events defines the fallback-event records emitted by the demo
// delivery pipeline and the sink boundary they are handed to. Records
// are append-only: nothing in this package mutates or deletes an event
// once logged; retention is the collaborator's concern.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reason codes attached to fallback transitions and terminal outcomes.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonIframeTimeout  Reason = "iframe-timeout"
	ReasonProxyTimeout   Reason = "proxy-timeout"
	ReasonProxyError     Reason = "proxy-error"
	ReasonProxyHTTPError Reason = "proxy-http-error"
	ReasonProxyNotHTML   Reason = "proxy-not-html"
	ReasonFrameBlocked   Reason = "frame-blocked"
	ReasonProbeFailed    Reason = "probe-failed"
	ReasonForcedPolicy   Reason = "forced-policy"
)

// Type of a recorded event.
type Type string

const (
	TypeDemoView    Type = "demo-view"
	TypeModeAttempt Type = "mode-attempt"
	TypeSettled     Type = "settled"
)

// Event is one immutable record of the pipeline's behavior for a demo
// session.
type Event struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id,omitempty"`
	Slug       string         `json:"slug"`
	Type       Type           `json:"type"`
	Reason     Reason         `json:"reason,omitempty"`
	ChosenMode string         `json:"chosen_mode,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New stamps a fresh event with an ID and timestamp.
func New(slug string, typ Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Slug:      slug,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// Logger receives events. Implementations must tolerate concurrent
// callers and must not block session progress on sink latency.
type Logger interface {
	Log(ctx context.Context, ev Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Log(context.Context, Event) {}

// Multi fans an event out to every sink.
type Multi []Logger

func (m Multi) Log(ctx context.Context, ev Event) {
	for _, sink := range m {
		sink.Log(ctx, ev)
	}
}
