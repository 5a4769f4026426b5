// Package events carries what a running session reports to the outside:
// agent utterances, server errors, diagnostics, state changes and the final
// result. Observers must return quickly; they run on the session's pumps.
package events

import (
	"time"
)

// Type names an event
type Type string

const (
	TypeUtterance   Type = "utterance"
	TypeServerError Type = "server_error"
	TypeDiagnostic  Type = "diagnostic"
	TypeState       Type = "state"
	TypeDropped     Type = "chunk_dropped"
	TypeResult      Type = "result"
)

// Event is one observable occurrence in a session
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	Text      string    `json:"text,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Count     uint64    `json:"count,omitempty"`
	Result    any       `json:"result,omitempty"`
}

// Observer receives session events
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Multi fans events out to every non-nil observer, in order.
func Multi(observers ...Observer) Observer {
	var out multi
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Nop discards every event
var Nop Observer = ObserverFunc(func(Event) {})
