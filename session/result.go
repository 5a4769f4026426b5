package session

import (
	"errors"
	"time"

	"github.com/room4-2/duplexvoice/transport"
)

// Status is the outcome reported in a Result
type Status string

const (
	// StatusConnected is only reported by Snapshot while a session is live.
	StatusConnected    Status = "connected"
	StatusCompleted    Status = "completed"
	StatusDisconnected Status = "disconnected"
	StatusTimeout      Status = "timeout"
	StatusError        Status = "error"
)

const maxPromptInResult = 100

// Result summarises a session. A Controller produces exactly one, when it
// reaches Closed.
type Result struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Error           string    `json:"error,omitempty"`
	Server          string    `json:"server"`
	Voice           string    `json:"voice"`
	TextPrompt      string    `json:"text_prompt,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ChunksSent      uint64    `json:"chunks_sent"`
	ChunksDropped   uint64    `json:"chunks_dropped"`
	FramesReceived  uint64    `json:"frames_received"`
}

func truncatePrompt(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPromptInResult {
		return s
	}
	return string(runes[:maxPromptInResult]) + "..."
}

type reasonKind int

const (
	reasonCaller reasonKind = iota
	reasonContext
	reasonDuration
	reasonTransport
	reasonDevice
	reasonConnect
)

// stopReason is why a session is shutting down. The first one wins.
type stopReason struct {
	kind reasonKind
	err  error
}

// status maps the reason onto a Status. A peer that hangs up cleanly while a
// duration limit is running ended the session early: completed.
func (r stopReason) status(limited bool) Status {
	switch r.kind {
	case reasonCaller, reasonContext:
		return StatusDisconnected
	case reasonDuration:
		return StatusTimeout
	case reasonTransport:
		if transport.IsNormalClosure(r.err) {
			if limited {
				return StatusCompleted
			}
			return StatusDisconnected
		}
		return StatusError
	default:
		return StatusError
	}
}

func (r stopReason) String() string {
	switch r.kind {
	case reasonCaller:
		return "caller"
	case reasonContext:
		return "cancelled"
	case reasonDuration:
		return "duration limit"
	case reasonTransport:
		return "transport"
	case reasonDevice:
		return "device"
	case reasonConnect:
		return "connect"
	default:
		return "unknown"
	}
}

// transportStop classifies an error returned by Send or Receive.
func transportStop(err error) stopReason {
	if errors.Is(err, transport.ErrClosed) {
		// Only teardown closes the connection, so a stop is already under way.
		return stopReason{kind: reasonCaller}
	}
	return stopReason{kind: reasonTransport, err: err}
}
