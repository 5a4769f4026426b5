package session

import "sync/atomic"

// State is where a session is in its lifecycle. States only move forward:
// Idle → Connecting → Streaming → Stopping → Closed.
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateCell holds a State and only lets it advance.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State {
	return State(c.v.Load())
}

// advance moves from → to if the cell still holds from.
func (c *stateCell) advance(from, to State) bool {
	if to <= from {
		return false
	}
	return c.v.CompareAndSwap(int32(from), int32(to))
}

// stopping moves any live state to Stopping and returns what it left.
// ok is false if the cell was already Stopping or Closed.
func (c *stateCell) stopping() (prev State, ok bool) {
	for {
		cur := c.load()
		if cur >= Stopping {
			return cur, false
		}
		if c.v.CompareAndSwap(int32(cur), int32(Stopping)) {
			return cur, true
		}
	}
}
