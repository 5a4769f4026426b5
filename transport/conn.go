// Package transport is the message-oriented connection a session runs over:
// discrete binary and text frames, in order, in both directions.
package transport

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrTimeout is returned by Receive when no frame arrived within the timeout.
	// It is an idle tick, not a failure.
	ErrTimeout = errors.New("transport: receive timeout")

	// ErrClosed is returned once the connection has been closed locally.
	ErrClosed = errors.New("transport: connection closed")
)

// MessageType distinguishes binary audio frames from text control frames
type MessageType int

const (
	Binary MessageType = websocket.BinaryMessage
	Text   MessageType = websocket.TextMessage
)

func (t MessageType) String() string {
	switch t {
	case Binary:
		return "binary"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Frame is one transport message. Sending a Frame is atomic: the peer sees
// exactly one message with exactly these bytes.
type Frame struct {
	Type MessageType
	Data []byte
}

// BinaryFrame wraps raw bytes as a binary message
func BinaryFrame(data []byte) Frame {
	return Frame{Type: Binary, Data: data}
}

// TextFrame wraps a string payload as a text message
func TextFrame(data []byte) Frame {
	return Frame{Type: Text, Data: data}
}

// Conn is the connection handle a session is given. Send and Receive may be
// used concurrently with each other (one writer, one reader); Close may be
// called from anywhere, any number of times, and unblocks both.
type Conn interface {
	Send(f Frame) error
	Receive(timeout time.Duration) (Frame, error)
	Close() error
}

// IsNormalClosure reports whether err is the peer ending the connection
// cleanly with a normal or going-away close frame.
func IsNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
