package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultPingPeriod       = 20 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultMaxMessageSize   = 1 << 20
	inboundBuffer           = 64
)

// Options tunes the WebSocket dialer and keep-alive
type Options struct {
	// InsecureSkipVerify accepts self-signed server certificates.
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
	WriteWait          time.Duration
	PingPeriod         time.Duration
	PongWait           time.Duration
	MaxMessageSize     int64
	Header             http.Header
}

// DefaultOptions mirrors what a PersonaPlex server expects: liberal TLS,
// 20s pings, 60s pong timeout and a 1MiB message ceiling.
func DefaultOptions() Options {
	return Options{
		InsecureSkipVerify: true,
		HandshakeTimeout:   defaultHandshakeTimeout,
		WriteWait:          defaultWriteWait,
		PingPeriod:         defaultPingPeriod,
		PongWait:           defaultPongWait,
		MaxMessageSize:     defaultMaxMessageSize,
	}
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// WSConn is a Conn over gorilla/websocket. A reader goroutine owns
// ReadMessage and hands frames to Receive over a channel, so Receive can
// time out without leaving the websocket in a failed read state.
type WSConn struct {
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex

	inbound  chan Frame
	readErr  error // set before inbound and readDone are closed
	readDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a WebSocket connection to url
func Dial(ctx context.Context, url string, opts Options) (*WSConn, error) {
	opts = opts.withDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // self-signed PersonaPlex certs
		},
	}

	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return NewWSConn(conn, opts), nil
}

// NewWSConn wraps an established websocket and starts its reader and
// keep-alive goroutines.
func NewWSConn(conn *websocket.Conn, opts Options) *WSConn {
	opts = opts.withDefaults()
	c := &WSConn{
		conn:     conn,
		opts:     opts,
		inbound:  make(chan Frame, inboundBuffer),
		readDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	if opts.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
	}

	go c.readLoop()
	if opts.PingPeriod > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *WSConn) readLoop() {
	defer close(c.readDone)
	defer close(c.inbound)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				c.readErr = ErrClosed
			default:
				c.readErr = err
			}
			return
		}

		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		select {
		case c.inbound <- Frame{Type: MessageType(msgType), Data: data}:
		case <-c.closed:
			c.readErr = ErrClosed
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Send writes f as one websocket message
func (c *WSConn) Send(f Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteMessage(int(f.Type), f.Data); err != nil {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		// The peer started the closing handshake: report why the reader
		// stopped rather than the write that lost the race.
		if errors.Is(err, websocket.ErrCloseSent) {
			select {
			case <-c.readDone:
				return c.readErr
			case <-time.After(c.opts.WriteWait):
			}
		}
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Receive returns the next inbound frame, ErrTimeout if none arrived within
// timeout, or the error that ended the reader.
func (c *WSConn) Receive(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-c.inbound:
		if !ok {
			return Frame{}, c.readErr
		}
		return f, nil
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

// Close sends a best-effort close frame and tears the socket down. Safe to
// call repeatedly and concurrently with Send/Receive.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
