// Package session runs one full-duplex voice conversation: it connects,
// sends the session configuration, streams captured audio up while playing
// received audio, and shuts everything down exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/duplexvoice/audio"
	"github.com/room4-2/duplexvoice/events"
	"github.com/room4-2/duplexvoice/messages"
	"github.com/room4-2/duplexvoice/metrics"
	"github.com/room4-2/duplexvoice/transport"
)

const DefaultPollInterval = time.Second

var (
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrStopped is returned by Start when a stop was requested while it
	// was still connecting.
	ErrStopped = errors.New("session: stopped while connecting")
)

// DialFunc opens the connection a session runs over
type DialFunc func(ctx context.Context, url string) (transport.Conn, error)

// Options configures a Controller. URL and Config are required; everything
// else has a usable zero value.
type Options struct {
	URL    string
	Config messages.SessionConfig

	Capture  audio.Capture
	Playback audio.Playback
	Observer events.Observer

	// Dial defaults to a WebSocket dial using Transport.
	Dial      DialFunc
	Transport transport.Options

	QueueCapacity int
	Overflow      audio.OverflowPolicy
	PollInterval  time.Duration
	MaxDuration   time.Duration // 0 means no limit

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry Registry
}

// Controller owns one session: its state, its connection and both pumps.
type Controller struct {
	id       string
	opts     Options
	logger   *slog.Logger
	observer *events.Async
	metrics  *metrics.Metrics
	queue    *audio.ChunkQueue

	state   stateCell
	running atomic.Bool
	conn    transport.Conn

	stopOnce sync.Once
	stopCh   chan struct{}
	reason   stopReason // written once, before stopCh is closed

	teardownOnce sync.Once
	pumps        sync.WaitGroup
	streamed     bool
	done         chan struct{}

	startedAt      atomic.Int64 // unix nanos, 0 until Start
	chunksSent     atomic.Uint64
	framesReceived atomic.Uint64

	resultMu sync.RWMutex
	result   Result
}

// New creates an Idle controller with a fresh session id
func New(opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Dial == nil {
		topts := opts.Transport
		opts.Dial = func(ctx context.Context, url string) (transport.Conn, error) {
			conn, err := transport.Dial(ctx, url, topts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = events.Nop
	}

	id := uuid.New().String()
	c := &Controller{
		id:       id,
		opts:     opts,
		logger:   logger.With(slog.String("session_id", id[:8])),
		observer: events.NewAsync(observer),
		metrics:  opts.Metrics,
		queue:    audio.NewChunkQueue(opts.QueueCapacity, opts.Overflow),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.queue.OnDrop = c.onDrop
	return c
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return c.state.load()
}

// Done is closed once the session is Closed and its Result is available
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// EventsDone is closed after Done, once the observer has been handed every
// event, the result event included.
func (c *Controller) EventsDone() <-chan struct{} {
	return c.observer.Done()
}

// Start connects, sends the session config and starts streaming. ctx bounds
// the whole session: cancelling it stops the session with status completed.
// A connect or config failure closes the session and is returned.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.advance(Idle, Connecting) {
		return ErrAlreadyStarted
	}
	c.startedAt.Store(time.Now().UnixNano())
	c.emitState(Idle, Connecting)
	c.logger.Info("Connecting", slog.String("url", c.opts.URL), slog.String("voice", c.opts.Config.VoicePrompt))

	payload, err := c.opts.Config.Encode()
	if err != nil {
		return c.abortStart(err)
	}

	// A stop request while the handshake is in flight cancels it.
	dialCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-dialCtx.Done():
		}
	}()
	conn, err := c.opts.Dial(dialCtx, c.opts.URL)
	cancel()
	if err != nil {
		return c.abortStart(fmt.Errorf("connect: %w", err))
	}
	c.conn = conn

	if err := conn.Send(transport.TextFrame(payload)); err != nil {
		return c.abortStart(fmt.Errorf("send session config: %w", err))
	}

	select {
	case <-c.stopCh:
		c.teardown()
		return ErrStopped
	default:
	}

	c.running.Store(true)
	c.state.advance(Connecting, Streaming)
	c.streamed = true
	c.emitState(Connecting, Streaming)
	c.metrics.SessionStarted()
	c.logger.Info("Streaming",
		slog.Int("queue_capacity", c.queue.Cap()),
		slog.String("overflow", c.queue.Policy().String()),
	)
	c.register()

	if c.opts.Capture != nil {
		if err := c.opts.Capture.Start(c.onChunk, c.onDeviceError); err != nil {
			err = fmt.Errorf("start capture: %w", err)
			c.requestStop(stopReason{kind: reasonDevice, err: err})
			c.teardown()
			return err
		}
	}

	c.pumps.Add(2)
	go c.uplink()
	go c.downlink()
	go c.supervise(ctx)
	return nil
}

func (c *Controller) abortStart(err error) error {
	c.logger.Error("Session failed to start", slog.Any("error", err))
	c.requestStop(stopReason{kind: reasonConnect, err: err})
	c.teardown()
	return err
}

// Stop requests shutdown and waits for the session to close. It may be
// called any number of times, from any goroutine (observers included);
// every call returns the same Result.
func (c *Controller) Stop() Result {
	if c.state.advance(Idle, Stopping) {
		// Never started: nothing else will run teardown.
		c.emitState(Idle, Stopping)
		c.requestStop(stopReason{kind: reasonCaller})
		c.teardown()
	}
	c.requestStop(stopReason{kind: reasonCaller})
	<-c.done
	res, _ := c.Result()
	return res
}

// Result returns the final Result once the session is Closed
func (c *Controller) Result() (Result, bool) {
	select {
	case <-c.done:
	default:
		return Result{}, false
	}
	c.resultMu.RLock()
	defer c.resultMu.RUnlock()
	return c.result, true
}

// Snapshot returns live counters with status connected, or the final Result
// once the session is Closed.
func (c *Controller) Snapshot() Result {
	if res, ok := c.Result(); ok {
		return res
	}
	res := c.baseResult()
	res.Status = StatusConnected
	return res
}

// requestStop is the single shutdown entry point. The first reason wins.
func (c *Controller) requestStop(r stopReason) {
	c.stopOnce.Do(func() {
		c.reason = r
		c.running.Store(false)
		close(c.stopCh)
		c.logger.Debug("Stop requested", slog.String("reason", r.String()), slog.Any("error", r.err))
	})
}

func (c *Controller) supervise(ctx context.Context) {
	var limit <-chan time.Time
	if c.opts.MaxDuration > 0 {
		timer := time.NewTimer(c.opts.MaxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	select {
	case <-c.stopCh:
	case <-ctx.Done():
		c.requestStop(stopReason{kind: reasonContext})
	case <-limit:
		c.logger.Info("Session duration reached", slog.Duration("limit", c.opts.MaxDuration))
		c.requestStop(stopReason{kind: reasonDuration})
	}
	c.teardown()
}

// teardown releases everything in order and publishes the Result. It runs
// once, after a stop has been requested.
func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		c.running.Store(false)
		if prev, ok := c.state.stopping(); ok {
			c.emitState(prev, Stopping)
		}

		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.logger.Debug("Connection close", slog.Any("error", err))
			}
		}
		if c.opts.Capture != nil {
			if err := c.opts.Capture.Close(); err != nil {
				c.logger.Warn("Capture close failed", slog.Any("error", err))
			}
		}
		c.pumps.Wait()
		if c.opts.Playback != nil {
			if err := c.opts.Playback.Close(); err != nil {
				c.logger.Warn("Playback close failed", slog.Any("error", err))
			}
		}
		c.queue.Clear()
		c.metrics.SetQueueDepth(0)

		c.state.advance(Stopping, Closed)
		c.emitState(Stopping, Closed)

		res := c.baseResult()
		res.Status = c.reason.status(c.opts.MaxDuration > 0)
		if res.Status == StatusError && c.reason.err != nil {
			res.Error = c.reason.err.Error()
		}

		c.resultMu.Lock()
		c.result = res
		c.resultMu.Unlock()

		c.metrics.SessionFinished(string(res.Status), res.DurationSeconds, c.streamed)
		c.finish(res)
		c.logger.Info("🔌 Session closed", slog.String("status", string(res.Status)), slog.String("reason", c.reason.String()))
		c.emit(events.Event{Type: events.TypeResult, Result: res})
		c.observer.Close()
		close(c.done)
	})
}

func (c *Controller) baseResult() Result {
	res := Result{
		SessionID:      c.id,
		Server:         c.opts.URL,
		Voice:          c.opts.Config.Voice(),
		TextPrompt:     truncatePrompt(c.opts.Config.TextPrompt),
		ChunksSent:     c.chunksSent.Load(),
		ChunksDropped:  c.queue.Dropped(),
		FramesReceived: c.framesReceived.Load(),
	}
	if ns := c.startedAt.Load(); ns != 0 {
		res.StartedAt = time.Unix(0, ns)
		res.DurationSeconds = time.Since(res.StartedAt).Seconds()
	}
	return res
}

func (c *Controller) register() {
	if c.opts.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := c.opts.Registry.Register(ctx, c.baseResult()); err != nil {
		c.logger.Warn("Registry update failed", slog.Any("error", err))
	}
}

func (c *Controller) finish(res Result) {
	if c.opts.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := c.opts.Registry.Finish(ctx, res); err != nil {
		c.logger.Warn("Registry update failed", slog.Any("error", err))
	}
}

// onChunk is the capture callback. It only enqueues.
func (c *Controller) onChunk(chunk audio.Chunk) {
	c.metrics.ChunkCaptured()
	c.queue.Push(chunk)
}

// onDrop runs on the capture goroutine; the event is reported by the uplink.
func (c *Controller) onDrop(audio.Chunk) {
	c.metrics.ChunkDropped()
}

func (c *Controller) onDeviceError(err error) {
	c.logger.Error("Audio device failed", slog.Any("error", err))
	c.requestStop(stopReason{kind: reasonDevice, err: err})
}

func (c *Controller) emitState(from, to State) {
	c.emit(events.Event{Type: events.TypeState, From: from.String(), To: to.String()})
}

func (c *Controller) emit(e events.Event) {
	e.SessionID = c.id
	e.Time = time.Now()
	c.observer.Observe(e)
}

// Run starts a session and blocks until it closes. Every outcome, including
// a failed connect, is reported in the Result.
func Run(ctx context.Context, opts Options) Result {
	c := New(opts)
	if err := c.Start(ctx); err != nil {
		res := c.Stop()
		<-c.EventsDone()
		return res
	}
	<-c.Done()
	<-c.EventsDone()
	res, _ := c.Result()
	return res
}
