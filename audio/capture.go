package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Capture is a push-style microphone source. Once started it calls onChunk
// with fixed-size chunks at roughly real-time cadence, from its own
// goroutine. onChunk must not block. onError reports a fatal device failure;
// no chunks follow it.
type Capture interface {
	Start(onChunk func(Chunk), onError func(error)) error
	Close() error
}

// ReaderCapture paces raw PCM from an io.Reader out as one chunk every
// ChunkDuration. io.EOF ends the stream quietly.
type ReaderCapture struct {
	r        io.Reader
	interval time.Duration

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

// NewReaderCapture creates a source reading PCM16LE mono 24kHz from r.
func NewReaderCapture(r io.Reader) *ReaderCapture {
	return &ReaderCapture{
		r:        r,
		interval: ChunkDuration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithInterval overrides the pacing between chunks (0 sends as fast as possible).
func (c *ReaderCapture) WithInterval(d time.Duration) *ReaderCapture {
	c.interval = d
	return c
}

// Start launches the pacing goroutine
func (c *ReaderCapture) Start(onChunk func(Chunk), onError func(error)) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("capture already started")
	}
	go func() {
		defer close(c.done)

		var ticker *time.Ticker
		if c.interval > 0 {
			ticker = time.NewTicker(c.interval)
			defer ticker.Stop()
		}

		buf := make([]byte, ChunkBytes)
		var seq uint64
		for {
			if _, err := io.ReadFull(c.r, buf); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return
				}
				select {
				case <-c.stop:
				default:
					onError(fmt.Errorf("capture read: %w", err))
				}
				return
			}

			chunk, _ := NewChunk(seq, buf)
			seq++

			select {
			case <-c.stop:
				return
			default:
			}
			onChunk(chunk)

			if ticker != nil {
				select {
				case <-c.stop:
					return
				case <-ticker.C:
				}
			}
		}
	}()
	return nil
}

// Close stops pacing and waits for the goroutine to exit. If the reader is
// an io.Closer it is closed too, which unblocks a pending read.
func (c *ReaderCapture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		if rc, ok := c.r.(io.Closer); ok {
			err = rc.Close()
		}
	})
	if c.started.Load() {
		<-c.done
	}
	return err
}

// SoxCapture records from the default input device through a `sox` child
// process writing raw PCM to stdout.
type SoxCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu      sync.Mutex
	closing bool
	done    chan struct{}
}

// NewSoxCapture prepares (but does not start) the sox recorder.
func NewSoxCapture() *SoxCapture {
	cmd := exec.Command("sox",
		"-q",
		"-d",
		"-t", "raw",
		"-r", strconv.Itoa(SampleRate),
		"-b", "16",
		"-c", strconv.Itoa(Channels),
		"-e", "signed-integer",
		"-L",
		"-",
	)
	return &SoxCapture{cmd: cmd, done: make(chan struct{})}
}

// Start spawns sox and begins chunking its output
func (c *SoxCapture) Start(onChunk func(Chunk), onError func(error)) error {
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sox stdout: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("sox start: %w", err)
	}
	c.stdout = stdout

	go func() {
		defer close(c.done)

		var chunker Chunker
		buf := make([]byte, ChunkBytes)
		for {
			n, err := stdout.Read(buf)
			for _, chunk := range chunker.Write(buf[:n]) {
				onChunk(chunk)
			}
			if err != nil {
				c.mu.Lock()
				closing := c.closing
				c.mu.Unlock()
				if !closing {
					onError(fmt.Errorf("sox capture ended: %w", err))
				}
				return
			}
		}
	}()
	return nil
}

// Close kills the recorder and waits for the reader goroutine
func (c *SoxCapture) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	if c.cmd.Process == nil {
		return nil
	}
	_ = c.cmd.Process.Kill()
	<-c.done
	_ = c.cmd.Wait()
	return nil
}
