package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// ErrPlaybackClosed is returned by Write after Close
var ErrPlaybackClosed = errors.New("playback closed")

// Playback accepts PCM16LE mono 24kHz buffers of any length for immediate
// playback. Write is called from a single goroutine.
type Playback interface {
	Write(pcm []byte) error
	Close() error
}

// SoxPlayback streams audio to the default output device via sox
type SoxPlayback struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

// NewSoxPlayback starts a sox process reading raw PCM from stdin
func NewSoxPlayback() (*SoxPlayback, error) {
	cmd := exec.Command("sox",
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(SampleRate),
		"-b", "16",
		"-c", strconv.Itoa(Channels),
		"-e", "signed-integer",
		"-L",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sox start (is sox installed?): %w", err)
	}

	return &SoxPlayback{cmd: cmd, stdin: stdin}, nil
}

// Write hands pcm to sox
func (p *SoxPlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlaybackClosed
	}
	if _, err := p.stdin.Write(pcm); err != nil {
		return fmt.Errorf("sox playback write: %w", err)
	}
	return nil
}

// Close flushes stdin and waits for sox to exit
func (p *SoxPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Wait()
	}
	return nil
}

// WriterPlayback sends audio to an arbitrary io.Writer (a file, a pipe to
// another player, a buffer in tests).
type WriterPlayback struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

// NewWriterPlayback wraps w
func NewWriterPlayback(w io.Writer) *WriterPlayback {
	return &WriterPlayback{w: w}
}

func (p *WriterPlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlaybackClosed
	}
	_, err := p.w.Write(pcm)
	return err
}

// Close closes the writer if it is an io.Closer
func (p *WriterPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
