// Package audio holds the fixed PCM chunk shape shared by capture, the uplink
// queue and playback, plus the capture/playback adapters that sit at the
// edge of a session.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Fixed session audio format: signed 16-bit little-endian mono at 24kHz,
// moved around in 80ms chunks.
const (
	SampleRate     = 24000
	Channels       = 1
	BytesPerSample = 2
	ChunkDuration  = 80 * time.Millisecond

	// 1920 samples, 3840 bytes per chunk
	ChunkSamples = SampleRate * int(ChunkDuration/time.Millisecond) / 1000
	ChunkBytes   = ChunkSamples * BytesPerSample * Channels
)

// ErrChunkSize is returned when PCM data does not match ChunkBytes
var ErrChunkSize = errors.New("audio chunk size mismatch")

// Chunk is one 80ms block of captured PCM. Treat Data as read-only once built.
type Chunk struct {
	Seq      uint64
	Data     []byte
	Captured time.Time
}

// NewChunk copies pcm into a new Chunk. pcm must be exactly ChunkBytes long.
func NewChunk(seq uint64, pcm []byte) (Chunk, error) {
	if len(pcm) != ChunkBytes {
		return Chunk{}, fmt.Errorf("%w: got %d bytes, want %d", ErrChunkSize, len(pcm), ChunkBytes)
	}
	data := make([]byte, ChunkBytes)
	copy(data, pcm)
	return Chunk{Seq: seq, Data: data, Captured: time.Now()}, nil
}

// Len returns the payload size in bytes
func (c Chunk) Len() int {
	return len(c.Data)
}

// Chunker cuts an arbitrary byte stream into ChunkBytes-sized chunks,
// numbering them in arrival order. Trailing bytes wait for the next Write.
type Chunker struct {
	pending []byte
	next    uint64
}

// Write appends pcm and returns every complete chunk it produced.
func (c *Chunker) Write(pcm []byte) []Chunk {
	c.pending = append(c.pending, pcm...)
	var out []Chunk
	for len(c.pending) >= ChunkBytes {
		chunk, _ := NewChunk(c.next, c.pending[:ChunkBytes])
		c.next++
		out = append(out, chunk)
		c.pending = c.pending[ChunkBytes:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return out
}

// Pending returns the number of buffered bytes not yet forming a chunk
func (c *Chunker) Pending() int {
	return len(c.pending)
}
