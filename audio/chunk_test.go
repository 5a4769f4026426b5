package audio

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShape(t *testing.T) {
	assert.Equal(t, 1920, ChunkSamples)
	assert.Equal(t, 3840, ChunkBytes)
}

func TestNewChunkRejectsWrongSize(t *testing.T) {
	_, err := NewChunk(0, make([]byte, ChunkBytes-2))
	assert.True(t, errors.Is(err, ErrChunkSize))

	_, err = NewChunk(0, make([]byte, ChunkBytes+2))
	assert.True(t, errors.Is(err, ErrChunkSize))
}

func TestNewChunkCopies(t *testing.T) {
	pcm := make([]byte, ChunkBytes)
	chunk, err := NewChunk(7, pcm)
	require.NoError(t, err)

	pcm[0] = 0xff
	assert.Equal(t, byte(0), chunk.Data[0])
	assert.Equal(t, uint64(7), chunk.Seq)
	assert.Equal(t, ChunkBytes, chunk.Len())
}

func TestChunkerSplitsStream(t *testing.T) {
	var c Chunker

	assert.Empty(t, c.Write(make([]byte, 1000)))
	assert.Equal(t, 1000, c.Pending())

	out := c.Write(make([]byte, ChunkBytes*2))
	require.Len(t, out, 2)
	assert.Equal(t, uint64(0), out[0].Seq)
	assert.Equal(t, uint64(1), out[1].Seq)
	assert.Equal(t, 1000, c.Pending())

	out = c.Write(make([]byte, ChunkBytes-1000))
	require.Len(t, out, 1)
	assert.Equal(t, uint64(2), out[0].Seq)
	assert.Zero(t, c.Pending())
}

func TestReaderCaptureDeliversChunks(t *testing.T) {
	pcm := make([]byte, ChunkBytes*3+100)
	for i := range pcm {
		pcm[i] = byte(i / ChunkBytes)
	}

	capture := NewReaderCapture(bytes.NewReader(pcm)).WithInterval(0)

	var mu sync.Mutex
	var got []Chunk
	require.NoError(t, capture.Start(func(c Chunk) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}, func(err error) {
		t.Errorf("unexpected capture error: %v", err)
	}))
	<-capture.done
	require.NoError(t, capture.Close())

	mu.Lock()
	defer mu.Unlock()
	// trailing 100 bytes never form a chunk
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, uint64(i), c.Seq)
		assert.Equal(t, byte(i), c.Data[0])
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReaderCaptureReportsReadError(t *testing.T) {
	capture := NewReaderCapture(failingReader{})

	errCh := make(chan error, 1)
	require.NoError(t, capture.Start(func(Chunk) {}, func(err error) { errCh <- err }))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("capture error not reported")
	}
	require.NoError(t, capture.Close())
}

func TestReaderCaptureCloseBeforeStart(t *testing.T) {
	capture := NewReaderCapture(bytes.NewReader(nil))
	assert.NoError(t, capture.Close())
	assert.NoError(t, capture.Close())
}

func TestWriterPlayback(t *testing.T) {
	var buf bytes.Buffer
	p := NewWriterPlayback(&buf)

	require.NoError(t, p.Write([]byte{1, 2, 3}))
	require.NoError(t, p.Write([]byte{4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Bytes())

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Write([]byte{5}), ErrPlaybackClosed)
}
