package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/duplexvoice/audio"
	"github.com/room4-2/duplexvoice/events"
)

func TestCaptureCallbackIgnoresSlowObserver(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := New(Options{
		URL:           "ws://127.0.0.1:1/ws",
		QueueCapacity: 1,
		Observer:      events.ObserverFunc(func(events.Event) { <-release }),
		Logger:        discardLogger(),
	})

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			chunk, _ := audio.NewChunk(uint64(i), make([]byte, audio.ChunkBytes))
			c.onChunk(chunk)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("capture callback blocked on overflow")
	}
	assert.Equal(t, uint64(9), c.queue.Dropped())
}

func TestUplinkReportsDrops(t *testing.T) {
	var mu sync.Mutex
	var got []events.Event
	c := New(Options{
		URL:           "ws://127.0.0.1:1/ws",
		QueueCapacity: 1,
		Observer: events.ObserverFunc(func(e events.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		}),
		Logger: discardLogger(),
	})

	for i := 0; i < 4; i++ {
		chunk, _ := audio.NewChunk(uint64(i), make([]byte, audio.ChunkBytes))
		c.onChunk(chunk)
	}

	reported := c.reportDrops(0)
	assert.Equal(t, uint64(3), reported)
	assert.Equal(t, uint64(3), c.reportDrops(reported), "nothing new to report")

	c.Stop()
	<-c.EventsDone()

	mu.Lock()
	defer mu.Unlock()
	var dropped []events.Event
	for _, e := range got {
		if e.Type == events.TypeDropped {
			dropped = append(dropped, e)
		}
	}
	require.Len(t, dropped, 1)
	assert.Equal(t, uint64(3), dropped[0].Count)
}
