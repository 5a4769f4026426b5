package audio

import (
	"fmt"
	"sync"
	"time"
)

// DefaultQueueCapacity holds roughly two seconds of 80ms chunks
const DefaultQueueCapacity = 25

// OverflowPolicy decides which chunk is discarded when the queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued chunk to make room for the new one.
	DropOldest OverflowPolicy = iota
	// DropNewest keeps the queue as is and discards the incoming chunk.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy maps a config value onto an OverflowPolicy
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// ChunkQueue is a bounded FIFO between the capture callback and the uplink.
// Push never blocks the producer; Pop waits up to a timeout.
type ChunkQueue struct {
	mu      sync.Mutex
	buf     []Chunk
	head    int
	size    int
	policy  OverflowPolicy
	dropped uint64

	// signal is a one-slot wakeup for a waiting Pop
	signal chan struct{}

	// OnDrop is called (outside the lock) for every discarded chunk
	OnDrop func(dropped Chunk)
}

// NewChunkQueue creates a queue holding at most capacity chunks.
func NewChunkQueue(capacity int, policy OverflowPolicy) *ChunkQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ChunkQueue{
		buf:    make([]Chunk, capacity),
		policy: policy,
		signal: make(chan struct{}, 1),
	}
}

// Push enqueues chunk, applying the overflow policy when the queue is full.
func (q *ChunkQueue) Push(chunk Chunk) {
	q.mu.Lock()
	var victim Chunk
	drop := false
	if q.size == len(q.buf) {
		drop = true
		q.dropped++
		if q.policy == DropNewest {
			victim = chunk
		} else {
			victim = q.buf[q.head]
			q.buf[q.head] = Chunk{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
		}
	}
	if !drop || q.policy == DropOldest {
		q.buf[(q.head+q.size)%len(q.buf)] = chunk
		q.size++
	}
	onDrop := q.OnDrop
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}

	if drop && onDrop != nil {
		onDrop(victim)
	}
}

// Pop returns the oldest chunk, waiting up to timeout for one to arrive.
// The bool is false when the timeout elapsed with the queue still empty.
func (q *ChunkQueue) Pop(timeout time.Duration) (Chunk, bool) {
	if chunk, ok := q.tryPop(); ok {
		return chunk, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if chunk, ok := q.tryPop(); ok {
				return chunk, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *ChunkQueue) tryPop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Chunk{}, false
	}
	chunk := q.buf[q.head]
	q.buf[q.head] = Chunk{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return chunk, true
}

// Len returns the number of queued chunks
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the configured capacity
func (q *ChunkQueue) Cap() int {
	return len(q.buf)
}

// Dropped returns how many chunks the overflow policy has discarded
func (q *ChunkQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Policy returns the overflow policy
func (q *ChunkQueue) Policy() OverflowPolicy {
	return q.policy
}

// Clear empties the queue without touching the drop counter
func (q *ChunkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.buf {
		q.buf[i] = Chunk{}
	}
	q.head = 0
	q.size = 0
}
