package events

import "sync"

// Async delivers events to another observer from its own goroutine, in
// order. Observe never blocks and never drops; the backlog is unbounded.
// Observers behind an Async may call back into whatever produced the event.
type Async struct {
	next Observer

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewAsync starts delivering to next
func NewAsync(next Observer) *Async {
	a := &Async{
		next: next,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

// Observe queues e. Events observed after Close are discarded.
func (a *Async) Observe(e Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = append(a.pending, e)
	a.mu.Unlock()
	a.signal()
}

// Close stops accepting events. Done is closed once the backlog has been
// delivered.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.signal()
}

// Done is closed after Close, once every queued event has been delivered
func (a *Async) Done() <-chan struct{} {
	return a.done
}

func (a *Async) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Async) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		batch := a.pending
		a.pending = nil
		closed := a.closed
		a.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-a.wake
			continue
		}
		for _, e := range batch {
			a.next.Observe(e)
		}
	}
}
