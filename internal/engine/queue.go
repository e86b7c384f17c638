package engine

import (
	"encoding/json"
	"sync"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeUpdate carries an incremental catalog update: a JSON array
	// of products (a "new realogram").
	EventTypeUpdate EventType = iota + 1
	// EventTypeIdentify carries an identification label as a JSON string.
	EventTypeIdentify
	// EventTypeCommercial carries a full product pushed by older backends.
	EventTypeCommercial
	// EventTypeExpire is enqueued by the dwell timer.
	EventTypeExpire
	// EventTypeConnected and EventTypeDisconnected report transport state.
	EventTypeConnected
	EventTypeDisconnected

	// eventTypeFlush is a barrier used by Flush.
	eventTypeFlush
)

func (t EventType) String() string {
	switch t {
	case EventTypeUpdate:
		return "update"
	case EventTypeIdentify:
		return "identify"
	case EventTypeCommercial:
		return "commercial"
	case EventTypeExpire:
		return "expire"
	case EventTypeConnected:
		return "connected"
	case EventTypeDisconnected:
		return "disconnected"
	case eventTypeFlush:
		return "flush"
	}
	return "unknown"
}

// Event is a unit of work for the Run loop.
type Event struct {
	Type    EventType
	Payload json.RawMessage

	// Generation identifies the hit an expiry belongs to.
	Generation uint64

	done chan struct{}
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so that the transport's read loop never blocks on
// a slow merge.
//
// Thread-safety is provided for external enqueuing (transport, timers)
// while the Engine's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the payload can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drain removes and returns all pending events.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
