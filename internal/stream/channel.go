package stream

import (
	"context"
	"errors"
	"log"
	"sync"
)

// DefaultCapacity bounds how many unread events a channel holds. If no
// consumer attaches, producers keep running and the oldest non-final events
// are dropped once the cap is reached.
const DefaultCapacity = 4096

// ErrClosed is returned by Next once the channel is closed and drained.
var ErrClosed = errors.New("stream: channel closed")

// Channel is a per-session FIFO event queue. Push never blocks the producer;
// Next blocks the single consumer until an event arrives, the context ends,
// or the channel is closed and drained.
type Channel struct {
	mu      sync.Mutex
	events  []Event
	wake    chan struct{}
	cap     int
	closed  bool
	dropped int
}

// NewChannel creates a Channel with the given capacity (DefaultCapacity if <= 0).
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		wake: make(chan struct{}, 1),
		cap:  capacity,
	}
}

// Push enqueues an event. When the channel is full, the oldest non-final
// event is dropped; a final event is never dropped. Push on a closed channel
// is a no-op.
func (c *Channel) Push(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.events) >= c.cap {
		c.dropOldestLocked()
	}
	c.events = append(c.events, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dropOldestLocked removes the oldest droppable event. The final event is
// always last, so the front of the queue is only final when it is the sole
// entry; in that case the oldest non-final entry after it is dropped instead.
func (c *Channel) dropOldestLocked() {
	idx := 0
	for idx < len(c.events) && c.events[idx].IsFinal {
		idx++
	}
	if idx == len(c.events) {
		return
	}
	c.events = append(c.events[:idx], c.events[idx+1:]...)
	c.dropped++
	if c.dropped == 1 || c.dropped%100 == 0 {
		log.Printf("stream: channel at capacity, dropped %d event(s)", c.dropped)
	}
}

// Next returns the next unread event in FIFO order. It blocks until an event
// is available, ctx is done (ctx.Err() is returned), or the channel is closed
// and fully drained (ErrClosed).
func (c *Channel) Next(ctx context.Context) (Event, error) {
	for {
		c.mu.Lock()
		if len(c.events) > 0 {
			ev := c.events[0]
			c.events = c.events[1:]
			c.mu.Unlock()
			return ev, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.wake:
		}
	}
}

// Close marks the channel closed. Pending events remain readable; Push
// becomes a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of unread events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Dropped returns how many events were discarded due to the capacity bound.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
