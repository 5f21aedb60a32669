// Package bounded provides the fixed-capacity, non-blocking queue used to hand
// frames and recognition results between pipeline stages.
package bounded

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultCapacity tolerates one full detector cycle of staleness.
const DefaultCapacity = 4

// Policy decides what happens when Send finds the channel full.
type Policy int

const (
	// DropNew discards the incoming item and Send reports false.
	DropNew Policy = iota
	// DropOldest evicts the oldest pending item to make room.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config string onto a Policy. Unknown values fall back to DropNew.
func ParsePolicy(s string) Policy {
	if s == "drop-oldest" {
		return DropOldest
	}
	return DropNew
}

// Stats counts accepted and discarded items.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Channel is a FIFO queue with a fixed capacity. Send and TryReceive never block.
type Channel[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	size   int
	policy Policy
	notify chan struct{} // capacity 1, signals a waiting Receive

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a channel holding at most capacity items. capacity < 1 is raised to 1.
func New[T any](capacity int, policy Policy) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		items:  make([]T, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
	}
}

// Send enqueues item without blocking. Under DropNew it returns false when the
// channel is full and the item is discarded; that is backpressure, not an error.
func (c *Channel[T]) Send(item T) bool {
	c.mu.Lock()
	if c.size == len(c.items) {
		if c.policy == DropNew {
			c.mu.Unlock()
			c.dropped.Add(1)
			return false
		}
		var zero T
		c.items[c.head] = zero
		c.head = (c.head + 1) % len(c.items)
		c.size--
		c.dropped.Add(1)
	}
	c.items[(c.head+c.size)%len(c.items)] = item
	c.size++
	c.mu.Unlock()

	c.sent.Add(1)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// TryReceive dequeues the oldest item, or reports false when empty.
func (c *Channel[T]) TryReceive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.size == 0 {
		return zero, false
	}
	item := c.items[c.head]
	c.items[c.head] = zero
	c.head = (c.head + 1) % len(c.items)
	c.size--
	if c.size > 0 {
		// Keep the wakeup armed for the next receiver.
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return item, true
}

// Receive blocks until an item is available or ctx is done.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	for {
		if item, ok := c.TryReceive(); ok {
			return item, nil
		}
		select {
		case <-c.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Drain discards every pending item and returns how many were removed.
func (c *Channel[T]) Drain() int {
	n := 0
	for {
		if _, ok := c.TryReceive(); !ok {
			return n
		}
		n++
	}
}

// Len returns the number of pending items.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Cap returns the fixed capacity.
func (c *Channel[T]) Cap() int {
	return len(c.items)
}

// Policy returns the overflow policy.
func (c *Channel[T]) Policy() Policy {
	return c.policy
}

// Stats returns counters since construction.
func (c *Channel[T]) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}
