package queue

import "sync"

// Queue is a FIFO safe for many producers and one consumer.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Enqueue appends item and reports whether the queue went from empty to
// non-empty. Only that caller needs to wake the consumer.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	first := len(q.items) == 0
	q.items = append(q.items, item)
	q.mu.Unlock()
	return first
}

// Drain hands every queued item to fn in FIFO order until the queue is
// observed empty, including items enqueued while fn runs. It returns the
// number of items processed.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, item := range batch {
			fn(item)
		}
		n += len(batch)
	}
}

// Len returns the current backlog.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Channel couples a Queue with the Signal that wakes its consumer.
type Channel[T any] struct {
	queue  Queue[T]
	signal *Signal
}

// NewChannel creates an open channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{signal: NewSignal()}
}

// Push enqueues item and rings the signal on the empty to non-empty
// transition. It reports false, dropping the item, once the channel is
// closed.
//
// The signal's read lock is held across the enqueue so that Close, which
// takes the write lock, cannot interleave with a half-finished push.
func (c *Channel[T]) Push(item T) bool {
	c.signal.mu.RLock()
	defer c.signal.mu.RUnlock()
	if c.signal.closed {
		return false
	}
	if c.queue.Enqueue(item) {
		select {
		case c.signal.c <- struct{}{}:
		default:
		}
	}
	return true
}

// C returns the wake channel.
func (c *Channel[T]) C() <-chan struct{} {
	return c.signal.C()
}

// Drain processes the backlog, see Queue.Drain.
func (c *Channel[T]) Drain(fn func(T)) int {
	return c.queue.Drain(fn)
}

// Len returns the current backlog.
func (c *Channel[T]) Len() int {
	return c.queue.Len()
}

// Close stops accepting items. Already queued items can still be drained.
func (c *Channel[T]) Close() {
	c.signal.Close()
}
