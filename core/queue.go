package core

import "sync"

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// messageQueue: compacting FIFO used as inbox storage
// =============================================================================

// messageQueue is an unsynchronized FIFO. Mailboxes guard it with the post
// office graph lock.
type messageQueue struct {
	items []any
}

func newMessageQueue() messageQueue {
	return messageQueue{items: make([]any, 0, defaultQueueCap)}
}

func (q *messageQueue) Push(msg any) {
	q.items = append(q.items, msg)
}

func (q *messageQueue) Pop() (any, bool) {
	if len(q.items) == 0 {
		return nil, false
	}

	msg := q.items[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.items[0] = nil
	q.items = q.items[1:]
	q.maybeCompact()

	return msg, true
}

func (q *messageQueue) Peek() (any, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// PopAll removes and returns every queued message in order.
func (q *messageQueue) PopAll() []any {
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]any, 0, defaultQueueCap)
	return out
}

func (q *messageQueue) Len() int {
	return len(q.items)
}

func (q *messageQueue) Clear() {
	q.items = make([]any, 0, defaultQueueCap)
}

func (q *messageQueue) maybeCompact() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]any, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	items := make([]any, n, newCap)
	copy(items, q.items)
	q.items = items
}

// =============================================================================
// boundedQueue: the thread-bridge's internal queues
// =============================================================================

// boundedQueue is a mutex-guarded FIFO with a fixed limit, shared between a
// bridged goroutine and its shim.
type boundedQueue struct {
	mu    sync.Mutex
	q     messageQueue
	limit int
}

func newBoundedQueue(limit int) *boundedQueue {
	if limit < 1 {
		limit = DefaultQueueLength
	}
	return &boundedQueue{q: newMessageQueue(), limit: limit}
}

// TryPush appends msg unless the queue is full.
func (b *boundedQueue) TryPush(msg any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Len() >= b.limit {
		return false
	}
	b.q.Push(msg)
	return true
}

func (b *boundedQueue) Pop() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Pop()
}

func (b *boundedQueue) Peek() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Peek()
}

func (b *boundedQueue) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len()
}

func (b *boundedQueue) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len() >= b.limit
}

func (b *boundedQueue) Limit() int {
	return b.limit
}
