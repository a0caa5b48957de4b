package signaling

import (
	"sync"
	"sync/atomic"
)

// pendingQueue is a count-bounded FIFO for messages addressed to a client
// that polls over HTTP instead of holding a WebSocket open.
//
// When the queue is full the oldest message is dropped so a stalled poller
// keeps the freshest signaling state rather than an ever-growing backlog.
type pendingQueue struct {
	mu       sync.Mutex
	maxLen   int // 0 means unbounded
	messages []*Message

	drops atomic.Uint64
}

func newPendingQueue(maxLen int) *pendingQueue {
	return &pendingQueue{maxLen: maxLen}
}

func (q *pendingQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Push appends msg, evicting from the head if the queue is at capacity.
// It reports whether an older message was dropped. It never blocks.
func (q *pendingQueue) Push(msg *Message) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxLen > 0 && len(q.messages) >= q.maxLen {
		n := copy(q.messages, q.messages[1:])
		q.messages[n] = nil
		q.messages = q.messages[:n]
		q.drops.Add(1)
		dropped = true
	}
	q.messages = append(q.messages, msg)
	return dropped
}

// Drain atomically removes and returns every queued message in arrival
// order. Concurrent pushes land in the next drain, never in both.
func (q *pendingQueue) Drain() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.messages
	q.messages = nil
	return msgs
}

func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
