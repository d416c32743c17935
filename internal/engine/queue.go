package engine

import (
	"sync"

	"github.com/roach88/streamcore/internal/record"
)

// submissionQueue is a thread-safe FIFO of commands waiting to be appended
// to the log.
//
// Clients enqueue from any goroutine; only the Run loop dequeues and
// appends, which keeps the log single-writer.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type submissionQueue struct {
	mu      sync.Mutex
	pending []record.Record
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		pending: make([]record.Record, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a command record to the back of the queue.
// Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(rec record.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, rec)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// DrainAll removes and returns every queued record in FIFO order.
func (q *submissionQueue) DrainAll() []record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = make([]record.Record, 0, 64)
	return out
}

// Wait returns a channel that signals when records may be available.
// The channel is closed when the queue is closed.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further submissions and wakes waiters.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
