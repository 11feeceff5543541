// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stream implements the bounded page request queue shared by the
// frame goroutine and the streaming goroutine, and the streaming worker that
// drains it.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gogpu/vtstream/page"
)

// MaxQueueLength is the default queue capacity.
const MaxQueueLength = 256

// Request is a queued page load.
type Request struct {
	page.Descriptor

	// Memory is the StreamedMemory of the frame that produced the request.
	Memory page.StreamedMemory
}

// Queue is a fixed-capacity ring buffer of page requests with a single
// producer and a single consumer.
//
// Submit never blocks: when the unread backlog is full, the newest
// requests of the call are dropped and the oldest unread ones are kept.
//
// Thread safety: Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	slots   []Request
	loadPos int // next slot the consumer reads
	unread  int

	// signal holds at most one pending wake-up; extra wake-ups coalesce.
	signal chan struct{}

	// closed is closed by Close to release waiters for good.
	closed    chan struct{}
	closeOnce sync.Once

	dropped  atomic.Uint64
	accepted atomic.Uint64
}

// NewQueue creates a queue holding up to capacity unread requests.
// If capacity <= 0, MaxQueueLength is used.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = MaxQueueLength
	}
	return &Queue{
		slots:  make([]Request, capacity),
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Len returns the number of unread requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unread
}

// Dropped returns the total number of requests rejected because the queue
// was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Accepted returns the total number of requests enqueued.
func (q *Queue) Accepted() uint64 {
	return q.accepted.Load()
}

// Submit enqueues as many requests as fit, in order, and wakes the
// consumer. It returns how many were accepted and dropped.
func (q *Queue) Submit(reqs []Request) (accepted, dropped int) {
	q.mu.Lock()
	free := len(q.slots) - q.unread
	accepted = min(free, len(reqs))
	write := (q.loadPos + q.unread) % len(q.slots)
	for i := 0; i < accepted; i++ {
		q.slots[write] = reqs[i]
		write++
		if write == len(q.slots) {
			write = 0
		}
	}
	q.unread += accepted
	q.mu.Unlock()

	dropped = len(reqs) - accepted
	q.accepted.Add(uint64(accepted)) //nolint:gosec // non-negative
	if dropped > 0 {
		q.dropped.Add(uint64(dropped)) //nolint:gosec // non-negative
	}
	q.Notify()
	return accepted, dropped
}

// Dequeue removes up to limit unread requests in FIFO order and appends
// them to dst. If limit <= 0, all unread requests are taken.
func (q *Queue) Dequeue(dst []Request, limit int) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.unread
	if limit > 0 && limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		dst = append(dst, q.slots[q.loadPos])
		q.slots[q.loadPos] = Request{} // drop texture references
		q.loadPos++
		if q.loadPos == len(q.slots) {
			q.loadPos = 0
		}
	}
	q.unread -= n
	return dst
}

// Clear discards all unread requests and returns how many were discarded.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.unread
	for i := 0; i < n; i++ {
		q.slots[(q.loadPos+i)%len(q.slots)] = Request{}
	}
	q.loadPos = (q.loadPos + n) % len(q.slots)
	q.unread = 0
	return n
}

// Notify wakes a goroutine blocked in Wait without enqueuing anything.
func (q *Queue) Notify() {
	select {
	case q.signal <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
}

// Wait blocks until the queue is notified, the queue is closed, or ctx is
// done. It returns false if the queue was closed or ctx is done.
func (q *Queue) Wait(ctx context.Context) bool {
	select {
	case <-q.signal:
		return true
	case <-q.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close releases current and future waiters. Submit keeps working so a
// late producer never blocks or panics. Close is safe to call multiple
// times.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
