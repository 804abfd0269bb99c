// Package queue provides the in-memory staging queue shared between the
// intake poller and the igniter.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/msageha/kestrel/internal/model"
)

// Queue is an unbounded FIFO of workflows. Safe for concurrent use. Contents
// do not survive a process restart.
type Queue struct {
	mu    sync.Mutex
	items []model.Workflow
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends w at the tail.
func (q *Queue) Push(w model.Workflow) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, w)
}

// TryPop removes and returns the head without blocking.
// ok is false when the queue is empty.
func (q *Queue) TryPop() (model.Workflow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Workflow{}, false
	}
	w := q.items[0]
	q.items = q.items[1:]
	return w, true
}

// Len returns the number of queued workflows.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Slot holds the current queue instance. The poller publishes a fresh queue
// per snapshot with Swap; the igniter reads whichever instance is current
// with Load. The swap is a single pointer update, so queue identity changes
// atomically even while the new queue is still being filled.
type Slot struct {
	cur atomic.Pointer[Queue]
}

// NewSlot returns a slot holding an empty queue, so Load is always non-nil.
func NewSlot() *Slot {
	s := &Slot{}
	s.cur.Store(New())
	return s
}

// Load returns the current queue.
func (s *Slot) Load() *Queue {
	return s.cur.Load()
}

// Swap publishes q as the current queue and returns the previous one.
func (s *Slot) Swap(q *Queue) *Queue {
	return s.cur.Swap(q)
}
