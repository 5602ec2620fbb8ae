package asyncfio

import (
	"sync"
	"sync/atomic"
	"time"
)

// taskNode is a node in the lock-free MPSC task queue.
type taskNode struct {
	fn       func()
	enqueued int64 // unix nanos, zero when latency tracking is off
	next     atomic.Pointer[taskNode]
}

var taskNodePool = sync.Pool{
	New: func() any {
		return &taskNode{}
	},
}

// taskQueue is a lock-free multi-producer single-consumer queue (an
// intrusive list with a stub node).
//
// Producers swap the tail, then link the previous tail to the new node. A
// node is visible to pop only once linked, so pop may briefly report empty
// while a push is in progress. Pushers always re-check the executor state
// after linking, which covers that window.
type taskQueue struct { // betteralign:ignore
	_    [64]byte //nolint:unused
	head atomic.Pointer[taskNode]
	_    [56]byte //nolint:unused
	tail atomic.Pointer[taskNode]
	_    [56]byte //nolint:unused
	stub taskNode
	len  atomic.Int64
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.head.Store(&q.stub)
	q.tail.Store(&q.stub)
	return q
}

// push is safe for concurrent use.
func (q *taskQueue) push(fn func(), stamp bool) {
	n := taskNodePool.Get().(*taskNode)
	n.fn = fn
	if stamp {
		n.enqueued = time.Now().UnixNano()
	} else {
		n.enqueued = 0
	}
	n.next.Store(nil)

	prev := q.tail.Swap(n)
	prev.next.Store(n)

	q.len.Add(1)
}

// pop must only be called by the consumer.
func (q *taskQueue) pop() (fn func(), enqueued int64, ok bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, 0, false
	}

	fn, enqueued = next.fn, next.enqueued
	next.fn = nil
	q.head.Store(next)

	if head != &q.stub {
		head.next.Store(nil)
		taskNodePool.Put(head)
	}

	q.len.Add(-1)
	return fn, enqueued, true
}

// isEmpty may report true while a push is mid-link.
func (q *taskQueue) isEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// length is approximate.
func (q *taskQueue) length() int64 {
	return q.len.Load()
}
