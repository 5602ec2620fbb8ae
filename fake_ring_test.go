package asyncfio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSQE is one prepared submission.
type fakeSQE struct {
	buf    []byte
	path   *byte
	offset uint64
	id     uint32
	fd     int32
	flags  int
	mode   uint32
	op     Op
}

// fakeRing is an in-memory Ring with eventfd semantics for the wakeup read.
// Submitted operations stay in flight until completed by the responder or
// the test.
type fakeRing struct {
	mu   sync.Mutex
	cond *sync.Cond

	// responder, if set, completes submissions immediately
	responder func(s fakeSQE) (res int32, ok bool)

	prepared []fakeSQE
	inFlight []fakeSQE
	armed    []fakeSQE
	ready    []Completion

	// submitted records every non-wakeup submission, in order
	submitted []fakeSQE

	// tids records the OS thread of every submission queue call
	tids map[int64]int

	waitErrs []error

	capacity    int
	counter     uint64
	wakeupReads int
	waiting     int
	stuck       bool
	closed      bool
}

var (
	_ Ring            = (*fakeRing)(nil)
	_ SubmissionQueue = (*fakeRing)(nil)
	_ CompletionQueue = (*fakeRing)(nil)
)

func newFakeRing(capacity int) *fakeRing {
	r := &fakeRing{capacity: capacity, tids: make(map[int64]int)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *fakeRing) SubmissionQueue() SubmissionQueue { return r }
func (r *fakeRing) CompletionQueue() CompletionQueue { return r }

func (r *fakeRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("fake ring already closed")
	}
	r.closed = true
	r.cond.Broadcast()
	return nil
}

func (r *fakeRing) recordLocked() {
	r.tids[currentThreadID()]++
}

func (r *fakeRing) add(s fakeSQE) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked()
	if len(r.prepared) >= r.capacity {
		return false
	}
	if s.op == OpWakeupRead {
		r.wakeupReads++
	}
	r.prepared = append(r.prepared, s)
	return true
}

func (r *fakeRing) AddRead(fd int32, buf []byte, offset uint64, id uint32) bool {
	return r.add(fakeSQE{op: OpRead, fd: fd, buf: buf, offset: offset, id: id})
}

func (r *fakeRing) AddWrite(fd int32, buf []byte, offset uint64, id uint32) bool {
	return r.add(fakeSQE{op: OpWrite, fd: fd, buf: buf, offset: offset, id: id})
}

func (r *fakeRing) AddOpenAt(dirFd int32, path *byte, flags int, mode uint32, id uint32) bool {
	return r.add(fakeSQE{op: OpOpenAt, fd: dirFd, path: path, flags: flags, mode: mode, id: id})
}

func (r *fakeRing) AddClose(fd int32, id uint32) bool {
	return r.add(fakeSQE{op: OpClose, fd: fd, id: id})
}

func (r *fakeRing) AddNop(id uint32) bool {
	return r.add(fakeSQE{op: OpNop, fd: -1, id: id})
}

func (r *fakeRing) AddWakeupRead(fd int32, buf []byte, id uint32) bool {
	return r.add(fakeSQE{op: OpWakeupRead, fd: fd, buf: buf, id: id})
}

func (r *fakeRing) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked()
	return len(r.prepared)
}

func (r *fakeRing) submitLocked() int {
	if r.stuck {
		return 0
	}
	n := len(r.prepared)
	for _, s := range r.prepared {
		if s.op == OpWakeupRead {
			r.armed = append(r.armed, s)
			continue
		}
		r.submitted = append(r.submitted, s)
		if r.responder != nil {
			if res, ok := r.responder(s); ok {
				r.ready = append(r.ready, Completion{Fd: s.fd, Res: res, Op: s.op, ID: s.id})
				continue
			}
		}
		r.inFlight = append(r.inFlight, s)
	}
	r.prepared = r.prepared[:0]
	r.fireWakeupLocked()
	return n
}

// fireWakeupLocked completes an armed wakeup read if the counter is set,
// as a read on an eventfd does.
func (r *fakeRing) fireWakeupLocked() {
	if r.counter == 0 || len(r.armed) == 0 {
		return
	}
	s := r.armed[0]
	r.armed = r.armed[1:]
	r.counter = 0
	r.ready = append(r.ready, Completion{Fd: s.fd, Res: 8, Op: OpWakeupRead, ID: s.id})
	r.cond.Broadcast()
}

func (r *fakeRing) Submit() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked()
	return r.submitLocked(), nil
}

func (r *fakeRing) SubmitAndWait() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked()
	if len(r.waitErrs) != 0 {
		err := r.waitErrs[0]
		r.waitErrs = r.waitErrs[1:]
		return err
	}
	r.submitLocked()
	r.waiting++
	r.cond.Broadcast()
	for len(r.ready) == 0 && !r.closed {
		r.cond.Wait()
		r.submitLocked()
	}
	r.waiting--
	return nil
}

func (r *fakeRing) HasCompletions() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready) != 0
}

func (r *fakeRing) ProcessEvents(fn func(Completion)) int {
	var n int
	for {
		r.mu.Lock()
		batch := r.ready
		r.ready = nil
		r.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, c := range batch {
			n++
			fn(c)
		}
	}
}

// signal is the eventfd write.
func (r *fakeRing) signal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("fake ring closed")
	}
	r.counter++
	r.fireWakeupLocked()
	return nil
}

// inject posts a synthetic completion.
func (r *fakeRing) inject(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, c)
	r.cond.Broadcast()
}

// complete finishes the in-flight submission matching fn.
func (r *fakeRing) complete(t *testing.T, res int32, match func(s fakeSQE) bool) fakeSQE {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.inFlight {
		if match(s) {
			r.inFlight = append(r.inFlight[:i], r.inFlight[i+1:]...)
			r.ready = append(r.ready, Completion{Fd: s.fd, Res: res, Op: s.op, ID: s.id})
			r.cond.Broadcast()
			return s
		}
	}
	t.Fatalf("no in-flight submission matched")
	return fakeSQE{}
}

func (r *fakeRing) setResponder(fn func(s fakeSQE) (int32, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responder = fn
}

func (r *fakeRing) setStuck(stuck bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stuck = stuck
	r.cond.Broadcast()
}

func (r *fakeRing) failWaits(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitErrs = append(r.waitErrs, errs...)
}

func (r *fakeRing) snapshot() (inFlight, submitted []fakeSQE, armed, wakeupReads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fakeSQE(nil), r.inFlight...), append([]fakeSQE(nil), r.submitted...), len(r.armed), r.wakeupReads
}

func (r *fakeRing) threadIDs() map[int64]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[int64]int, len(r.tids))
	for k, v := range r.tids {
		m[k] = v
	}
	return m
}

func (r *fakeRing) isWaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting != 0
}

// fakeWaker writes to the fake ring's eventfd counter.
type fakeWaker struct {
	ring    *fakeRing
	writes  atomic.Int64
	closed  atomic.Bool
	failing atomic.Bool
	fd      int
}

const fakeWakeFd = 1 << 20

func newFakeWaker(ring *fakeRing) *fakeWaker {
	return &fakeWaker{ring: ring, fd: fakeWakeFd}
}

func (w *fakeWaker) Fd() int { return w.fd }

func (w *fakeWaker) Signal() error {
	if w.closed.Load() {
		return errors.New("fake waker closed")
	}
	if w.failing.Load() {
		return errors.New("fake waker write failed")
	}
	w.writes.Add(1)
	return w.ring.signal()
}

func (w *fakeWaker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return errors.New("fake waker already closed")
	}
	return nil
}

func withTestHooks(h *executorTestHooks) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.testHooks = h
		return nil
	}}
}

func withIDSpace(n uint32) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.idSpace = n
		return nil
	}}
}

type fakeHarness struct {
	e     *Executor
	ring  *fakeRing
	waker *fakeWaker
}

// newFakeExecutor starts an executor on a fake ring, closing it on cleanup.
func newFakeExecutor(t testing.TB, capacity int, options ...ExecutorOption) *fakeHarness {
	t.Helper()
	ring := newFakeRing(capacity)
	waker := newFakeWaker(ring)
	e, err := New(append([]ExecutorOption{
		WithRing(ring),
		WithWaker(waker),
		WithLogger(nil),
		WithShutdownTimeout(50 * time.Millisecond),
	}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return &fakeHarness{e: e, ring: ring, waker: waker}
}

// blocked waits until the reactor is parked in SubmitAndWait.
func (h *fakeHarness) blocked(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.ring.isWaiting, 5*time.Second, time.Millisecond)
}

// sync runs a no-op task, returning once every earlier task has run.
func (h *fakeHarness) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, h.e.Execute(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reactor did not run task")
	}
}

// inFlightByID waits for n operations to be in flight, returning them.
func (h *fakeHarness) inFlight(t *testing.T, n int) []fakeSQE {
	t.Helper()
	var ops []fakeSQE
	require.Eventually(t, func() bool {
		ops, _, _, _ = h.ring.snapshot()
		return len(ops) == n
	}, 5*time.Second, time.Millisecond)
	return ops
}
