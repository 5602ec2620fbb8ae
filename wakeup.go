package asyncfio

import (
	"sync/atomic"
	"time"
)

// ReactorState is the hint producers read to decide whether to signal.
type ReactorState uint32

const (
	// StateAwake means the reactor is draining and will see new tasks
	// without a signal.
	StateAwake ReactorState = iota
	// StateWait means the reactor may be blocked, or about to block.
	StateWait
)

func (s ReactorState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateWait:
		return "Wait"
	default:
		return "Unknown"
	}
}

// wakeupCoordinator pairs the reactor state with the waker.
//
// beforeBlocking, afterWork and consumed are reactor-only. maybeSignal may
// be called from anywhere: a producer that pushed work and then observes
// WAIT writes to the waker, deduplicated through pending until the reactor
// reaps the wakeup read that write completes. The reactor re-checks the task
// queue after publishing WAIT, so at least one of the two sides always sees
// the other.
//
// pending must outlive the AWAKE transition. A producer may win the CAS
// after the reactor went AWAKE, and only the completion of its write proves
// the signal was spent.
type wakeupCoordinator struct { // betteralign:ignore
	_     [64]byte //nolint:unused
	state atomic.Uint32
	_     [60]byte //nolint:unused

	// pending is set by the producer that won the right to signal
	pending atomic.Uint32

	// signalledAt is the unix nanos of the last signal not yet observed by
	// the reactor
	signalledAt atomic.Int64

	signals atomic.Uint64

	waker Waker
}

func (w *wakeupCoordinator) load() ReactorState {
	return ReactorState(w.state.Load())
}

func (w *wakeupCoordinator) beforeBlocking() {
	w.state.Store(uint32(StateWait))
}

func (w *wakeupCoordinator) afterWork() {
	w.state.Store(uint32(StateAwake))
}

// consumed is called once the wakeup read has completed, i.e. the waker
// write that pending guards has been reaped.
func (w *wakeupCoordinator) consumed() {
	w.pending.Store(0)
}

// maybeSignal reports whether this call wrote to the waker.
func (w *wakeupCoordinator) maybeSignal(inReactor bool) (bool, error) {
	if inReactor || w.load() == StateAwake {
		return false, nil
	}
	if !w.pending.CompareAndSwap(0, 1) {
		return false, nil
	}
	w.signalledAt.CompareAndSwap(0, time.Now().UnixNano())
	if err := w.waker.Signal(); err != nil {
		w.pending.Store(0)
		return false, err
	}
	w.signals.Add(1)
	return true, nil
}

// force writes to the waker regardless of state, used by Close.
func (w *wakeupCoordinator) force() error {
	err := w.waker.Signal()
	if err == nil {
		w.signals.Add(1)
	}
	return err
}

// observed returns the delay since the oldest unobserved signal, if any.
func (w *wakeupCoordinator) observed() (time.Duration, bool) {
	t := w.signalledAt.Swap(0)
	if t == 0 {
		return 0, false
	}
	return time.Duration(time.Now().UnixNano() - t), true
}
