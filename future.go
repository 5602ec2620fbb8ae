package asyncfio

import (
	"context"
	"sync/atomic"
)

// Future is the single-assignment result of a scheduled operation: a byte
// count for reads and writes, a descriptor for opens, zero otherwise.
type Future struct {
	done  chan struct{}
	err   error
	value int
	state atomic.Uint32
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future, returning false if it was already resolved.
func (f *Future) complete(value int, err error) bool {
	if !f.state.CompareAndSwap(0, 1) {
		return false
	}
	f.value, f.err = value, err
	close(f.done)
	return true
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future is resolved.
func (f *Future) Result() (int, error) {
	<-f.done
	return f.value, f.err
}

// Wait is Result, bounded by ctx.
func (f *Future) Wait(ctx context.Context) (int, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
