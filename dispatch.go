package asyncfio

import (
	"golang.org/x/sys/unix"
)

// backlogEntry is a submission waiting for submission queue space. tracked
// entries own a pending operation under id.
type backlogEntry struct {
	prep    func() bool
	id      uint32
	tracked bool
}

// enqueueSQE prepares a submission, flushing once if the queue is full, and
// parks it in the backlog otherwise. The backlog is FIFO, so nothing
// overtakes an already parked entry.
func (e *Executor) enqueueSQE(b backlogEntry) {
	if e.backlog.Length() == 0 {
		if b.prep() {
			return
		}
		if _, err := e.sq.Submit(); err == nil && b.prep() {
			return
		}
	}
	e.backlog.Add(b)
	e.counters.backlogged.Add(1)
	e.counters.backlogDepth.Store(int64(e.backlog.Length()))
}

func (e *Executor) flushBacklog() {
	if e.backlog.Length() == 0 {
		return
	}
	defer func() {
		e.counters.backlogDepth.Store(int64(e.backlog.Length()))
	}()
	for e.backlog.Length() != 0 {
		b := e.backlog.Peek().(backlogEntry)
		if !b.prep() {
			if _, err := e.sq.Submit(); err != nil || !b.prep() {
				return
			}
		}
		e.backlog.Remove()
	}
}

// dispatch routes one completion. It runs on the reactor, called by
// ProcessEvents.
func (e *Executor) dispatch(c Completion) {
	e.counters.completions.Add(1)

	if c.Op == OpWakeupRead && int(c.Fd) == e.wake.waker.Fd() {
		e.wake.consumed()
		if c.Res < 0 && e.allowLog(categoryWakeup) {
			e.logger.Warning().
				Str("category", categoryWakeup).
				Err(unix.Errno(-c.Res)).
				Log("asyncfio: wakeup read failed, re-arming")
		}
		e.enqueueSQE(e.armWakeupEntry)
		return
	}

	var (
		value int
		err   error
	)
	if c.Res < 0 {
		err = newErrnoError(c.Op, c.Res)
	} else {
		value = int(c.Res)
	}

	if e.pending.resolve(c.ID, value, err) {
		e.counters.inFlight.Store(int64(e.pending.len()))
		return
	}

	e.counters.strayCompletions.Add(1)
	if e.allowLog(categoryDispatch) {
		e.logger.Warning().
			Str("category", categoryDispatch).
			Uint64("id", uint64(c.ID)).
			Int("fd", int(c.Fd)).
			Str("op", c.Op.String()).
			Int("res", int(c.Res)).
			Log("asyncfio: dropped completion with unknown id")
	}
}

// schedule returns a future immediately, deferring id allocation,
// registration and submission to a task on the reactor.
func (e *Executor) schedule(op Op, pin any, prep func(id uint32) bool) *Future {
	f := newFuture()
	if err := e.Execute(func() { e.submit(op, f, pin, prep) }); err != nil {
		f.complete(0, err)
	}
	return f
}

func (e *Executor) submit(op Op, f *Future, pin any, prep func(id uint32) bool) {
	if e.lifecycle.Load() != lifecycleRunning {
		f.complete(0, ErrExecutorClosed)
		return
	}
	id, err := e.pending.register(op, f, pin)
	if err != nil {
		f.complete(0, err)
		return
	}
	e.counters.submitted.Add(1)
	e.counters.inFlight.Store(int64(e.pending.len()))
	e.enqueueSQE(backlogEntry{
		prep:    func() bool { return prep(id) },
		id:      id,
		tracked: true,
	})
}

// ScheduleRead reads len(buf) bytes from fd at offset (CurrentPosition for
// the file position), resolving to the byte count. buf must not be touched
// until the future resolves.
func (e *Executor) ScheduleRead(fd int, buf []byte, offset int64) *Future {
	return e.schedule(OpRead, buf, func(id uint32) bool {
		return e.sq.AddRead(int32(fd), buf, uint64(offset), id)
	})
}

// ScheduleWrite writes buf to fd at offset (CurrentPosition for the file
// position), resolving to the byte count.
func (e *Executor) ScheduleWrite(fd int, buf []byte, offset int64) *Future {
	return e.schedule(OpWrite, buf, func(id uint32) bool {
		return e.sq.AddWrite(int32(fd), buf, uint64(offset), id)
	})
}

// ScheduleOpen opens path relative to dirFd (AtFdCWD for the working
// directory), resolving to the new descriptor.
func (e *Executor) ScheduleOpen(dirFd int, path string, flags int, mode uint32) *Future {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return failedFuture(err)
	}
	return e.schedule(OpOpenAt, p, func(id uint32) bool {
		return e.sq.AddOpenAt(int32(dirFd), p, flags|unix.O_CLOEXEC, mode, id)
	})
}

// ScheduleOpenBuffered is ScheduleOpen with the default creation mode.
func (e *Executor) ScheduleOpenBuffered(dirFd int, path string, flags int) *Future {
	return e.ScheduleOpen(dirFd, path, flags, defaultFileMode)
}

// ScheduleClose closes fd.
func (e *Executor) ScheduleClose(fd int) *Future {
	return e.schedule(OpClose, nil, func(id uint32) bool {
		return e.sq.AddClose(int32(fd), id)
	})
}

// ScheduleNop submits a no-op, useful to measure pure ring overhead.
func (e *Executor) ScheduleNop() *Future {
	return e.schedule(OpNop, nil, func(id uint32) bool {
		return e.sq.AddNop(id)
	})
}
