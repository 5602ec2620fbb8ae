package asyncfio

import (
	"context"
	"sync/atomic"
)

// File is an open descriptor whose reads, writes and close go through an
// Executor. Reads and writes at explicit offsets may overlap freely.
type File struct {
	e      *Executor
	path   string
	fd     int32
	closed atomic.Bool
}

// OpenBufferedFile opens path (relative to the working directory) with
// flags, e.g. ORdOnly or ORdWr, waiting for the result.
func (e *Executor) OpenBufferedFile(ctx context.Context, path string, flags int) (*File, error) {
	fd, err := e.ScheduleOpen(AtFdCWD, path, flags, defaultFileMode).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &File{e: e, path: path, fd: int32(fd)}, nil
}

// CreateBufferedFile creates or truncates path for reading and writing.
func (e *Executor) CreateBufferedFile(ctx context.Context, path string) (*File, error) {
	return e.OpenBufferedFile(ctx, path, ORdWr|OCreat|OTrunc)
}

// Fd returns the underlying descriptor.
func (f *File) Fd() int { return int(f.fd) }

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Read reads into buf at offset, or at the file position for
// CurrentPosition. buf must not be touched until the future resolves.
func (f *File) Read(buf []byte, offset int64) *Future {
	if f.closed.Load() {
		return failedFuture(ErrFileClosed)
	}
	return f.e.ScheduleRead(f.Fd(), buf, offset)
}

// Write writes buf at offset, or at the file position for CurrentPosition.
func (f *File) Write(buf []byte, offset int64) *Future {
	if f.closed.Load() {
		return failedFuture(ErrFileClosed)
	}
	return f.e.ScheduleWrite(f.Fd(), buf, offset)
}

// Close closes the descriptor. Only the first call reaches the kernel.
func (f *File) Close() *Future {
	if !f.closed.CompareAndSwap(false, true) {
		return failedFuture(ErrFileClosed)
	}
	return f.e.ScheduleClose(f.Fd())
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(0, err)
	return f
}
