package asyncfio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Standard errors.
var (
	// ErrExecutorClosed is returned (or used to fail futures) once an
	// executor has been closed.
	ErrExecutorClosed = errors.New("asyncfio: executor has been closed")

	// ErrTooManyInFlight fails a submission when every correlation id is
	// held by a live operation.
	ErrTooManyInFlight = errors.New("asyncfio: too many operations in flight")

	// ErrUnsupported is returned by New on platforms without io_uring.
	ErrUnsupported = errors.New("asyncfio: io_uring is not supported on this platform")

	// ErrFileClosed fails operations on a File after Close.
	ErrFileClosed = errors.New("asyncfio: file already closed")

	// ErrInvalidEntries is returned for a ring size outside [1, 32768].
	ErrInvalidEntries = errors.New("asyncfio: invalid ring entries")
)

// ErrnoError is the error a future fails with when the kernel reports a
// negative result for its operation.
type ErrnoError struct {
	Op    Op
	Errno unix.Errno
}

// newErrnoError decodes a negative completion result.
func newErrnoError(op Op, res int32) *ErrnoError {
	return &ErrnoError{Op: op, Errno: unix.Errno(-res)}
}

func (e *ErrnoError) Error() string {
	return fmt.Sprintf("asyncfio: %s: %s", e.Op, e.Errno.Error())
}

// Unwrap exposes the errno, so both errors.Is(err, unix.ENOENT) and
// errors.Is(err, fs.ErrNotExist) work.
func (e *ErrnoError) Unwrap() error {
	return e.Errno
}

// PanicError wraps a value recovered from a panic inside the reactor loop.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("asyncfio: panic: %v", err)
	}
	return fmt.Sprintf("asyncfio: panic: %v", e.Value)
}

func (e PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
