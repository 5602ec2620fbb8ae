//go:build linux

package asyncfio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// eventfdWaker is a blocking eventfd. io_uring fails reads on an O_NONBLOCK
// eventfd with -EAGAIN instead of waiting, so the wakeup read needs it to
// block. Writes never block in practice, since the counter would have to
// approach 2^64.
type eventfdWaker struct {
	fd int
}

func newEventfdWaker() (Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &eventfdWaker{fd: fd}, nil
}

func (w *eventfdWaker) Fd() int { return w.fd }

func (w *eventfdWaker) Signal() error {
	var one uint64 = 1
	_, err := unix.Write(w.fd, (*[8]byte)(unsafe.Pointer(&one))[:])
	return err
}

func (w *eventfdWaker) Close() error {
	return unix.Close(w.fd)
}
