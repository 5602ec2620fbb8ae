//go:build linux

package asyncfio

import (
	"github.com/joeycumines/go-asyncfio/internal/uring"
)

// nativeRing adapts an io_uring instance to Ring. The op tag and correlation
// id are packed into the kernel user data alongside the descriptor.
type nativeRing struct {
	r *uring.Ring
}

var (
	_ Ring            = (*nativeRing)(nil)
	_ SubmissionQueue = (*nativeRing)(nil)
	_ CompletionQueue = (*nativeRing)(nil)
)

func newNativeRing(entries uint32, flags uint32) (Ring, error) {
	r, err := uring.New(entries, flags)
	if err != nil {
		return nil, err
	}
	return &nativeRing{r: r}, nil
}

func (x *nativeRing) SubmissionQueue() SubmissionQueue { return x }

func (x *nativeRing) CompletionQueue() CompletionQueue { return x }

func (x *nativeRing) Close() error { return x.r.Close() }

func (x *nativeRing) AddRead(fd int32, buf []byte, offset uint64, id uint32) bool {
	return x.r.PrepRead(fd, buf, offset, uring.PackUserData(fd, uint8(OpRead), id))
}

func (x *nativeRing) AddWrite(fd int32, buf []byte, offset uint64, id uint32) bool {
	return x.r.PrepWrite(fd, buf, offset, uring.PackUserData(fd, uint8(OpWrite), id))
}

func (x *nativeRing) AddOpenAt(dirFd int32, path *byte, flags int, mode uint32, id uint32) bool {
	return x.r.PrepOpenAt(dirFd, path, flags, mode, uring.PackUserData(dirFd, uint8(OpOpenAt), id))
}

func (x *nativeRing) AddClose(fd int32, id uint32) bool {
	return x.r.PrepClose(fd, uring.PackUserData(fd, uint8(OpClose), id))
}

func (x *nativeRing) AddNop(id uint32) bool {
	return x.r.PrepNop(uring.PackUserData(-1, uint8(OpNop), id))
}

func (x *nativeRing) AddWakeupRead(fd int32, buf []byte, id uint32) bool {
	return x.r.PrepRead(fd, buf, 0, uring.PackUserData(fd, uint8(OpWakeupRead), id))
}

func (x *nativeRing) Pending() int { return x.r.Prepared() }

func (x *nativeRing) Submit() (int, error) { return x.r.Submit() }

func (x *nativeRing) SubmitAndWait() error { return x.r.SubmitAndWait() }

func (x *nativeRing) HasCompletions() bool { return x.r.HasCompletions() }

func (x *nativeRing) ProcessEvents(fn func(Completion)) int {
	return x.r.ForEachCQE(func(cqe uring.CQE) {
		fd, op, id := uring.UnpackUserData(cqe.UserData)
		fn(Completion{
			Fd:    fd,
			Res:   cqe.Res,
			Flags: cqe.Flags,
			Op:    Op(op),
			ID:    id,
		})
	})
}
