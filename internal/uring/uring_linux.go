//go:build linux

package uring

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sqringOffsets matches struct io_sqring_offsets.
type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

// cqringOffsets matches struct io_cqring_offsets.
type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	CQEs        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// Params matches struct io_uring_params.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        sqringOffsets
	CQOff        cqringOffsets
}

// SQE is a 64-byte submission queue entry matching struct io_uring_sqe.
type SQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpcodeFlags uint32 // union: rw_flags, open_flags, ...
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_pad2       [1]uint64
}

// CQE is a 16-byte completion queue entry matching struct io_uring_cqe.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

const (
	sqeSize = unsafe.Sizeof(SQE{})
	cqeSize = unsafe.Sizeof(CQE{})
)

// Ring is one io_uring instance.
type Ring struct {
	sqMem   []byte
	cqMem   []byte
	sqesMem []byte

	sqHead  *uint32
	sqTail  *uint32
	sqFlags *uint32
	sqArray unsafe.Pointer
	sqes    unsafe.Pointer

	cqHead *uint32
	cqTail *uint32
	cqes   unsafe.Pointer

	fd int

	sqMask    uint32
	sqEntries uint32
	cqMask    uint32

	// local cursors: [sqeHead, sqeTail) are prepared but not yet published
	sqeHead uint32
	sqeTail uint32

	flags    uint32
	features uint32
}

// New creates a ring with the given number of entries (rounded up to a
// power of two by the kernel) and setup flags.
func New(entries uint32, flags uint32) (*Ring, error) {
	if entries == 0 || entries > MaxEntries {
		return nil, fmt.Errorf("uring: invalid entries %d", entries)
	}

	var p Params
	p.Flags = flags
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return nil, os.NewSyscallError("io_uring_setup", errno)
	}

	if err := checkFeatures(p.Features); err != nil {
		_ = unix.Close(int(fd))
		return nil, err
	}

	r := &Ring{
		fd:       int(fd),
		flags:    flags,
		features: p.Features,
	}
	if err := r.mmapRings(&p); err != nil {
		_ = unix.Close(r.fd)
		return nil, err
	}
	return r, nil
}

func (r *Ring) mmapRings(p *Params) error {
	sqRingSize := int(p.SQOff.Array + p.SQEntries*4)
	cqRingSize := int(p.CQOff.CQEs + p.CQEntries*uint32(cqeSize))
	if p.Features&FeatSingleMmap != 0 && cqRingSize > sqRingSize {
		sqRingSize = cqRingSize
	}

	sqMem, err := unix.Mmap(r.fd, offSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring: mmap sq ring: %w", err)
	}
	r.sqMem = sqMem

	if p.Features&FeatSingleMmap != 0 {
		r.cqMem = sqMem
	} else {
		cqMem, err := unix.Mmap(r.fd, offCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			_ = unix.Munmap(sqMem)
			r.sqMem = nil
			return fmt.Errorf("uring: mmap cq ring: %w", err)
		}
		r.cqMem = cqMem
	}

	sqesMem, err := unix.Mmap(r.fd, offSQEs, int(p.SQEntries*uint32(sqeSize)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.unmap()
		return fmt.Errorf("uring: mmap sqes: %w", err)
	}
	r.sqesMem = sqesMem

	base := unsafe.Pointer(&sqMem[0])
	r.sqHead = (*uint32)(unsafe.Add(base, p.SQOff.Head))
	r.sqTail = (*uint32)(unsafe.Add(base, p.SQOff.Tail))
	r.sqFlags = (*uint32)(unsafe.Add(base, p.SQOff.Flags))
	r.sqMask = *(*uint32)(unsafe.Add(base, p.SQOff.RingMask))
	r.sqEntries = *(*uint32)(unsafe.Add(base, p.SQOff.RingEntries))
	r.sqArray = unsafe.Add(base, p.SQOff.Array)

	cqBase := unsafe.Pointer(&r.cqMem[0])
	r.cqHead = (*uint32)(unsafe.Add(cqBase, p.CQOff.Head))
	r.cqTail = (*uint32)(unsafe.Add(cqBase, p.CQOff.Tail))
	r.cqMask = *(*uint32)(unsafe.Add(cqBase, p.CQOff.RingMask))
	r.cqes = unsafe.Add(cqBase, p.CQOff.CQEs)

	r.sqes = unsafe.Pointer(&sqesMem[0])

	r.sqeTail = atomic.LoadUint32(r.sqTail)
	r.sqeHead = r.sqeTail
	return nil
}

func (r *Ring) unmap() {
	if r.sqesMem != nil {
		_ = unix.Munmap(r.sqesMem)
		r.sqesMem = nil
	}
	if r.cqMem != nil && (r.sqMem == nil || &r.cqMem[0] != &r.sqMem[0]) {
		_ = unix.Munmap(r.cqMem)
	}
	r.cqMem = nil
	if r.sqMem != nil {
		_ = unix.Munmap(r.sqMem)
		r.sqMem = nil
	}
}

// Close unmaps the rings and closes the ring descriptor.
func (r *Ring) Close() error {
	if r.fd < 0 {
		return nil
	}
	r.unmap()
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

// Fd returns the ring descriptor.
func (r *Ring) Fd() int { return r.fd }

// Entries returns the SQ size actually allocated by the kernel.
func (r *Ring) Entries() uint32 { return r.sqEntries }

// Features returns the IORING_FEAT_* bits reported at setup.
func (r *Ring) Features() uint32 { return r.features }

// Prepared returns the number of prepared entries not yet published.
func (r *Ring) Prepared() int { return int(r.sqeTail - r.sqeHead) }

// getSQE returns a zeroed entry, or nil if the submission queue is full.
func (r *Ring) getSQE() *SQE {
	head := atomic.LoadUint32(r.sqHead)
	if r.sqeTail-head >= r.sqEntries {
		return nil
	}
	sqe := (*SQE)(unsafe.Add(r.sqes, uintptr(r.sqeTail&r.sqMask)*sqeSize))
	*sqe = SQE{}
	r.sqeTail++
	return sqe
}

func (r *Ring) prepRW(op Opcode, fd int32, addr unsafe.Pointer, length uint32, offset uint64, userData uint64) bool {
	sqe := r.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(op)
	sqe.Fd = fd
	sqe.Addr = uint64(uintptr(addr))
	sqe.Len = length
	sqe.Off = offset
	sqe.UserData = userData
	return true
}

func bufAddr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// PrepRead prepares a read into buf. The caller must keep buf reachable
// until the matching completion is reaped.
func (r *Ring) PrepRead(fd int32, buf []byte, offset uint64, userData uint64) bool {
	return r.prepRW(OpRead, fd, bufAddr(buf), uint32(len(buf)), offset, userData)
}

// PrepWrite prepares a write from buf, with the same lifetime rule as PrepRead.
func (r *Ring) PrepWrite(fd int32, buf []byte, offset uint64, userData uint64) bool {
	return r.prepRW(OpWrite, fd, bufAddr(buf), uint32(len(buf)), offset, userData)
}

// PrepOpenAt prepares an openat. path must be NUL terminated and stay
// reachable until the completion is reaped.
func (r *Ring) PrepOpenAt(dirFd int32, path *byte, flags int, mode uint32, userData uint64) bool {
	sqe := r.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(OpOpenAt)
	sqe.Fd = dirFd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(path)))
	sqe.Len = mode
	sqe.OpcodeFlags = uint32(flags)
	sqe.UserData = userData
	return true
}

// PrepClose prepares a close of fd.
func (r *Ring) PrepClose(fd int32, userData uint64) bool {
	return r.prepRW(OpClose, fd, nil, 0, 0, userData)
}

// PrepNop prepares a no-op.
func (r *Ring) PrepNop(userData uint64) bool {
	return r.prepRW(OpNop, -1, nil, 0, 0, userData)
}

// flush publishes prepared entries to the kernel, returning the number of
// entries the kernel has not consumed yet.
func (r *Ring) flush() uint32 {
	tail := atomic.LoadUint32(r.sqTail)
	for ; r.sqeHead != r.sqeTail; r.sqeHead++ {
		*(*uint32)(unsafe.Add(r.sqArray, uintptr(tail&r.sqMask)*4)) = r.sqeHead & r.sqMask
		tail++
	}
	atomic.StoreUint32(r.sqTail, tail)
	return tail - atomic.LoadUint32(r.sqHead)
}

func (r *Ring) enter(toSubmit, minComplete, flags uint32) (int, error) {
	if r.flags&SetupSQPoll != 0 && atomic.LoadUint32(r.sqFlags)&sqNeedWakeup != 0 {
		flags |= enterSQWakeup
	}
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// Submit publishes prepared entries without waiting.
func (r *Ring) Submit() (int, error) {
	toSubmit := r.flush()
	if toSubmit == 0 {
		return 0, nil
	}
	for {
		n, err := r.enter(toSubmit, 0, 0)
		if err == unix.EINTR {
			toSubmit = r.flush()
			continue
		}
		if err != nil {
			return n, os.NewSyscallError("io_uring_enter", err)
		}
		return n, nil
	}
}

// SubmitAndWait publishes prepared entries and blocks until at least one
// completion is ready. An interrupted wait returns nil, callers must treat
// the return as a hint and re-check the completion queue.
func (r *Ring) SubmitAndWait() error {
	toSubmit := r.flush()
	_, err := r.enter(toSubmit, 1, enterGetEvents)
	switch err {
	case nil, unix.EINTR:
		return nil
	default:
		return os.NewSyscallError("io_uring_enter", err)
	}
}

// HasCompletions reports whether at least one completion is ready.
func (r *Ring) HasCompletions() bool {
	return atomic.LoadUint32(r.cqHead) != atomic.LoadUint32(r.cqTail)
}

// ForEachCQE consumes every ready completion, including ones that arrive
// while iterating, and returns how many were consumed. Each entry is
// released back to the kernel before fn is called.
func (r *Ring) ForEachCQE(fn func(cqe CQE)) int {
	var n int
	for {
		head := atomic.LoadUint32(r.cqHead)
		if head == atomic.LoadUint32(r.cqTail) {
			return n
		}
		cqe := *(*CQE)(unsafe.Add(r.cqes, uintptr(head&r.cqMask)*cqeSize))
		atomic.StoreUint32(r.cqHead, head+1)
		n++
		fn(cqe)
	}
}
