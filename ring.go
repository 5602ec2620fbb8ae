package asyncfio

// Op tags the kind of operation a submission performs. It travels with the
// submission through the kernel and comes back on the completion.
type Op uint8

const (
	OpNop Op = iota
	OpRead
	OpWrite
	OpOpenAt
	OpClose
	// OpWakeupRead is reserved for the executor's persistent eventfd read.
	OpWakeupRead
)

func (o Op) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpOpenAt:
		return "openat"
	case OpClose:
		return "close"
	case OpWakeupRead:
		return "wakeup-read"
	default:
		return "unknown"
	}
}

// Completion is one reported result. Res is negative (-errno) on failure.
type Completion struct {
	Fd    int32
	Res   int32
	Flags uint32
	Op    Op
	ID    uint32
}

// SubmissionQueue prepares and flushes submissions. Add methods return
// false when the queue has no free entry. Implementations need not be safe
// for concurrent use.
//
// Buffers and paths passed to Add methods must remain reachable, and
// unmodified for writes, until the matching completion has been processed.
type SubmissionQueue interface {
	AddRead(fd int32, buf []byte, offset uint64, id uint32) bool
	AddWrite(fd int32, buf []byte, offset uint64, id uint32) bool
	AddOpenAt(dirFd int32, path *byte, flags int, mode uint32, id uint32) bool
	AddClose(fd int32, id uint32) bool
	AddNop(id uint32) bool
	AddWakeupRead(fd int32, buf []byte, id uint32) bool

	// Pending is the number of prepared entries not yet submitted.
	Pending() int

	// Submit flushes prepared entries without blocking.
	Submit() (int, error)

	// SubmitAndWait flushes prepared entries and blocks until at least one
	// completion is ready. It may return early, e.g. on EINTR.
	SubmitAndWait() error
}

// CompletionQueue reports ready completions.
type CompletionQueue interface {
	HasCompletions() bool

	// ProcessEvents calls fn for every ready completion and returns the
	// number processed.
	ProcessEvents(fn func(Completion)) int
}

// Ring is the kernel queue pair driven by an [Executor].
type Ring interface {
	SubmissionQueue() SubmissionQueue
	CompletionQueue() CompletionQueue
	Close() error
}

// Waker interrupts a blocked SubmitAndWait from any goroutine. Fd is read by
// the executor's persistent wakeup read, and Signal makes that read complete.
type Waker interface {
	Fd() int
	Signal() error
	Close() error
}
