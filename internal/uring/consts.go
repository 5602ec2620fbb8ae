package uring

// See uapi/linux/io_uring.h

// Opcode is a kernel submission opcode.
type Opcode uint8

const (
	OpNop    Opcode = 0
	OpFsync  Opcode = 3
	OpOpenAt Opcode = 18
	OpClose  Opcode = 19
	OpRead   Opcode = 22
	OpWrite  Opcode = 23
)

const (
	// SetupIOPoll io_context is polled
	SetupIOPoll uint32 = 1 << 0
	// SetupSQPoll SQ poll thread
	SetupSQPoll uint32 = 1 << 1
	// SetupSQAff sq_thread_cpu is valid
	SetupSQAff uint32 = 1 << 2
	// SetupCQSize app defines CQ size
	SetupCQSize uint32 = 1 << 3
	// SetupClamp clamp SQ/CQ ring sizes
	SetupClamp uint32 = 1 << 4
)

const (
	// FeatSingleMmap is set when the SQ and CQ rings share one mapping.
	FeatSingleMmap uint32 = 1 << 0
	// FeatNoDrop is set when the kernel never drops completions.
	FeatNoDrop uint32 = 1 << 1
	// FeatRWCurPos is set when offset -1 means "current file position".
	FeatRWCurPos uint32 = 1 << 3
)

const (
	enterGetEvents uint32 = 1 << 0
	enterSQWakeup  uint32 = 1 << 1

	sqNeedWakeup uint32 = 1 << 0

	offSQRing int64 = 0
	offCQRing int64 = 0x8000000
	offSQEs   int64 = 0x10000000
)

// MaxEntries is the largest ring size the kernel accepts.
const MaxEntries = 32768
