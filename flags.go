package asyncfio

import (
	"golang.org/x/sys/unix"
)

// Open flags for ScheduleOpen and OpenBufferedFile. O_CLOEXEC is always
// added.
const (
	ORdOnly = unix.O_RDONLY
	OWrOnly = unix.O_WRONLY
	ORdWr   = unix.O_RDWR
	OCreat  = unix.O_CREAT
	OTrunc  = unix.O_TRUNC
	OAppend = unix.O_APPEND
)

// AtFdCWD as the directory descriptor resolves relative paths against the
// working directory.
const AtFdCWD = unix.AT_FDCWD

// CurrentPosition as an offset reads or writes at, and advances, the file
// position, like read(2) and write(2).
const CurrentPosition int64 = -1

// defaultFileMode is used when creating without an explicit mode, as
// os.Create does.
const defaultFileMode = 0o666
