//go:build linux

package asyncfio

import (
	"golang.org/x/sys/unix"
)

// ODirect bypasses the page cache. Buffers, offsets and lengths must be
// aligned to the device's logical block size.
const ODirect = unix.O_DIRECT
