//go:build !linux

package asyncfio

import (
	"runtime"
)

// currentThreadID falls back to the goroutine id, parsed from the stack
// header.
func currentThreadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + int64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

func setCPUAffinity(cpus []int) error {
	return ErrUnsupported
}
