//go:build linux

package asyncfio

import (
	"golang.org/x/sys/unix"
)

// currentThreadID identifies the calling OS thread. The reactor goroutine is
// locked to its thread, so a match means the caller is the reactor.
func currentThreadID() int64 {
	return int64(unix.Gettid())
}

// setCPUAffinity pins the calling thread to the given CPUs.
func setCPUAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
