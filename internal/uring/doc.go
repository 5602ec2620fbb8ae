// Package uring is a minimal, pure Go io_uring binding.
//
// It covers exactly what the asyncfio reactor needs: ring setup, preparing
// read, write, openat, close, nop and eventfd-read submissions, flushing
// with or without waiting, and iterating ready completions.
//
// A Ring is NOT safe for concurrent use. Every method must be called from
// the single goroutine that owns it.
package uring
