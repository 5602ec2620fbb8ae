// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncfio

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// executorOptions holds configuration for New.
type executorOptions struct {
	faultBackoff backoff.BackOff
	registerer   prometheus.Registerer
	ring         Ring
	waker        Waker
	logger       *logiface.Logger[logiface.Event]
	strayRates   map[time.Duration]int
	testHooks    *executorTestHooks
	percentiles  []float64
	cpus         []int
	drainTimeout time.Duration
	maxFaults    int
	entries      uint32
	setupFlags   uint32
	idSpace      uint32
	loggerSet    bool
}

// ExecutorOption configures an Executor.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

type executorOptionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (o *executorOptionImpl) applyExecutor(opts *executorOptions) error {
	return o.applyExecutorFunc(opts)
}

// WithEntries sets the ring size, overriding ASYNCFIO_RING_ENTRIES.
func WithEntries(entries uint32) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if entries == 0 || entries > maxRingEntries {
			return fmt.Errorf("%w: %d", ErrInvalidEntries, entries)
		}
		opts.entries = entries
		return nil
	}}
}

// WithSetupFlags passes IORING_SETUP_* flags to io_uring_setup.
func WithSetupFlags(flags uint32) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.setupFlags = flags
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithFaultBackoff sets the pause policy after a loop-level fault. The
// default is a constant one second. Returning backoff.Stop closes the
// executor.
func WithFaultBackoff(b backoff.BackOff) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.faultBackoff = b
		return nil
	}}
}

// WithMaxConsecutiveFaults closes the executor after n consecutive loop
// faults. Zero, the default, never gives up.
func WithMaxConsecutiveFaults(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n < 0 {
			return fmt.Errorf("asyncfio: negative max consecutive faults: %d", n)
		}
		opts.maxFaults = n
		return nil
	}}
}

// WithRing replaces the io_uring instance, which the executor then owns.
func WithRing(ring Ring) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.ring = ring
		return nil
	}}
}

// WithWaker replaces the eventfd waker, which the executor then owns.
func WithWaker(waker Waker) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.waker = waker
		return nil
	}}
}

// WithCPUAffinity pins the reactor thread to the given CPUs.
func WithCPUAffinity(cpus ...int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.cpus = append([]int(nil), cpus...)
		return nil
	}}
}

// WithMetricsRegisterer registers the executor's collector with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.registerer = reg
		return nil
	}}
}

// WithLatencyPercentiles enables tracking of wakeup and command latencies,
// estimating the given percentiles, each in [0, 1].
func WithLatencyPercentiles(percentiles ...float64) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		for _, p := range percentiles {
			if p < 0 || p > 1 {
				return fmt.Errorf("asyncfio: percentile out of range: %v", p)
			}
		}
		opts.percentiles = append([]float64(nil), percentiles...)
		return nil
	}}
}

// WithStrayLogRates sets the rate limits for logging completions that match
// no pending operation. Nil disables the limit.
func WithStrayLogRates(rates map[time.Duration]int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.strayRates = rates
		return nil
	}}
}

// WithShutdownTimeout bounds how long Close waits for operations already in
// the kernel to complete.
func WithShutdownTimeout(d time.Duration) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.drainTimeout = d
		return nil
	}}
}

func resolveExecutorOptions(options []ExecutorOption) (*executorOptions, error) {
	opts := &executorOptions{
		strayRates: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
		drainTimeout: time.Second,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(opts); err != nil {
			return nil, err
		}
	}
	if opts.entries == 0 {
		entries, err := ringEntriesFromEnv()
		if err != nil {
			return nil, err
		}
		opts.entries = entries
	}
	if opts.faultBackoff == nil {
		opts.faultBackoff = backoff.NewConstantBackOff(time.Second)
	}
	if !opts.loggerSet {
		opts.logger = defaultLogger()
	}
	return opts, nil
}
