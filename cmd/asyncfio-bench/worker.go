package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"

	"github.com/joeycumines/go-asyncfio"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

var percentiles = []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 0.995, 0.999}

// worker keeps depth operations outstanding against its own executor.
type worker struct {
	cfg     *config
	exec    *asyncfio.Executor
	file    *asyncfio.File
	limiter *rate.Limiter
	blocks  int64
	next    atomic.Int64
	done    atomic.Uint64
}

func newWorker(ctx context.Context, cfg *config, reg prometheus.Registerer) (*worker, error) {
	opts := []asyncfio.ExecutorOption{
		asyncfio.WithEntries(cfg.ringEntries()),
	}
	if cfg.TrackLatencies {
		opts = append(opts, asyncfio.WithLatencyPercentiles(percentiles...))
	}
	if reg != nil {
		opts = append(opts, asyncfio.WithMetricsRegisterer(reg))
	}

	exec, err := asyncfio.New(opts...)
	if err != nil {
		return nil, err
	}
	w := &worker{cfg: cfg, exec: exec}
	if cfg.Rate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate)))
	}
	if cfg.NoOp {
		return w, nil
	}

	info, err := os.Stat(cfg.File)
	if err != nil {
		_ = exec.Close()
		return nil, err
	}
	w.blocks = info.Size() / int64(cfg.Block)
	if w.blocks == 0 {
		_ = exec.Close()
		return nil, fmt.Errorf("%s is smaller than one block", cfg.File)
	}

	flags := asyncfio.ORdOnly
	if cfg.Direct {
		flags |= asyncfio.ODirect
	}
	if w.file, err = exec.OpenBufferedFile(ctx, cfg.File, flags); err != nil {
		_ = exec.Close()
		return nil, err
	}
	return w, nil
}

func (w *worker) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Depth; i++ {
		g.Go(func() error {
			buf, release, err := w.buffer()
			if err != nil {
				return err
			}
			defer release()
			return w.loop(ctx, buf)
		})
	}
	return g.Wait()
}

// loop issues one operation at a time, so depth loops give depth
// operations in flight.
func (w *worker) loop(ctx context.Context, buf []byte) error {
	for ctx.Err() == nil {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		var f *asyncfio.Future
		if w.cfg.NoOp {
			f = w.exec.ScheduleNop()
		} else {
			f = w.file.Read(buf, w.offset())
		}
		if _, err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				// the operation still owns buf, wait it out
				_, _ = f.Result()
				return nil
			}
			return err
		}
		w.done.Add(1)
	}
	return nil
}

func (w *worker) offset() int64 {
	var block int64
	if w.cfg.Random {
		block = rand.Int64N(w.blocks)
	} else {
		block = (w.next.Add(1) - 1) % w.blocks
	}
	return block * int64(w.cfg.Block)
}

// buffer allocates a read buffer, page aligned for O_DIRECT.
func (w *worker) buffer() ([]byte, func(), error) {
	if w.cfg.NoOp {
		return nil, func() {}, nil
	}
	if !w.cfg.Direct {
		return make([]byte, w.cfg.Block), func() {}, nil
	}
	buf, err := unix.Mmap(-1, 0, w.cfg.Block, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating aligned buffer: %w", err)
	}
	return buf, func() { _ = unix.Munmap(buf) }, nil
}

func (w *worker) close() error {
	if w.file != nil {
		_, _ = w.file.Close().Result()
	}
	return w.exec.Close()
}
