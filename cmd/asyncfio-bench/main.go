// Command asyncfio-bench measures asyncfio read (or no-op) throughput.
//
//	asyncfio-bench -d 128 -b 4096 -w 2 -r 30s /path/to/file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "asyncfio-bench: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "asyncfio-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config, out io.Writer) error {
	if cfg.RunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTime)
		defer cancel()
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
	}

	workers := make([]*worker, 0, cfg.Workers)
	defer func() {
		for _, w := range workers {
			_ = w.close()
		}
	}()
	for i := 0; i < cfg.Workers; i++ {
		var r prometheus.Registerer
		if reg != nil {
			r = reg
		}
		w, err := newWorker(ctx, cfg, r)
		if err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx) })
	}
	if reg != nil {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		report(gctx, cfg, workers, out)
		return nil
	})

	err := g.Wait()

	if cfg.TrackLatencies {
		printLatencies(workers, out)
	}
	return err
}

// report prints throughput once per second. IOS/call is operations
// submitted, then completions reaped, per blocking wait.
func report(ctx context.Context, cfg *config, workers []*worker, out io.Writer) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var done, submitted, reaped, waits uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var thisDone, thisSubmitted, thisReaped, thisWaits uint64
		for _, w := range workers {
			s := w.exec.Stats()
			thisDone += w.done.Load()
			thisSubmitted += s.Submitted
			thisReaped += s.Completions
			thisWaits += s.Waits
		}

		rpc, ipc := int64(-1), int64(-1)
		if calls := thisWaits - waits; calls > 0 {
			rpc = int64((thisSubmitted - submitted) / calls)
			ipc = int64((thisReaped - reaped) / calls)
		}
		iops := thisDone - done
		bw := iops * uint64(cfg.Block) / (1 << 20)

		fmt.Fprintf(out, "IOPS=%d, BW=%dMiB/s, IOS/call=%d/%d\n", iops, bw, rpc, ipc)

		done, submitted, reaped, waits = thisDone, thisSubmitted, thisReaped, thisWaits
	}
}

func printLatencies(workers []*worker, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, w := range workers {
		wakeups, err := w.exec.WakeupLatencies(ctx)
		if err != nil {
			fmt.Fprintf(out, "worker %d: %v\n", i, err)
			continue
		}
		commands, err := w.exec.CommandLatencies(ctx)
		if err != nil {
			fmt.Fprintf(out, "worker %d: %v\n", i, err)
			continue
		}
		fmt.Fprintf(out, "Worker %d loop wakeup delays\n", i)
		for _, p := range wakeups.Percentiles {
			fmt.Fprintf(out, "%v=%d us\n", p.P, p.Value.Microseconds())
		}
		fmt.Fprintf(out, "Worker %d command exec delays\n", i)
		for _, p := range commands.Percentiles {
			fmt.Fprintf(out, "%v=%d us\n", p.P, p.Value.Microseconds())
		}
	}
}
