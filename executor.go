package asyncfio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

const (
	lifecycleRunning uint32 = iota
	lifecycleTerminating
	lifecycleTerminated
)

// taskBatch bounds how many tasks run before completions are polled again.
const taskBatch = 1024

var executorIDCounter atomic.Uint64

// executorTestHooks provides injection points for deterministic testing.
type executorTestHooks struct {
	PreBlock   func()              // Called after WAIT is published, before the emptiness check
	PostWait   func()              // Called after the blocking wait returns
	FaultPause func(time.Duration) // Replaces the pause after a loop fault
}

// Executor runs one io_uring instance on a dedicated, OS-thread-locked
// goroutine. All methods are safe for concurrent use.
type Executor struct { // betteralign:ignore
	_ [0]func()

	wake     wakeupCoordinator
	tasks    *taskQueue
	counters counters

	ring Ring
	sq   SubmissionQueue
	cq   CompletionQueue

	logger       *logiface.Logger[logiface.Event]
	limiter      *catrate.Limiter
	faultBackoff backoff.BackOff
	collector    *executorCollector
	registerer   prometheus.Registerer
	testHooks    *executorTestHooks

	// Reactor-owned
	pending        *pendingTable
	backlog        *queue.Queue
	wakeupLatency  *latencyTracker
	commandLatency *latencyTracker
	wakeBuf        []byte
	armWakeupEntry backlogEntry

	started chan struct{}
	closing chan struct{}
	done    chan struct{}

	startErr error
	closeErr error

	cpus         []int
	drainTimeout time.Duration
	maxFaults    int
	id           uint64

	reactorTid   atomic.Int64
	inflight     atomic.Int64
	lifecycle    atomic.Uint32
	wakerClosing atomic.Bool
	closeOnce    sync.Once
}

// New creates an executor and starts its reactor, returning once the
// reactor is ready to accept work.
func New(options ...ExecutorOption) (*Executor, error) {
	opts, err := resolveExecutorOptions(options)
	if err != nil {
		return nil, err
	}

	ring := opts.ring
	if ring == nil {
		if ring, err = newNativeRing(opts.entries, opts.setupFlags); err != nil {
			return nil, fmt.Errorf("asyncfio: ring setup: %w", err)
		}
	}

	waker := opts.waker
	if waker == nil {
		if waker, err = newEventfdWaker(); err != nil {
			_ = ring.Close()
			return nil, fmt.Errorf("asyncfio: eventfd: %w", err)
		}
	}

	e := &Executor{
		tasks:        newTaskQueue(),
		ring:         ring,
		sq:           ring.SubmissionQueue(),
		cq:           ring.CompletionQueue(),
		logger:       opts.logger,
		faultBackoff: opts.faultBackoff,
		registerer:   opts.registerer,
		testHooks:    opts.testHooks,
		pending:      newPendingTable(opts.idSpace),
		backlog:      queue.New(),
		wakeBuf:      make([]byte, 8),
		started:      make(chan struct{}),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		cpus:         opts.cpus,
		drainTimeout: opts.drainTimeout,
		maxFaults:    opts.maxFaults,
		id:           executorIDCounter.Add(1),
	}
	e.wake.waker = waker
	wakeFd := int32(waker.Fd())
	e.armWakeupEntry = backlogEntry{prep: func() bool {
		return e.sq.AddWakeupRead(wakeFd, e.wakeBuf, 0)
	}}
	if opts.strayRates != nil {
		e.limiter = catrate.NewLimiter(opts.strayRates)
	}
	if len(opts.percentiles) != 0 {
		e.wakeupLatency = newLatencyTracker(opts.percentiles)
		e.commandLatency = newLatencyTracker(opts.percentiles)
	}

	e.collector = newExecutorCollector(e)
	if e.registerer != nil {
		if err := e.registerer.Register(e.collector); err != nil {
			_ = ring.Close()
			_ = waker.Close()
			return nil, fmt.Errorf("asyncfio: register metrics: %w", err)
		}
	}

	go e.run()
	<-e.started

	if e.startErr != nil {
		<-e.done
		return nil, e.startErr
	}

	e.logger.Info().
		Uint64("executor", e.id).
		Uint64("entries", uint64(opts.entries)).
		Log("asyncfio: executor started")

	return e, nil
}

// ID is unique per executor within the process.
func (e *Executor) ID() uint64 { return e.id }

// State reports the reactor state hint.
func (e *Executor) State() ReactorState { return e.wake.load() }

// Done is closed once the reactor has exited and all resources are
// released.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Execute enqueues task to run on the reactor thread. Tasks from one
// goroutine run in order. It never blocks, and fails only once the executor
// is closed.
func (e *Executor) Execute(task func()) error {
	if task == nil {
		return nil
	}

	// increment before checking state, see shutdown
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	if e.lifecycle.Load() == lifecycleTerminated {
		return ErrExecutorClosed
	}

	e.tasks.push(task, e.commandLatency != nil)

	if e.wake.load() != StateAwake {
		if _, err := e.wake.maybeSignal(e.inReactor()); err != nil {
			// the task stays queued, but a blocked reactor only finds it
			// once something else wakes it
			e.counters.wakeFailures.Add(1)
			if e.allowLog(categoryWakeup) {
				e.logger.Warning().
					Str("category", categoryWakeup).
					Err(err).
					Log("asyncfio: wake signal failed")
			}
		}
	}

	return nil
}

// Close stops the reactor. Queued tasks still run, but operations not yet
// submitted fail with ErrExecutorClosed. Operations already in the kernel
// are given until the shutdown timeout to complete, then also fail. Close
// waits for all of that unless called from the reactor itself.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		e.lifecycle.CompareAndSwap(lifecycleRunning, lifecycleTerminating)
		close(e.closing)

		e.inflight.Add(1)
		if e.lifecycle.Load() != lifecycleTerminated {
			_ = e.wake.force()
		}
		e.inflight.Add(-1)
	})

	if e.inReactor() {
		return nil
	}
	<-e.done
	return e.closeErr
}

func (e *Executor) inReactor() bool {
	tid := e.reactorTid.Load()
	return tid != 0 && tid == currentThreadID()
}

func (e *Executor) run() {
	runtime.LockOSThread()
	defer func() {
		// a thread with modified affinity must not be reused
		if len(e.cpus) == 0 {
			runtime.UnlockOSThread()
		}
	}()
	defer close(e.done)

	if len(e.cpus) != 0 {
		if err := setCPUAffinity(e.cpus); err != nil {
			e.startErr = fmt.Errorf("asyncfio: cpu affinity: %w", err)
			e.lifecycle.Store(lifecycleTerminated)
			e.closeResources(nil)
			close(e.started)
			return
		}
	}

	e.reactorTid.Store(currentThreadID())
	defer e.reactorTid.Store(0)

	e.enqueueSQE(e.armWakeupEntry)
	close(e.started)

	var faults int
	for e.lifecycle.Load() == lifecycleRunning {
		if err := e.cycle(); err != nil {
			faults++
			if !e.recoverFault(err, faults) {
				break
			}
			continue
		}
		if faults != 0 {
			faults = 0
			e.faultBackoff.Reset()
		}
	}

	e.shutdown()
}

// cycle is one WAIT, block, AWAKE, drain iteration.
func (e *Executor) cycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.wake.afterWork()
			err = PanicError{Value: r}
		}
	}()

	e.wake.beforeBlocking()

	if e.testHooks != nil && e.testHooks.PreBlock != nil {
		e.testHooks.PreBlock()
	}

	e.flushBacklog()

	if e.tasks.isEmpty() && !e.cq.HasCompletions() && e.lifecycle.Load() == lifecycleRunning {
		e.counters.waits.Add(1)
		err = e.sq.SubmitAndWait()

		if e.testHooks != nil && e.testHooks.PostWait != nil {
			e.testHooks.PostWait()
		}
		if d, ok := e.wake.observed(); ok && e.wakeupLatency != nil {
			e.wakeupLatency.record(d)
		}
	} else {
		// a signal raced with skipping the wait, it is not a wakeup delay
		e.wake.observed()
		if e.sq.Pending() != 0 {
			_, err = e.sq.Submit()
		}
	}

	e.wake.afterWork()

	if err != nil && !isTransientEnterError(err) {
		return err
	}

	return e.drain()
}

// drain processes completions and tasks until a pass finds neither.
func (e *Executor) drain() error {
	for {
		e.flushBacklog()
		n := e.cq.ProcessEvents(e.dispatch)
		n += e.runTasks()
		if e.sq.Pending() != 0 {
			if _, err := e.sq.Submit(); err != nil && !isTransientEnterError(err) {
				return err
			}
		}
		if n == 0 {
			return nil
		}
	}
}

func (e *Executor) runTasks() int {
	var n int
	for n < taskBatch {
		fn, enqueued, ok := e.tasks.pop()
		if !ok {
			break
		}
		if enqueued != 0 && e.commandLatency != nil {
			e.commandLatency.record(time.Duration(time.Now().UnixNano() - enqueued))
		}
		e.safeExecute(fn)
		n++
	}
	return n
}

// safeExecute executes a task with panic recovery.
func (e *Executor) safeExecute(fn func()) {
	e.counters.tasksExecuted.Add(1)

	defer func() {
		if r := recover(); r != nil {
			e.counters.taskPanics.Add(1)
			e.logger.Err().
				Str("category", categoryTask).
				Any("panic", r).
				Log("asyncfio: task panicked")
		}
	}()

	fn()
}

// recoverFault pauses after a loop fault, returning false if the reactor
// should stop.
func (e *Executor) recoverFault(err error, faults int) bool {
	e.counters.loopFaults.Add(1)

	pause := e.faultBackoff.NextBackOff()
	if pause == backoff.Stop || (e.maxFaults > 0 && faults >= e.maxFaults) {
		e.logger.Crit().
			Str("category", categoryLoop).
			Err(err).
			Int("faults", faults).
			Log("asyncfio: reactor giving up, closing executor")
		e.lifecycle.CompareAndSwap(lifecycleRunning, lifecycleTerminating)
		return false
	}

	if e.allowLog(categoryLoop) {
		e.logger.Err().
			Str("category", categoryLoop).
			Err(err).
			Int("faults", faults).
			Dur("backoff", pause).
			Log("asyncfio: reactor loop fault")
	}

	if e.testHooks != nil && e.testHooks.FaultPause != nil {
		e.testHooks.FaultPause(pause)
		return true
	}

	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.closing:
	}
	return true
}

func (e *Executor) allowLog(category string) bool {
	if e.limiter == nil {
		return true
	}
	_, ok := e.limiter.Allow(category)
	return ok
}

// shutdown runs on the reactor after the loop exits.
func (e *Executor) shutdown() {
	// Set Terminated FIRST. An Execute that loaded the state earlier is
	// counted in inflight, so once inflight drops to zero and the queue
	// stays empty nothing more can arrive.
	e.lifecycle.Store(lifecycleTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		spinCount := 0
		for e.inflight.Load() > 0 {
			spinCount++
			if spinCount > 1000 {
				time.Sleep(100 * time.Microsecond)
			} else {
				runtime.Gosched()
			}
		}
		if e.runTasks() != 0 || e.inflight.Load() > 0 {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	// never submitted, so safe to fail now
	for e.backlog.Length() != 0 {
		b := e.backlog.Remove().(backlogEntry)
		if b.tracked {
			e.pending.resolve(b.id, 0, ErrExecutorClosed)
		} else if !b.prep() {
			e.logger.Debug().Log("asyncfio: dropped wakeup re-arm during shutdown")
		}
	}
	e.counters.backlogDepth.Store(0)

	if e.pending.len() != 0 {
		e.drainInFlight()
	}

	orphans := e.pending.failAll(ErrExecutorClosed)
	e.counters.inFlight.Store(0)
	e.closeResources(orphans)

	e.logger.Info().
		Uint64("executor", e.id).
		Int("abandoned", len(orphans)).
		Log("asyncfio: executor closed")
}

// drainInFlight waits, up to drainTimeout, for operations already in the
// kernel to complete.
func (e *Executor) drainInFlight() {
	var expired atomic.Bool
	timer := time.AfterFunc(e.drainTimeout, func() {
		expired.Store(true)
		e.inflight.Add(1)
		defer e.inflight.Add(-1)
		if !e.wakerClosing.Load() {
			_ = e.wake.waker.Signal()
		}
	})
	defer timer.Stop()

	for e.pending.len() != 0 && !expired.Load() {
		if err := e.sq.SubmitAndWait(); err != nil && !isTransientEnterError(err) {
			e.logger.Err().
				Str("category", categoryLoop).
				Err(err).
				Log("asyncfio: wait failed while draining")
			return
		}
		e.cq.ProcessEvents(e.dispatch)
	}
}

func (e *Executor) closeResources(orphans []*pendingOp) {
	e.wakerClosing.Store(true)
	for e.inflight.Load() > 0 {
		runtime.Gosched()
	}

	if err := e.ring.Close(); err != nil {
		e.closeErr = fmt.Errorf("asyncfio: close ring: %w", err)
	}
	if err := e.wake.waker.Close(); err != nil && e.closeErr == nil {
		e.closeErr = fmt.Errorf("asyncfio: close waker: %w", err)
	}

	if len(orphans) != 0 {
		// the kernel may still write into their buffers
		retainOrphans(orphans, e.wakeBuf)
		e.logger.Warning().
			Uint64("executor", e.id).
			Int("count", len(orphans)).
			Log("asyncfio: operations still in flight at close, retaining their buffers")
	}

	if e.registerer != nil {
		e.registerer.Unregister(e.collector)
	}
}

var orphaned struct {
	sync.Mutex
	pins []any
}

func retainOrphans(ops []*pendingOp, extra ...any) {
	orphaned.Lock()
	defer orphaned.Unlock()
	for _, op := range ops {
		if op.pin != nil {
			orphaned.pins = append(orphaned.pins, op.pin)
		}
	}
	orphaned.pins = append(orphaned.pins, extra...)
}

// isTransientEnterError reports io_uring_enter errors that resolve once
// completions are reaped.
func isTransientEnterError(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}
