// Package asyncfio provides asynchronous, completion-based file I/O on top of
// Linux io_uring.
//
// An [Executor] owns one io_uring instance and one dedicated goroutine, locked
// to its OS thread, that runs the reactor loop. Every access to the ring, the
// correlation id sequencer and the table of pending operations happens on that
// thread. Other goroutines talk to it only through a lock-free task queue and
// an atomic state hint, so the non thread-safe submission queue needs no lock.
//
// Operations such as [Executor.ScheduleRead] return a [Future] immediately.
// The submission itself is deferred to a task that runs on the reactor.
//
// Each reactor cycle:
//
//  1. publishes the WAIT state
//  2. blocks in io_uring_enter, unless tasks or completions are already
//     available
//  3. publishes the AWAKE state
//  4. drains completions and tasks until a full pass finds neither
//
// Producers write to an eventfd only when they observe WAIT, which may cause a
// spurious wakeup but never a missed one, since the reactor re-checks the task
// queue after publishing WAIT.
package asyncfio
