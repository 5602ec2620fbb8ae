package asyncfio

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of executor counters.
type Stats struct {
	// TasksExecuted counts tasks run by the reactor, including ones that
	// panicked.
	TasksExecuted uint64
	TaskPanics    uint64
	// Completions counts every completion reaped, wakeup reads included.
	Completions uint64
	// StrayCompletions counts completions whose id matched no pending
	// operation.
	StrayCompletions uint64
	// WakeSignals counts writes to the waker.
	WakeSignals uint64
	// WakeFailures counts waker writes that returned an error.
	WakeFailures uint64
	// Waits counts blocking waits, so Submitted/Waits is the mean number of
	// operations per wait.
	Waits      uint64
	LoopFaults uint64
	// Submitted counts operations registered with a correlation id.
	Submitted uint64
	// Backlogged counts submissions deferred because the queue was full.
	Backlogged   uint64
	InFlight     int64
	BacklogDepth int64
	QueueDepth   int64
}

type counters struct {
	tasksExecuted    atomic.Uint64
	taskPanics       atomic.Uint64
	completions      atomic.Uint64
	strayCompletions atomic.Uint64
	waits            atomic.Uint64
	wakeFailures     atomic.Uint64
	loopFaults       atomic.Uint64
	submitted        atomic.Uint64
	backlogged       atomic.Uint64
	inFlight         atomic.Int64
	backlogDepth     atomic.Int64
}

// Stats may be called from any goroutine.
func (e *Executor) Stats() Stats {
	return Stats{
		TasksExecuted:    e.counters.tasksExecuted.Load(),
		TaskPanics:       e.counters.taskPanics.Load(),
		Completions:      e.counters.completions.Load(),
		StrayCompletions: e.counters.strayCompletions.Load(),
		WakeSignals:      e.wake.signals.Load(),
		WakeFailures:     e.counters.wakeFailures.Load(),
		Waits:            e.counters.waits.Load(),
		LoopFaults:       e.counters.loopFaults.Load(),
		Submitted:        e.counters.submitted.Load(),
		Backlogged:       e.counters.backlogged.Load(),
		InFlight:         e.counters.inFlight.Load(),
		BacklogDepth:     e.counters.backlogDepth.Load(),
		QueueDepth:       e.tasks.length(),
	}
}

type statMetric struct {
	desc  *prometheus.Desc
	value func(s *Stats) float64
	kind  prometheus.ValueType
}

// executorCollector exports Stats. Values are read at scrape time.
type executorCollector struct {
	e       *Executor
	metrics []statMetric
}

var _ prometheus.Collector = (*executorCollector)(nil)

func newExecutorCollector(e *Executor) *executorCollector {
	labels := prometheus.Labels{"executor": strconv.FormatUint(e.id, 10)}
	counter := func(name, help string, value func(s *Stats) float64) statMetric {
		return statMetric{
			desc:  prometheus.NewDesc("asyncfio_"+name, help, nil, labels),
			value: value,
			kind:  prometheus.CounterValue,
		}
	}
	gauge := func(name, help string, value func(s *Stats) float64) statMetric {
		m := counter(name, help, value)
		m.kind = prometheus.GaugeValue
		return m
	}
	return &executorCollector{
		e: e,
		metrics: []statMetric{
			counter("tasks_executed_total", "Tasks run on the reactor thread.", func(s *Stats) float64 { return float64(s.TasksExecuted) }),
			counter("task_panics_total", "Tasks that panicked.", func(s *Stats) float64 { return float64(s.TaskPanics) }),
			counter("completions_total", "Completions reaped from the ring.", func(s *Stats) float64 { return float64(s.Completions) }),
			counter("stray_completions_total", "Completions that matched no pending operation.", func(s *Stats) float64 { return float64(s.StrayCompletions) }),
			counter("wake_signals_total", "Writes to the wakeup eventfd.", func(s *Stats) float64 { return float64(s.WakeSignals) }),
			counter("wake_failures_total", "Writes to the wakeup eventfd that failed.", func(s *Stats) float64 { return float64(s.WakeFailures) }),
			counter("waits_total", "Blocking waits for completions.", func(s *Stats) float64 { return float64(s.Waits) }),
			counter("loop_faults_total", "Faults recovered by the reactor loop.", func(s *Stats) float64 { return float64(s.LoopFaults) }),
			counter("submitted_total", "Operations submitted with a correlation id.", func(s *Stats) float64 { return float64(s.Submitted) }),
			counter("backlogged_total", "Submissions deferred because the submission queue was full.", func(s *Stats) float64 { return float64(s.Backlogged) }),
			gauge("in_flight", "Operations awaiting completion.", func(s *Stats) float64 { return float64(s.InFlight) }),
			gauge("backlog_depth", "Submissions waiting for submission queue space.", func(s *Stats) float64 { return float64(s.BacklogDepth) }),
			gauge("queue_depth", "Tasks waiting to run.", func(s *Stats) float64 { return float64(s.QueueDepth) }),
		},
	}
}

func (c *executorCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *executorCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.e.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s))
	}
}

// Collector returns a prometheus.Collector over Stats, labelled with the
// executor's ID.
func (e *Executor) Collector() prometheus.Collector {
	return e.collector
}
