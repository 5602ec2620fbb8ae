package asyncfio

import (
	"context"
	"math"
	"slices"
	"time"
)

// quantileEstimator tracks one quantile in O(1) space using the P-Square
// algorithm (Jain and Chlamtac, 1985). Not safe for concurrent use.
type quantileEstimator struct {
	p       float64
	heights [5]float64
	pos     [5]int
	want    [5]float64
	step    [5]float64
	count   int
}

func newQuantileEstimator(p float64) *quantileEstimator {
	return &quantileEstimator{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (q *quantileEstimator) observe(x float64) {
	if q.count < 5 {
		q.heights[q.count] = x
		q.count++
		if q.count == 5 {
			slices.Sort(q.heights[:])
			q.pos = [5]int{0, 1, 2, 3, 4}
			q.want = [5]float64{0, 2 * q.p, 4 * q.p, 2 + 2*q.p, 4}
		}
		return
	}
	q.count++

	var k int
	switch {
	case x < q.heights[0]:
		q.heights[0] = x
	case x >= q.heights[4]:
		q.heights[4] = x
		k = 3
	default:
		for k = 0; k < 3 && x >= q.heights[k+1]; k++ {
		}
	}

	for i := k + 1; i < 5; i++ {
		q.pos[i]++
	}
	for i := range q.want {
		q.want[i] += q.step[i]
	}

	for i := 1; i < 4; i++ {
		d := q.want[i] - float64(q.pos[i])
		if !(d >= 1 && q.pos[i+1]-q.pos[i] > 1) && !(d <= -1 && q.pos[i-1]-q.pos[i] < -1) {
			continue
		}
		sign := 1
		if d < 0 {
			sign = -1
		}
		if h := q.parabolic(i, sign); q.heights[i-1] < h && h < q.heights[i+1] {
			q.heights[i] = h
		} else {
			q.heights[i] = q.linear(i, sign)
		}
		q.pos[i] += sign
	}
}

func (q *quantileEstimator) parabolic(i, sign int) float64 {
	d := float64(sign)
	n0, n1, n2 := float64(q.pos[i-1]), float64(q.pos[i]), float64(q.pos[i+1])
	return q.heights[i] + d/(n2-n0)*
		((n1-n0+d)*(q.heights[i+1]-q.heights[i])/(n2-n1)+
			(n2-n1-d)*(q.heights[i]-q.heights[i-1])/(n1-n0))
}

func (q *quantileEstimator) linear(i, sign int) float64 {
	j := i + sign
	return q.heights[i] + float64(sign)*(q.heights[j]-q.heights[i])/float64(q.pos[j]-q.pos[i])
}

func (q *quantileEstimator) value() float64 {
	switch {
	case q.count == 0:
		return 0
	case q.count < 5:
		sorted := slices.Clone(q.heights[:q.count])
		slices.Sort(sorted)
		return sorted[int(float64(q.count-1)*q.p)]
	default:
		return q.heights[2]
	}
}

// Percentile is one estimated latency percentile.
type Percentile struct {
	P     float64
	Value time.Duration
}

// LatencySnapshot summarizes the latencies recorded so far. Percentiles
// are streaming estimates.
type LatencySnapshot struct {
	Percentiles []Percentile
	Count       int
	Mean        time.Duration
	Max         time.Duration
}

// latencyTracker is reactor-only.
type latencyTracker struct {
	estimators []*quantileEstimator
	sum        float64
	max        float64
	count      int
}

func newLatencyTracker(percentiles []float64) *latencyTracker {
	t := &latencyTracker{max: -math.MaxFloat64}
	for _, p := range percentiles {
		t.estimators = append(t.estimators, newQuantileEstimator(p))
	}
	return t
}

func (t *latencyTracker) record(d time.Duration) {
	x := float64(d)
	t.count++
	t.sum += x
	t.max = max(t.max, x)
	for _, e := range t.estimators {
		e.observe(x)
	}
}

func (t *latencyTracker) snapshot() LatencySnapshot {
	var s LatencySnapshot
	if t == nil {
		return s
	}
	s.Count = t.count
	if t.count > 0 {
		s.Mean = time.Duration(t.sum / float64(t.count))
		s.Max = time.Duration(t.max)
	}
	for _, e := range t.estimators {
		s.Percentiles = append(s.Percentiles, Percentile{P: e.p, Value: time.Duration(e.value())})
	}
	return s
}

// WakeupLatencies reports the delay between a producer signalling the
// waker and the reactor returning from its wait. It is empty unless
// WithLatencyPercentiles was given.
func (e *Executor) WakeupLatencies(ctx context.Context) (LatencySnapshot, error) {
	return e.latencySnapshot(ctx, func() *latencyTracker { return e.wakeupLatency })
}

// CommandLatencies reports the delay between Execute and the task starting
// on the reactor. It is empty unless WithLatencyPercentiles was given.
func (e *Executor) CommandLatencies(ctx context.Context) (LatencySnapshot, error) {
	return e.latencySnapshot(ctx, func() *latencyTracker { return e.commandLatency })
}

func (e *Executor) latencySnapshot(ctx context.Context, tracker func() *latencyTracker) (LatencySnapshot, error) {
	if tracker() == nil {
		return LatencySnapshot{}, nil
	}
	result := make(chan LatencySnapshot, 1)
	if err := e.Execute(func() { result <- tracker().snapshot() }); err != nil {
		return LatencySnapshot{}, err
	}
	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return LatencySnapshot{}, ctx.Err()
	case <-e.done:
		// the task may have run during shutdown
		select {
		case s := <-result:
			return s, nil
		default:
			return LatencySnapshot{}, ErrExecutorClosed
		}
	}
}
