package asyncfio

import (
	"sync"
	"testing"
)

func BenchmarkExecutor_Execute(b *testing.B) {
	h := newFakeExecutor(b, 64)
	var wg sync.WaitGroup
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		if err := h.e.Execute(wg.Done); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

func BenchmarkExecutor_ExecuteParallel(b *testing.B) {
	h := newFakeExecutor(b, 64)
	var wg sync.WaitGroup
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			wg.Add(1)
			if err := h.e.Execute(wg.Done); err != nil {
				b.Error(err)
				wg.Done()
			}
		}
	})
	wg.Wait()
}

func BenchmarkExecutor_ScheduleNop(b *testing.B) {
	h := newFakeExecutor(b, 256)
	h.ring.setResponder(func(fakeSQE) (int32, bool) { return 0, true })
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.e.ScheduleNop().Result(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTaskQueue_pushPop(b *testing.B) {
	q := newTaskQueue()
	fn := func() {}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q.push(fn, false)
		q.pop()
	}
}
