package fibersched

import (
	"testing"
	"time"
)

func TestScheduler_PickNext_RecordsLatencyMetric(t *testing.T) {
	reactor, err := NewReactor()
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	t.Cleanup(func() { _ = reactor.Close() })

	m := NewMetrics()
	s := NewScheduler(reactor, WithSchedulerMetrics(m))

	f := newFiber(s, FiberWorker, "worker", 0)
	s.awakened(f)
	time.Sleep(5 * time.Millisecond)

	if got := s.pickNext(); got != f {
		t.Fatalf("expected the awakened fiber back, got %v", got)
	}

	if count := m.Latency.Sample(); count != 1 {
		t.Fatalf("expected pickNext to record exactly one latency sample, got %d", count)
	}
	if m.Latency.P50 <= 0 {
		t.Fatalf("expected a non-zero pick-to-run latency, got %v", m.Latency.P50)
	}
}

func TestScheduler_PickNext_PriorityOrder(t *testing.T) {
	s := newTestScheduler(t)

	low := newFiber(s, FiberWorker, "low", 2)
	high := newFiber(s, FiberWorker, "high", 0)
	mid := newFiber(s, FiberWorker, "mid", 1)

	s.awakened(low)
	s.awakened(mid)
	s.awakened(high)

	if got := s.pickNext(); got != high {
		t.Fatalf("expected high-priority fiber first, got %v", got)
	}
	if got := s.pickNext(); got != mid {
		t.Fatalf("expected mid-priority fiber second, got %v", got)
	}
	if got := s.pickNext(); got != low {
		t.Fatalf("expected low-priority fiber third, got %v", got)
	}
	if got := s.pickNext(); got != nil {
		t.Fatalf("expected nil once idle, got %v", got)
	}
}

func TestScheduler_PickNext_FIFOWithinLevel(t *testing.T) {
	s := newTestScheduler(t)
	a := newFiber(s, FiberWorker, "a", 1)
	b := newFiber(s, FiberWorker, "b", 1)
	s.awakened(a)
	s.awakened(b)

	if got := s.pickNext(); got != a {
		t.Fatalf("expected FIFO order, got %v first", got)
	}
	if got := s.pickNext(); got != b {
		t.Fatalf("expected FIFO order, got %v second", got)
	}
}

func TestScheduler_PickNext_FallsBackToDispatcher(t *testing.T) {
	s := newTestScheduler(t)
	dispatcher := newFiber(s, FiberDispatcher, "dispatcher", s.maxNice)
	s.awakened(dispatcher)

	if got := s.pickNext(); got != dispatcher {
		t.Fatalf("expected dispatcher fallback, got %v", got)
	}
}

func TestScheduler_Awakened_PanicsOnDoubleLink(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "f", 0)
	s.awakened(f)

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic on double-link")
		}
		if _, ok := rec.(*DeadlockError); !ok {
			t.Fatalf("expected *DeadlockError, got %T", rec)
		}
	}()
	s.awakened(f)
}

func TestScheduler_SwitchCountHeuristic_WakesMain(t *testing.T) {
	s := NewScheduler(mustNewReactorForTest(t), WithMainSwitchLimit(2))
	main := newFiber(s, FiberMain, "io_loop", MainNiceLevel)
	s.mainFiber = main

	s.setMask(maskSuspend)
	s.resetSwitchCount()

	for i := 0; i < 3; i++ {
		w := newFiber(s, FiberWorker, "w", 1)
		s.awakened(w)
		s.pickNext()
	}

	if !main.readyIsLinked() {
		t.Fatal("expected the switch-count heuristic to relink MainLoop")
	}
	if s.MainResumes() == 0 {
		t.Fatal("expected MainResumes to be incremented")
	}
}

func TestScheduler_SwitchCountHeuristic_PickingMainDoesNotDoubleCount(t *testing.T) {
	s := NewScheduler(mustNewReactorForTest(t), WithMainSwitchLimit(2))
	main := newFiber(s, FiberMain, "io_loop", MainNiceLevel)
	s.mainFiber = main

	s.setMask(maskSuspend)
	s.resetSwitchCount()

	for i := 0; i < 3; i++ {
		w := newFiber(s, FiberWorker, "w", 1)
		s.awakened(w)
		s.pickNext()
	}
	if got := s.MainResumes(); got != 1 {
		t.Fatalf("expected MainResumes to be exactly 1 after one heuristic wake, got %d", got)
	}

	// MainLoop is now ready-linked (relinked by wakeMain) but SUSPEND is still
	// set, matching the real sequence: MainLoop only clears SUSPEND once it
	// actually resumes. Picking MainLoop itself must not re-trigger the
	// heuristic against MainLoop.
	if got := s.pickNext(); got != main {
		t.Fatalf("expected pickNext to return the relinked MainLoop, got %v", got)
	}
	if got := s.MainResumes(); got != 1 {
		t.Fatalf("expected MainResumes to stay at 1 after picking MainLoop itself, got %d", got)
	}
}

func TestScheduler_PropertyChange_RehomesLinkedFiber(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "f", 0)
	s.awakened(f)

	f.Properties.SetNiceLevel(2)

	if !s.queues[0].empty() {
		t.Fatal("fiber should have been unlinked from its old queue")
	}
	if s.queues[2].empty() {
		t.Fatal("fiber should be linked at its new nice level")
	}
}

func TestScheduler_PropertyChange_PendingWhenUnlinked(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "f", 0)
	// Not linked: propertyChange should be a no-op until awakened links it.
	s.propertyChange(f)
	if f.readyIsLinked() {
		t.Fatal("propertyChange must not link an un-awakened fiber")
	}
}

func TestScheduler_SuspendUntil_PanicsOnRunOneAndSuspend(t *testing.T) {
	s := newTestScheduler(t)
	s.setMask(maskRunOne)

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic")
		}
		if _, ok := rec.(*DeadlockError); !ok {
			t.Fatalf("expected *DeadlockError, got %T", rec)
		}
	}()
	s.suspendUntil(time.Now().Add(time.Second), false)
}

func TestScheduler_Notify_NoopAfterRelease(t *testing.T) {
	s := newTestScheduler(t)
	s.suspendTimer.release()
	// Must not panic and must not rearm a released timer.
	s.notify()
	if s.suspendTimer.RearmCount() != 0 {
		t.Fatal("notify after release must not rearm the suspend timer")
	}
}

func TestScheduler_HasReadyFibers_ExcludesDispatcher(t *testing.T) {
	s := newTestScheduler(t)
	dispatcher := newFiber(s, FiberDispatcher, "dispatcher", s.maxNice)
	s.awakened(dispatcher)

	if s.HasReadyFibers() {
		t.Fatal("dispatcher readiness must not count as a ready worker fiber")
	}

	w := newFiber(s, FiberWorker, "w", 0)
	s.awakened(w)
	if !s.HasReadyFibers() {
		t.Fatal("expected a ready worker fiber to be reported")
	}
}

func mustNewReactorForTest(t *testing.T) *Reactor {
	t.Helper()
	r, err := NewReactor()
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}
