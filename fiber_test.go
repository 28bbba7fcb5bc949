package fibersched

import (
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	reactor, err := NewReactor()
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	t.Cleanup(func() { _ = reactor.Close() })
	return NewScheduler(reactor)
}

func TestFiber_LaunchAndTerminate(t *testing.T) {
	s := newTestScheduler(t)
	ran := false
	f := newFiber(s, FiberWorker, "worker", 0)
	f.launch(func() { ran = true })

	f.resumeCh <- struct{}{}
	<-f.yieldCh

	if !ran {
		t.Fatal("fiber body did not run")
	}
	if !f.terminated {
		t.Fatal("fiber should be terminated after body returns")
	}
}

func TestFiber_Yield_ReenqueuesSelf(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "worker", 0)
	yielded := make(chan struct{})
	f.launch(func() {
		f.Yield()
		close(yielded)
	})

	f.resumeCh <- struct{}{}
	<-f.yieldCh

	if !f.readyIsLinked() {
		t.Fatal("Yield should relink the fiber into its ready queue")
	}

	if picked := s.pickNext(); picked != f {
		t.Fatalf("expected pickNext to return the yielded fiber, got %v", picked)
	}

	f.resumeCh <- struct{}{}
	<-f.yieldCh
	<-yielded

	if f.readyIsLinked() {
		t.Fatal("fiber should not be linked after terminating")
	}
}

func TestFiber_Suspend_DoesNotReenqueue(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "worker", 0)
	resumed := make(chan struct{})
	f.launch(func() {
		f.Suspend()
		close(resumed)
	})

	f.resumeCh <- struct{}{}
	<-f.yieldCh

	if f.readyIsLinked() {
		t.Fatal("Suspend must not relink the fiber")
	}

	s.awakened(f)
	f.resumeCh <- struct{}{}
	<-f.yieldCh
	<-resumed
}

func TestFiberProperties_SetNiceLevel_ClampsAndNotifies(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberWorker, "worker", 0)
	s.awakened(f)

	f.Properties.SetNiceLevel(s.maxNice + 5)
	if got := f.Properties.NiceLevel(); got != s.maxNice {
		t.Fatalf("nice level should clamp to maxNice %d, got %d", s.maxNice, got)
	}

	// property_change should have re-homed the fiber into the new queue.
	if s.queues[s.maxNice].empty() {
		t.Fatal("fiber should have been moved into the max-nice queue")
	}
}

func TestFiberProperties_SetNiceLevel_StoresWithoutScheduler(t *testing.T) {
	p := &FiberProperties{}
	p.SetNiceLevel(2)
	if p.NiceLevel() != 2 {
		t.Fatalf("expected nice level 2, got %d", p.NiceLevel())
	}
}

func TestClampNice(t *testing.T) {
	cases := []struct{ n, max, want int }{
		{-1, 3, 0},
		{0, 3, 0},
		{5, 3, 3},
		{2, 3, 2},
	}
	for _, c := range cases {
		if got := clampNice(c.n, c.max); got != c.want {
			t.Errorf("clampNice(%d, %d) = %d, want %d", c.n, c.max, got, c.want)
		}
	}
}

func TestFiber_ID_Unique(t *testing.T) {
	s := newTestScheduler(t)
	a := newFiber(s, FiberWorker, "a", 0)
	b := newFiber(s, FiberWorker, "b", 0)
	if a.ID() == b.ID() {
		t.Fatal("fiber ids must be unique")
	}
}

func TestFiber_Kind(t *testing.T) {
	s := newTestScheduler(t)
	f := newFiber(s, FiberDispatcher, "dispatcher", s.maxNice)
	if f.Kind() != FiberDispatcher {
		t.Fatalf("expected FiberDispatcher, got %v", f.Kind())
	}
}

// waitOrTimeout fails the test if ch does not receive within d, guarding
// against a deadlocked fiber baton hanging the whole test binary.
func waitOrTimeout(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting on channel")
	}
}
