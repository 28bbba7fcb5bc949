package fibersched

import (
	"testing"
	"time"
)

func TestDispatcherBody_ExitsWhenReactorStopped(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)
	reactor.Stop()

	dispatcher := newFiber(s, FiberDispatcher, "dispatcher", s.maxNice)
	dispatcher.launch(dispatcherBody(s, dispatcher))

	s.awakened(dispatcher)
	dispatcher.resumeCh <- struct{}{}
	waitOrTimeout(t, dispatcher.yieldCh, time.Second)

	if !dispatcher.terminated {
		t.Fatal("dispatcher should terminate once the reactor is stopped")
	}
}

func TestDispatcherBody_RelinksItselfEachRound(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)

	dispatcher := newFiber(s, FiberDispatcher, "dispatcher", s.maxNice)
	dispatcher.launch(dispatcherBody(s, dispatcher))

	s.awakened(dispatcher)
	if picked := s.pickNext(); picked != dispatcher {
		t.Fatalf("expected pickNext to return the dispatcher, got %v", picked)
	}
	dispatcher.resumeCh <- struct{}{}
	// Each pass calls suspendUntil then awakened(self) then Suspend; the
	// Suspend inside the loop body is what yields the baton back here.
	waitOrTimeout(t, dispatcher.yieldCh, time.Second)

	if !dispatcher.readyIsLinked() {
		t.Fatal("dispatcher should have re-linked itself via awakened before parking")
	}

	reactor.Stop()
	// Resume once more so the loop condition re-evaluates and exits. The
	// dispatcher relinked itself before parking, so it must be popped again
	// before handing back the baton.
	if picked := s.pickNext(); picked != dispatcher {
		t.Fatalf("expected pickNext to return the dispatcher again, got %v", picked)
	}
	dispatcher.resumeCh <- struct{}{}
	waitOrTimeout(t, dispatcher.yieldCh, time.Second)
	if !dispatcher.terminated {
		t.Fatal("dispatcher should terminate on the next pass after Stop")
	}
}

func TestNextWakeDeadline_CapsAtMaxDelay(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)

	before := time.Now()
	deadline := s.nextWakeDeadline()
	if deadline.Sub(before) > 11*time.Second {
		t.Fatalf("expected deadline capped near 10s, got %v", deadline.Sub(before))
	}
}

func TestNextWakeDeadline_TracksNearestTimer(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)

	reactor.scheduleAt(time.Now().Add(50*time.Millisecond), func() {})

	deadline := s.nextWakeDeadline()
	until := time.Until(deadline)
	if until <= 0 || until > time.Second {
		t.Fatalf("expected deadline close to the scheduled timer, got %v", until)
	}
}
