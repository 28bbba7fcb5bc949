package fibersched

import (
	"testing"
	"time"
)

func TestMainLoopBody_ExitsWhenReactorAlreadyStopped(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)
	reactor.Stop()

	main := newFiber(s, FiberMain, "io_loop", MainNiceLevel)
	s.mainFiber = main
	main.launch(mainLoopBody(s, main))

	s.awakened(main)
	main.resumeCh <- struct{}{}
	waitOrTimeout(t, main.yieldCh, time.Second)

	if !main.terminated {
		t.Fatal("mainloop should terminate once the reactor is stopped")
	}
	if !s.suspendTimer.released() {
		t.Fatal("mainloop exit should release the suspend timer")
	}
}

func TestMainLoopBody_DrainsReadyWorkersBeforeParking(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)

	main := newFiber(s, FiberMain, "io_loop", MainNiceLevel)
	s.mainFiber = main
	main.launch(mainLoopBody(s, main))
	s.awakened(main)

	worker := newFiber(s, FiberWorker, "worker", 1)
	workerRan := make(chan struct{})
	worker.launch(func() { close(workerRan) })
	s.awakened(worker)

	runDone := make(chan struct{})
	go func() {
		s.Run()
		close(runDone)
	}()

	// MainLoop must yield to the ready worker before it ever blocks in
	// RunOne, since a worker is ready the first time around the loop.
	waitOrTimeout(t, workerRan, time.Second)

	reactor.Stop()
	waitOrTimeout(t, runDone, time.Second)
}

func TestWaitTillFibersSuspend_SetsAndClearsMask(t *testing.T) {
	reactor := mustNewReactorForTest(t)
	s := NewScheduler(reactor)
	main := newFiber(s, FiberMain, "io_loop", MainNiceLevel)
	s.mainFiber = main

	done := make(chan struct{})
	main.launch(func() {
		s.waitTillFibersSuspend(main)
		close(done)
	})

	main.resumeCh <- struct{}{}
	// The receive below only completes once the fiber has reached its park
	// point inside Suspend, which happens after setMask — the channel
	// operation is what gives this goroutine a happens-before view of it.
	waitOrTimeout(t, main.yieldCh, time.Second)
	if !s.hasMask(maskSuspend) {
		t.Fatal("expected SUSPEND mask to be set while parked")
	}

	s.awakened(main)
	main.resumeCh <- struct{}{}
	waitOrTimeout(t, main.yieldCh, time.Second)
	waitOrTimeout(t, done, time.Second)

	if s.hasMask(maskSuspend) {
		t.Fatal("expected SUSPEND mask to be cleared after resume")
	}
}
