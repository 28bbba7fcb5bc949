// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

// mainLoopBody is the MainLoop fiber's body: drain ready worker fibers by
// polling the reactor for as long as any remain runnable, otherwise block
// the reactor's own thread in RunOne until something wakes it. Grounded on
// AsioScheduler::MainLoop/WaitTillFibersSuspend from the reference
// implementation.
func mainLoopBody(s *Scheduler, f *Fiber) func() {
	return func() {
		for !s.reactor.Stopped() {
			if s.HasReadyFibers() {
				for s.reactor.Poll() > 0 {
				}
				s.waitTillFibersSuspend(f)
			} else {
				s.setMask(maskRunOne)
				n := s.reactor.RunOne()
				s.clearMask(maskRunOne)
				if n == 0 {
					break
				}
			}
		}
		if s.logger.IsEnabled(LevelInfo) {
			s.logger.Log(LogEntry{Level: LevelInfo, Category: "mainloop", FiberID: int64(f.ID()), Message: "mainloop exited"})
		}
		s.suspendTimer.release()
	}
}

// waitTillFibersSuspend parks the MainLoop fiber, yielding the OS thread to
// whichever worker or dispatcher fiber is ready, until PickNext's
// switch-count heuristic or the dispatcher's suspend_until path re-links it.
func (s *Scheduler) waitTillFibersSuspend(f *Fiber) {
	s.setMask(maskSuspend)
	s.resetSwitchCount()
	f.Suspend()
	s.clearMask(maskSuspend)
}
