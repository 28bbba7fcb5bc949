// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import "time"

// dispatcherBody is the dispatcher fiber's body: the scheduler's own
// lowest-priority fiber, picked only when no worker fiber is ready. Each
// time it runs, it arms the suspend timer for the reactor's next known
// deadline, re-links itself so PickNext can find it again next round, and
// parks. Grounded on the reference implementation's dispatcher-context
// handling inside pick_next/suspend_until, made explicit here since Go has
// no equivalent of boost::fiber's built-in dispatcher context.
func dispatcherBody(s *Scheduler, f *Fiber) func() {
	return func() {
		for !s.reactor.Stopped() {
			deadline := s.nextWakeDeadline()
			s.suspendUntil(deadline, false)
			s.awakened(f)
			f.Suspend()
		}
	}
}

// nextWakeDeadline reports the point in time the dispatcher should arm the
// suspend timer for, derived from the reactor's own timer heap and capped at
// the reactor's maximum poll delay so the dispatcher periodically re-checks
// even with nothing scheduled.
func (s *Scheduler) nextWakeDeadline() time.Time {
	ms := s.reactor.nextTimeout()
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}
