// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"container/heap"
	"time"
)

// timerEntry is a single scheduled callback in the reactor's timer heap.
type timerEntry struct {
	when     time.Time
	fn       func()
	id       uint64
	canceled bool
}

// timerHeap is a min-heap of timerEntry ordered by deadline, the same
// container/heap usage the reactor's ancestor event loop used for its own
// timer scheduling.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// SuspendTimer is the single steady-clock deadline the scheduler arms
// against the reactor to implement suspend_until/notify. Created at
// scheduler construction and released at scheduler teardown, before the
// reactor itself is torn down; ExpiresAt after release is a documented no-op.
//
// Rearming to the same deadline as the currently pending one is a no-op:
// this is what makes "arm suspend_until(T) twice with the same T" leave
// exactly one pending timer instead of canceling and resubmitting.
type SuspendTimer struct {
	reactor      *Reactor
	pendingID    uint64
	hasPending   bool
	lastDeadline time.Time
	haveDeadline bool
	rearmCount   uint64
	rel          bool
}

func newSuspendTimer(reactor *Reactor) *SuspendTimer {
	return &SuspendTimer{reactor: reactor}
}

// ExpiresAt arms (or rearms) the timer for deadline. A handler is not
// supplied because the timer's sole purpose is to make Reactor.RunOne/Poll
// return at the deadline so MainLoop can re-evaluate ready fibers; nothing
// fiber-specific needs to run inside the reactor's own callback dispatch.
func (t *SuspendTimer) ExpiresAt(deadline time.Time) {
	if t.rel {
		return
	}
	if t.hasPending && t.haveDeadline && deadline.Equal(t.lastDeadline) {
		return
	}
	if t.hasPending {
		t.reactor.cancelTimer(t.pendingID)
	}
	t.pendingID = t.reactor.scheduleAt(deadline, func() {})
	t.hasPending = true
	t.lastDeadline = deadline
	t.haveDeadline = true
	t.rearmCount++
}

// RearmCount reports how many times ExpiresAt actually rearmed the
// underlying reactor timer (as opposed to being suppressed as a same-deadline
// no-op), used by tests exercising the double-arm law.
func (t *SuspendTimer) RearmCount() uint64 { return t.rearmCount }

// cancelPending cancels any outstanding arm without releasing the timer.
func (t *SuspendTimer) cancelPending() {
	if t.hasPending {
		t.reactor.cancelTimer(t.pendingID)
		t.hasPending = false
	}
}

// release permanently disables the timer; subsequent ExpiresAt calls are
// no-ops. Called when MainLoop exits, after the reactor has stopped and
// before its OS resources are closed.
func (t *SuspendTimer) release() {
	t.cancelPending()
	t.rel = true
}

// released reports whether release has been called.
func (t *SuspendTimer) released() bool { return t.rel }
