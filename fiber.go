// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"sync/atomic"
	"time"
)

// FiberKind classifies the role a Fiber plays in the scheduler, distinguishing
// the two runtime-owned fibers (main, dispatcher) from ordinary worker fibers.
type FiberKind uint8

const (
	// FiberWorker is an ordinary user-scheduled fiber, subject to the nice-level bands.
	FiberWorker FiberKind = iota
	// FiberMain is the reactor-driving MainLoop fiber, pinned at MainNiceLevel.
	FiberMain
	// FiberDispatcher is the runtime's special lowest-priority fiber, occupying
	// its own ready-queue slot outside the nice-level bands.
	FiberDispatcher
)

// FiberProperties is the mutable per-fiber record the scheduler consults on
// every enqueue. Only NiceLevel affects scheduling; Name is diagnostic only.
type FiberProperties struct {
	fiber     *Fiber
	niceLevel int
	name      string
}

// NiceLevel returns the fiber's current priority band. Lower is higher priority.
func (p *FiberProperties) NiceLevel() int { return p.niceLevel }

// Name returns the fiber's diagnostic name.
func (p *FiberProperties) Name() string { return p.name }

// SetName sets the fiber's diagnostic name. Never triggers rescheduling.
func (p *FiberProperties) SetName(name string) { p.name = name }

// SetNiceLevel clamps p to [0, MaxNice] and, if the value actually changes,
// notifies the owning scheduler's propertyChange so the ready queues can be
// reshuffled. Mirrors IoFiberProperties::SetNiceLevel from the reference
// implementation this scheduler is modeled on.
func (p *FiberProperties) SetNiceLevel(niceLevel int) {
	if p.fiber == nil || p.fiber.scheduler == nil {
		p.niceLevel = clampNice(niceLevel, DefaultMaxNice)
		return
	}
	max := p.fiber.scheduler.maxNice
	niceLevel = clampNice(niceLevel, max)
	if niceLevel == p.niceLevel {
		return
	}
	p.niceLevel = niceLevel
	p.fiber.scheduler.propertyChange(p.fiber)
}

func clampNice(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

var fiberIDCounter atomic.Uint64

// Fiber is a cooperatively scheduled unit of work. Go has no native stackful
// coroutine, so a Fiber is realized as a goroutine parked on a resume channel:
// the scheduler hands it the baton by unblocking resumeCh and gets it back
// when the fiber blocks again on yieldCh. Exactly one Fiber's goroutine holds
// the baton at any instant, which reproduces the single-threaded cooperative
// contract the scheduler algorithm assumes.
//
// The next/linked fields form an intrusive singly-linked list node, following
// the intrusive hook pattern used for connection lists in the reference
// implementation. A Fiber records whether it is queued and whether that is
// the dispatcher slot, but not which nice-level queue holds it, so removing
// it from a nice-level queue searches the queues.
type Fiber struct { //nolint:govet
	id         uint64
	kind       FiberKind
	Properties FiberProperties

	scheduler *Scheduler

	resumeCh chan struct{}
	yieldCh  chan struct{}

	next      *Fiber
	linked    bool
	inDispatch bool // true if linked in the dispatcher slot rather than a nice-level queue

	terminated bool
	started    bool

	awakenedAt time.Time // set by Scheduler.awakened, consumed by pickNext for latency metrics
}

// newFiber allocates a Fiber bound to a scheduler, ready to be launched.
func newFiber(s *Scheduler, kind FiberKind, name string, niceLevel int) *Fiber {
	f := &Fiber{
		id:       fiberIDCounter.Add(1),
		kind:     kind,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
	f.Properties = FiberProperties{fiber: f, name: name}
	f.scheduler = s
	f.Properties.niceLevel = clampNice(niceLevel, s.maxNice)
	return f
}

// ID returns the fiber's unique, process-local identifier.
func (f *Fiber) ID() uint64 { return f.id }

// Kind reports whether this is a worker, the MainLoop fiber, or the dispatcher.
func (f *Fiber) Kind() FiberKind { return f.kind }

// launch starts the fiber's goroutine. body runs once the fiber first
// receives the baton; when body returns, the fiber is marked terminated and
// control returns to the scheduler permanently.
func (f *Fiber) launch(body func()) {
	go func() {
		<-f.resumeCh
		body()
		f.terminated = true
		f.yieldCh <- struct{}{}
	}()
}

// park hands the baton back to the scheduler and blocks until it is resumed.
// Callers must arrange for the fiber to be re-linked into a ready queue by
// some other means (self via Yield, or another fiber/callback via Awaken),
// or it will never run again.
func (f *Fiber) park() {
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

// Yield voluntarily gives up the baton, immediately re-enqueuing itself at
// its current nice level (equivalent to boost::fiber's this_fiber::yield()
// under this algorithm: the fiber remains ready, just moved to the back of
// its queue).
func (f *Fiber) Yield() {
	f.scheduler.awakened(f)
	f.park()
}

// Suspend gives up the baton without re-enqueuing. The fiber will not run
// again until some other code calls Scheduler.Awaken on it. Used for
// condition-variable-style waits such as WaitTillFibersSuspend.
func (f *Fiber) Suspend() {
	f.park()
}

// readyIsLinked reports whether the fiber currently occupies a ready-queue slot.
func (f *Fiber) readyIsLinked() bool { return f.linked }
