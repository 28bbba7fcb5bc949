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

const (
	// DefaultMaxNice is the highest (lowest-priority) nice level available to
	// worker fibers when a Scheduler is constructed without WithMaxNice.
	DefaultMaxNice = 3

	// MainNiceLevel is the nice level pinned to the MainLoop fiber. It is
	// always the highest-priority worker band.
	MainNiceLevel = 0

	// DefaultMainSwitchLimit is the number of worker-to-worker switches
	// tolerated, while MainLoop is parked, before it is forcibly resumed.
	DefaultMainSwitchLimit = 4
)

// loopMask is a bitset of what MainLoop is currently doing, used to assert
// against the illegal state of the dispatcher trying to sleep while MainLoop
// is already blocked inside a reactor run_one call.
type loopMask uint32

const (
	maskRunOne loopMask = 1 << iota
	maskSuspend
)

// Scheduler implements the cooperative fiber scheduling algorithm: awakened,
// pickNext, suspendUntil, notify, propertyChange, hasReadyFibers. It is
// modeled directly on AsioScheduler from the reference implementation this
// package was distilled from, translated from boost::fiber's
// algorithm_with_properties into a Go-native baton-passing scheduler over
// goroutines.
//
// A Scheduler instance is strictly single-threaded: it must only be driven
// from the goroutine that calls Run, matching the "each instance owns exactly
// one OS thread" model. It shares no state with other Scheduler instances.
type Scheduler struct { //nolint:govet
	maxNice            int
	mainSwitchLimit    uint64
	alternateHeuristic bool

	reactor *Reactor
	logger  Logger
	metrics *Metrics

	queues        []readyQueue // indices [0, maxNice]
	dispatchQueue readyQueue   // exactly one occupant: the dispatcher fiber

	lastNiceLevel int
	readyCount    atomic.Int64

	mask        atomic.Uint32
	switchCount uint64
	mainResumes atomic.Uint64

	suspendTimer *SuspendTimer

	mainFiber       *Fiber
	dispatcherFiber *Fiber

	stopped atomic.Bool
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*Scheduler)
}

type schedulerOptionFunc func(*Scheduler)

func (f schedulerOptionFunc) applyScheduler(s *Scheduler) { f(s) }

// WithMaxNice overrides DefaultMaxNice, widening or narrowing the worker
// priority band.
func WithMaxNice(maxNice int) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) {
		if maxNice < 0 {
			maxNice = 0
		}
		s.maxNice = maxNice
	})
}

// WithMainSwitchLimit overrides DefaultMainSwitchLimit.
func WithMainSwitchLimit(limit uint64) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) { s.mainSwitchLimit = limit })
}

// WithAlternateSwitchHeuristic enables the disabled heuristic noted in the
// reference implementation's source comments: only counts a switch toward
// MainResumes when the picked fiber's level is numerically above
// MainNiceLevel (lower priority than MainLoop) AND more
// than one worker fiber is ready. Default is false, matching the active
// (unconditional) heuristic used by default.
func WithAlternateSwitchHeuristic(enabled bool) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) { s.alternateHeuristic = enabled })
}

// WithSchedulerLogger attaches a structured logger to the scheduler.
func WithSchedulerLogger(logger Logger) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) { s.logger = logger })
}

// WithSchedulerMetrics attaches a Metrics sink to the scheduler.
func WithSchedulerMetrics(m *Metrics) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) { s.metrics = m })
}

// NewScheduler constructs a Scheduler bound to reactor, which supplies the
// suspend timer and the blocking primitives MainLoop drives.
func NewScheduler(reactor *Reactor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		maxNice:         DefaultMaxNice,
		mainSwitchLimit: DefaultMainSwitchLimit,
		reactor:         reactor,
		logger:          getGlobalLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyScheduler(s)
		}
	}
	s.queues = make([]readyQueue, s.maxNice+1)
	s.suspendTimer = newSuspendTimer(reactor)
	return s
}

// MaxNice returns the highest configured nice level.
func (s *Scheduler) MaxNice() int { return s.maxNice }

// ActiveFiberCount returns the number of worker fibers currently linked in
// any ready queue, excluding the dispatcher. Equivalent to ReadyCount in the
// data model, exposed as a public accessor the way the reference
// implementation exposes active_fiber_count().
func (s *Scheduler) ActiveFiberCount() int { return int(s.readyCount.Load()) }

// MainResumes returns the number of times the switch-count heuristic has
// forced MainLoop to resume while workers remained ready. Scoped to this
// Scheduler instance, never a process-wide global.
func (s *Scheduler) MainResumes() uint64 { return s.mainResumes.Load() }

// hasReadyFibers reports whether any worker fiber (not the dispatcher) is
// ready to run.
func (s *Scheduler) hasReadyFibers() bool { return s.readyCount.Load() > 0 }

// HasReadyFibers is the exported form of hasReadyFibers, used by MainLoop and
// tests.
func (s *Scheduler) HasReadyFibers() bool { return s.hasReadyFibers() }

// awakened links ctx into the appropriate ready queue. Precondition: ctx must
// not already be linked. Dispatcher fibers go to the dedicated dispatch slot;
// everyone else goes to ReadyQueues[nice_level], bumping ReadyCount and
// lowering the scan cursor.
func (s *Scheduler) awakened(ctx *Fiber) {
	if ctx.linked {
		panic(&DeadlockError{Reason: "awakened: fiber already linked in a ready queue"})
	}

	ctx.awakenedAt = time.Now()

	if ctx.kind == FiberDispatcher {
		s.dispatchQueue.pushBack(ctx)
		ctx.linked = true
		ctx.inDispatch = true
		return
	}

	nice := ctx.Properties.niceLevel
	s.queues[nice].pushBack(ctx)
	ctx.linked = true
	ctx.inDispatch = false
	s.readyCount.Add(1)
	if nice < s.lastNiceLevel {
		s.lastNiceLevel = nice
	}
	if s.metrics != nil {
		s.metrics.Queue.UpdateNiceLevel(nice, s.queues[nice].length)
	}
}

// Awaken is the exported wrapper around awakened, used by the host and
// reactor callbacks to re-ready a fiber that previously called Suspend.
func (s *Scheduler) Awaken(ctx *Fiber) { s.awakened(ctx) }

// pickNext scans ReadyQueues[lastNiceLevel..maxNice] for the first non-empty
// level, pops its head, and returns it. Falls back to the dispatcher slot
// when no worker is ready. Returns nil when the scheduler is fully idle.
func (s *Scheduler) pickNext() *Fiber {
	for ; s.lastNiceLevel <= s.maxNice; s.lastNiceLevel++ {
		q := &s.queues[s.lastNiceLevel]
		if q.empty() {
			continue
		}
		ctx := q.popFront()
		ctx.linked = false
		s.readyCount.Add(-1)
		if s.metrics != nil {
			s.metrics.Queue.UpdateNiceLevel(s.lastNiceLevel, q.length)
		}
		s.recordPickLatency(ctx)

		// MainLoop itself being picked must never feed the heuristic that
		// wakes MainLoop: SUSPEND stays set until MainLoop resumes and
		// clears it, so counting this pick would re-trigger wakeMain and
		// double up MainResumes for a single suspend/resume cycle.
		if loopMask(s.mask.Load())&maskSuspend != 0 && ctx != s.mainFiber {
			countsAsSwitch := true
			if s.alternateHeuristic {
				countsAsSwitch = ctx.Properties.niceLevel > MainNiceLevel && s.ActiveFiberCount() > 1
			}
			if countsAsSwitch {
				s.switchCount++
				if s.switchCount > s.mainSwitchLimit {
					s.wakeMain()
					s.mainResumes.Add(1)
				}
			}
		}

		// Do not advance lastNiceLevel past i on the successful branch: a
		// subsequent awakened() at a lower level must still be found.
		return ctx
	}

	if !s.dispatchQueue.empty() {
		ctx := s.dispatchQueue.popFront()
		ctx.linked = false
		s.recordPickLatency(ctx)
		return ctx
	}

	return nil
}

// recordPickLatency reports how long ctx sat ready between awakened() linking
// it and pickNext handing it the baton, the "fiber pick-to-run latency"
// PrometheusCollector surfaces as fibersched_pick_latency_seconds.
func (s *Scheduler) recordPickLatency(ctx *Fiber) {
	if s.metrics == nil || ctx.awakenedAt.IsZero() {
		return
	}
	s.metrics.Latency.Record(time.Since(ctx.awakenedAt))
}

// PickNext is the exported wrapper around pickNext, used by the scheduler's
// own run loop and by tests exercising the algorithm directly.
func (s *Scheduler) PickNext() *Fiber { return s.pickNext() }

// propertyChange re-homes ctx after its nice level changed. If ctx is not
// currently linked, the change is left pending: the new priority takes
// effect the next time awakened() links it.
func (s *Scheduler) propertyChange(ctx *Fiber) {
	if !ctx.readyIsLinked() {
		return
	}

	var q *readyQueue
	if ctx.inDispatch {
		q = &s.dispatchQueue
	} else {
		// ctx was linked under its old nice level; find and unlink it there.
		// The old level isn't tracked separately, so scan is required (this
		// only ever runs for a fiber changing its own priority, which is rare).
		for i := range s.queues {
			if s.queues[i].unlink(ctx) {
				ctx.linked = false
				s.readyCount.Add(-1)
				s.awakened(ctx)
				return
			}
		}
		return
	}

	if q.unlink(ctx) {
		ctx.linked = false
	}
	s.awakened(ctx)
}

// PropertyChange is the exported wrapper for propertyChange, invoked by
// FiberProperties.SetNiceLevel.
func (s *Scheduler) PropertyChange(ctx *Fiber) { s.propertyChange(ctx) }

// suspendUntil parks the calling OS thread's reactor until deadline, or
// indefinitely when forever is true (deadline is then ignored and the suspend
// timer is not armed). Must only be called
// from the dispatcher fiber; panics with DeadlockError if RUN_ONE is set,
// since that means MainLoop is already blocked inside a reactor call and a
// second concurrent sleep request is a contract violation.
func (s *Scheduler) suspendUntil(deadline time.Time, forever bool) {
	if loopMask(s.mask.Load())&maskRunOne != 0 {
		panic(&DeadlockError{Reason: "suspend_until: RUN_ONE and SUSPEND both requested"})
	}

	if !forever {
		s.suspendTimer.ExpiresAt(deadline)
	}

	s.wakeMain()
}

// SuspendUntil is the exported wrapper around suspendUntil.
func (s *Scheduler) SuspendUntil(deadline time.Time, forever bool) { s.suspendUntil(deadline, forever) }

// notify is the external wake path: something happened that should interrupt
// the suspend timer before it would naturally fire. A no-op once the
// scheduler has torn down its suspend timer during shutdown.
func (s *Scheduler) notify() {
	if s.suspendTimer.released() {
		if s.logger.IsEnabled(LevelDebug) {
			s.logger.Log(LogEntry{Level: LevelDebug, Category: "scheduler", Message: "notify called during shutdown phase"})
		}
		return
	}
	s.suspendTimer.ExpiresAt(time.Now())
}

// Notify is the exported wrapper around notify.
func (s *Scheduler) Notify() { s.notify() }

// wakeMain re-links the MainLoop fiber if it is currently parked (not
// linked), the Go equivalent of signalling the condition variable that
// WaitTillFibersSuspend blocks on.
func (s *Scheduler) wakeMain() {
	if s.mainFiber != nil && !s.mainFiber.readyIsLinked() {
		s.awakened(s.mainFiber)
	}
}

// setMask/clearMask/hasMask manage the LoopMask bits from MainLoop's body.
func (s *Scheduler) setMask(bit loopMask)   { s.mask.Or(uint32(bit)) }
func (s *Scheduler) clearMask(bit loopMask) { s.mask.And(^uint32(bit)) }
func (s *Scheduler) hasMask(bit loopMask) bool {
	return loopMask(s.mask.Load())&bit != 0
}

// resetSwitchCount zeroes the per-parking switch counter. Called on MainLoop
// entry to WaitTillFibersSuspend.
func (s *Scheduler) resetSwitchCount() { s.switchCount = 0 }

// Run drives the baton-passing cycle at the heart of the scheduler: pick the
// next ready fiber, hand it the baton, block until it yields or terminates,
// repeat. This is the Go substitute for boost::fiber's continuous
// pick_next/resume machinery, which here has to be explicit since a Fiber is
// just a goroutine parked on a channel pair rather than a real stackful
// context switch. Must be called from the single OS thread that owns this
// Scheduler; returns once the MainLoop fiber itself terminates.
func (s *Scheduler) Run() {
	for {
		f := s.pickNext()
		if f == nil {
			return
		}
		if s.metrics != nil {
			s.metrics.Resumes.Increment()
		}
		f.resumeCh <- struct{}{}
		<-f.yieldCh
		if f.terminated && f.kind == FiberMain {
			return
		}
	}
}

// stepOnce hands the baton to a single ready fiber and waits for it to yield
// or terminate, without the MainLoop-termination check Run applies. Used by
// Host's post-MainLoop cleanup drain, where MainLoop has already exited but
// worker fibers it awakened during its final tick still need to run.
func (s *Scheduler) stepOnce() {
	f := s.pickNext()
	if f == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.Resumes.Increment()
	}
	f.resumeCh <- struct{}{}
	<-f.yieldCh
}
