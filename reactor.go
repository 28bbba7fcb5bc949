// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"container/heap"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Standard reactor errors.
var (
	// ErrReactorStopped is returned by Post when the reactor has already stopped.
	ErrReactorStopped = errors.New("fibersched: reactor is stopped")
)

var reactorIDCounter atomic.Uint64
var timerIDCounter atomic.Uint64

// Reactor is the concrete I/O event-demultiplexing engine: epoll for
// readiness, an eventfd for cross-thread wakeups, and a steady-clock timer
// min-heap for deadlines. The scheduler and MainLoop only ever see it through
// the black-box surface of Poll/RunOne/Stop/Restart/Stopped/Post plus the
// SuspendTimer it hands to the scheduler; this file is the concrete
// implementation that makes that surface real, grounded on the reference
// event loop's tick/poll/shutdown structure.
type Reactor struct { //nolint:govet
	id uint64

	state *FastState

	poller FastPoller
	posts  *postQueue
	timers timerHeap

	pollBatchSize int

	wakeFd      int
	wakeFdWrite int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	stopOnce sync.Once

	logger  Logger
	metrics *Metrics
}

// NewReactor constructs and initializes a Reactor: an epoll instance and an
// eventfd wake pipe, ready to accept Post calls and FD registrations before
// the first Poll/RunOne.
func NewReactor(opts ...HostOption) (*Reactor, error) {
	cfg := resolveHostOptions(opts)

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		id:            reactorIDCounter.Add(1),
		state:         NewFastState(),
		posts:         newPostQueue(),
		timers:        make(timerHeap, 0),
		wakeFd:        wakeFd,
		wakeFdWrite:   wakeWriteFd,
		logger:        cfg.logger,
		metrics:       cfg.metrics,
		pollBatchSize: cfg.pollBatchSize,
	}

	if err := r.poller.Init(); err != nil {
		_ = unix.Close(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = unix.Close(wakeWriteFd)
		}
		return nil, err
	}

	if err := r.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) { r.drainWake() }); err != nil {
		_ = r.poller.Close()
		_ = unix.Close(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = unix.Close(wakeWriteFd)
		}
		return nil, err
	}

	r.state.TryTransition(StateAwake, StateRunning)
	return r, nil
}

// RegisterFD registers fd for I/O readiness notification.
func (r *Reactor) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return r.poller.RegisterFD(fd, events, cb)
}

// UnregisterFD stops monitoring fd.
func (r *Reactor) UnregisterFD(fd int) error { return r.poller.UnregisterFD(fd) }

// ModifyFD updates the monitored event set for fd.
func (r *Reactor) ModifyFD(fd int, events IOEvents) error { return r.poller.ModifyFD(fd, events) }

// Post enqueues fn to run on the reactor's own thread, the one thread-safe
// way to get code to execute inside a fiber runtime bound to this reactor
// from any other goroutine.
func (r *Reactor) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if !r.state.CanAcceptWork() {
		return ErrReactorStopped
	}
	r.posts.push(fn)
	r.wake()
	return nil
}

// scheduleAt adds fn to the timer heap and returns an id usable with
// cancelTimer. fn runs on the reactor thread when the deadline is reached
// during Poll or RunOne.
func (r *Reactor) scheduleAt(when time.Time, fn func()) uint64 {
	id := timerIDCounter.Add(1)
	heap.Push(&r.timers, &timerEntry{when: when, fn: fn, id: id})
	r.wake()
	return id
}

// cancelTimer marks the timer entry with id as canceled. It is lazily
// dropped the next time the heap is drained, matching the reference loop's
// tolerance for zero-handler poll passes.
func (r *Reactor) cancelTimer(id uint64) {
	for _, e := range r.timers {
		if e.id == id {
			e.canceled = true
			return
		}
	}
}

// Poll performs a single non-blocking drain of posted callbacks, expired
// timers, and any already-ready I/O, returning the number of handlers
// dispatched.
func (r *Reactor) Poll() int {
	return r.runTick(0, true)
}

// RunOne blocks the calling goroutine until at least one handler runs, or
// the reactor stops, returning the number of handlers dispatched (0 if
// stopped with nothing left to do). This is the call that lets the whole OS
// thread sleep on I/O when there is no fiber work ready.
func (r *Reactor) RunOne() int {
	for {
		if n := r.runTick(r.nextTimeout(), false); n > 0 || r.state.IsTerminal() {
			return n
		}
	}
}

// runTick drains posted callbacks and expired timers, then polls I/O for up
// to timeoutMs (or until at least one handler ran, when nonBlocking is
// false and timeoutMs is derived from the timer heap). A blocking pass CASes
// the reactor into StateSleeping before the actual PollIO call and back to
// StateRunning after, the way the reference loop's poll() does, so wake()
// only pays for an eventfd write when the reactor is genuinely parked there.
func (r *Reactor) runTick(timeoutMs int, nonBlocking bool) int {
	if r.state.IsTerminal() {
		return 0
	}

	dispatched := 0
	dispatched += r.drainPosts()
	dispatched += r.runTimers()

	if dispatched > 0 || r.state.IsTerminal() {
		return dispatched
	}

	if nonBlocking {
		timeoutMs = 0
	} else {
		if !r.state.TryTransition(StateRunning, StateSleeping) {
			// Stop() won the race; nothing left to wait for.
			return dispatched
		}
		// A Post/scheduleAt landing between the drain above and this CAS would
		// have seen StateRunning and skipped waking us; catch it here before
		// blocking.
		if !r.posts.isEmpty() || (len(r.timers) > 0 && !r.timers[0].when.After(time.Now())) {
			r.state.TryTransition(StateSleeping, StateRunning)
			timeoutMs = 0
		}
	}

	n, err := r.poller.PollIO(timeoutMs)
	if !nonBlocking {
		r.state.TryTransition(StateSleeping, StateRunning)
	}
	if err != nil {
		if r.logger.IsEnabled(LevelError) {
			r.logger.Log(LogEntry{Level: LevelError, Category: "reactor", Message: "poll failed", Err: err})
		}
		return dispatched
	}
	if r.state.IsTerminal() {
		// Stop() woke us; its wake event is not a handler.
		return dispatched
	}
	dispatched += n

	dispatched += r.drainPosts()
	dispatched += r.runTimers()

	return dispatched
}

// drainPosts runs queued Post callbacks, stopping once pollBatchSize have run
// in this pass even if more remain queued; the rest are picked up on the next
// Poll/RunOne tick. Bounds how long a single pass can be held hostage by a
// caller that keeps posting from another goroutine.
func (r *Reactor) drainPosts() int {
	n := 0
	for r.pollBatchSize <= 0 || n < r.pollBatchSize {
		fn := r.posts.pop()
		if fn == nil {
			break
		}
		r.safeRun(fn)
		n++
	}
	return n
}

func (r *Reactor) runTimers() int {
	now := time.Now()
	n := 0
	for len(r.timers) > 0 {
		next := r.timers[0]
		if next.canceled {
			heap.Pop(&r.timers)
			continue
		}
		if next.when.After(now) {
			break
		}
		heap.Pop(&r.timers)
		r.safeRun(next.fn)
		n++
	}
	return n
}

func (r *Reactor) nextTimeout() int {
	const maxDelay = 10 * time.Second
	delay := maxDelay
	for len(r.timers) > 0 {
		if r.timers[0].canceled {
			heap.Pop(&r.timers)
			continue
		}
		d := r.timers[0].when.Sub(time.Now())
		if d < 0 {
			d = 0
		}
		if d < delay {
			delay = d
		}
		break
	}
	if delay > 0 && delay < time.Millisecond {
		return 1
	}
	return int(delay.Milliseconds())
}

func (r *Reactor) safeRun(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger.IsEnabled(LevelError) {
				r.logger.Log(LogEntry{Level: LevelError, Category: "reactor", Message: "handler panicked", Context: map[string]any{"panic": rec}})
			} else {
				log.Printf("fibersched: reactor: handler panicked: %v", rec)
			}
		}
	}()
	fn()
}

// wake nudges a blocked RunOne into returning promptly. Mirrors the reference
// loop's Wake(): a no-op unless the reactor is currently StateSleeping, since
// a Running reactor will see queued work on its own next drain pass without
// needing an eventfd write.
func (r *Reactor) wake() {
	if r.state.Load() != StateSleeping {
		return
	}
	r.forceWake()
}

// forceWake writes to the wake eventfd unconditionally, deduplicating
// concurrent requests via wakePending. Used by wake() once it has confirmed
// the reactor is parked in PollIO, and by Stop() to pull a sleeping reactor
// out of its blocking poll regardless of state.
func (r *Reactor) forceWake() {
	if r.wakePending.CompareAndSwap(0, 1) {
		var one uint64 = 1
		buf := (*[8]byte)(unsafe.Pointer(&one))[:]
		_, _ = unix.Write(r.wakeFdWrite, buf)
	}
}

func (r *Reactor) drainWake() {
	for {
		_, err := unix.Read(r.wakeFd, r.wakeBuf[:])
		if err != nil {
			break
		}
	}
	r.wakePending.Store(0)
}

// Stop halts the reactor: no further Post calls succeed, and any
// blocked RunOne returns. Safe to call more than once.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		for {
			current := r.state.Load()
			if current == StateTerminated {
				return
			}
			if r.state.TryTransition(current, StateTerminated) {
				if current == StateSleeping {
					r.forceWake()
				}
				return
			}
		}
	})
}

// Restart clears the stopped state so the reactor can run another drain
// pass, used by the host's two-pass cleanup where poll() and
// has_ready_fibers() must be re-checked after the first drain admits new
// handlers. This is the one place a Store past StateTerminated is
// legitimate: an administrative reset, not a transition the run loop itself
// takes.
func (r *Reactor) Restart() {
	r.stopOnce = sync.Once{}
	r.state.Store(StateRunning)
}

// Stopped reports whether Stop has been called since the last Restart.
func (r *Reactor) Stopped() bool { return r.state.IsTerminal() }

// Close releases the reactor's OS resources: the epoll fd and the wake
// eventfd. Call only after the owning host has fully shut down.
func (r *Reactor) Close() error {
	err := r.poller.Close()
	_ = unix.Close(r.wakeFd)
	if r.wakeFdWrite != r.wakeFd {
		_ = unix.Close(r.wakeFdWrite)
	}
	return err
}
