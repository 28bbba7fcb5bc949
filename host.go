// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"runtime"
	"sync/atomic"
	"time"
)

// getGoroutineID returns the current goroutine's runtime id, the closest Go
// analogue to the std::thread::id the reference implementation records for
// its InContextThread predicate. Parsed out of runtime.Stack's header line
// since Go deliberately exposes no direct API for this.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Host binds a Scheduler to a Reactor and drives the whole bootstrap/shutdown
// lifecycle a single-OS-thread event loop needs: launching the MainLoop and
// dispatcher fibers, running the baton-passing cycle, and, on Stop, walking
// the registered cancellables through their signal-then-join sequence.
// Grounded on IoContext::StartLoop/IoContext::Stop from the reference
// implementation this package was distilled from.
type Host struct { //nolint:govet
	reactor   *Reactor
	scheduler *Scheduler

	mainFiber       *Fiber
	dispatcherFiber *Fiber

	cancellables *cancellableRegistry
	shutdown     *AbortController

	ownerGoroutine atomic.Uint64

	logger  Logger
	metrics *Metrics

	shutdownTimeout time.Duration

	started atomic.Bool
	done    chan struct{}
}

// NewHost constructs a Reactor and the Scheduler bound to it, but does not
// start the loop; call Start to actually run it.
func NewHost(opts ...HostOption) (*Host, error) {
	cfg := resolveHostOptions(opts)

	reactor, err := NewReactor(opts...)
	if err != nil {
		return nil, err
	}

	scheduler := NewScheduler(reactor, WithSchedulerLogger(cfg.logger), WithSchedulerMetrics(cfg.metrics))

	return &Host{
		reactor:         reactor,
		scheduler:       scheduler,
		cancellables:    newCancellableRegistry(),
		shutdown:        NewAbortController(),
		logger:          cfg.logger,
		metrics:         cfg.metrics,
		shutdownTimeout: cfg.shutdownTimeout,
		done:            make(chan struct{}),
	}, nil
}

// Reactor returns the reactor this host drives.
func (h *Host) Reactor() *Reactor { return h.reactor }

// Scheduler returns the scheduler this host drives.
func (h *Host) Scheduler() *Scheduler { return h.scheduler }

// Start launches the dispatcher and MainLoop fibers, records the calling
// goroutine as the loop's owner, and blocks running the baton-passing cycle
// until the reactor stops. On return, it performs the two-pass cleanup drain
// the reference implementation's StartLoop requires before the caller may
// safely close the reactor's OS resources.
//
// Must be called from the goroutine that will own this Host for its entire
// lifetime; InContextThread reports whether the calling goroutine is that one.
func (h *Host) Start() {
	if !h.started.CompareAndSwap(false, true) {
		panic(&DeadlockError{Reason: "Start: host already started"})
	}
	defer close(h.done)

	h.ownerGoroutine.Store(getGoroutineID())

	dispatcher := newFiber(h.scheduler, FiberDispatcher, "dispatcher", h.scheduler.maxNice)
	dispatcher.launch(dispatcherBody(h.scheduler, dispatcher))
	h.dispatcherFiber = dispatcher
	h.scheduler.dispatcherFiber = dispatcher
	h.scheduler.awakened(dispatcher)

	main := newFiber(h.scheduler, FiberMain, "io_loop", MainNiceLevel)
	main.launch(mainLoopBody(h.scheduler, main))
	h.mainFiber = main
	h.scheduler.mainFiber = main
	h.scheduler.awakened(main)

	h.scheduler.Run()

	h.cleanupDrain()

	if h.logger.IsEnabled(LevelInfo) {
		h.logger.Log(LogEntry{Level: LevelInfo, Category: "mainloop", Message: "host stopped", Context: map[string]any{"main_resumes": h.scheduler.MainResumes()}})
	}
}

// cleanupDrain performs the two-pass drain the reference implementation runs
// after MainLoop exits: keep polling the reactor and stepping any worker
// fibers it wakes until both are quiet, then restart the reactor and repeat
// once more, since a restart can re-admit handlers queued during the first
// pass. The dispatcher is deliberately excluded from the has-ready-fibers
// check, matching hasReadyFibers's own scope, since it would otherwise loop
// forever re-arming its own suspend timer.
func (h *Host) cleanupDrain() {
	for i := 0; i < 2; i++ {
		for h.reactor.Poll() > 0 || h.scheduler.HasReadyFibers() {
			if h.scheduler.HasReadyFibers() {
				h.scheduler.stepOnce()
			} else {
				runtime.Gosched()
			}
		}
		h.reactor.Restart()
	}
}

// Async posts fn to run on the reactor's own goroutine, the thread-safe way
// to reach into a running Host from any other goroutine.
func (h *Host) Async(fn func()) error {
	return h.reactor.Post(fn)
}

// AsyncFiber spawns a new worker fiber that runs fn and links it into the
// ready queue. fn runs with the fiber's baton held; it receives no handle to
// its fiber, so it cannot Yield or Suspend it. When fn returns, the fiber
// terminates.
//
// Safe to call from any goroutine: the fiber is created and linked via a
// reactor Post, never touching scheduler state off the owning goroutine.
func (h *Host) AsyncFiber(fn func()) error {
	return h.Async(func() {
		f := newFiber(h.scheduler, FiberWorker, "", h.scheduler.maxNice)
		f.launch(fn)
		h.scheduler.awakened(f)
	})
}

// AttachCancellable registers obj for orderly shutdown: when Stop runs, it
// signals obj.Cancel and waits for obj.Join alongside every other registered
// cancellable, aggregating failures rather than letting one hang the rest.
func (h *Host) AttachCancellable(name string, obj Cancellable) *Cancellation {
	c := newCancellation(name, obj)
	h.cancellables.add(c)
	return c
}

// AttachCancellableWithTimeout registers obj like AttachCancellable, but also
// arms a deadline: if nothing else has canceled obj by the time timeout
// elapses, it is canceled automatically. The deadline is short-circuited the
// moment the host's own shutdown begins, whichever comes first, via AbortAny
// combining the host's shutdown signal with the timeout's own signal.
//
// The timer is armed on the reactor's own goroutine (scheduleAt is only safe
// to call from there), so this always succeeds asynchronously; a host that
// has already stopped by the time the Post runs simply never fires the timer.
func (h *Host) AttachCancellableWithTimeout(name string, obj Cancellable, timeout time.Duration) *Cancellation {
	c := h.AttachCancellable(name, obj)

	err := h.Async(func() {
		timeoutController := AbortTimeout(h.reactor, int(timeout.Milliseconds()))
		combined := AbortAny([]*AbortSignal{h.shutdown.Signal(), timeoutController.Signal()})
		combined.OnAbort(func(reason any) {
			go c.Cancel()
		})
	})
	if err != nil && h.logger.IsEnabled(LevelWarn) {
		h.logger.Log(LogEntry{Level: LevelWarn, Category: "cancellable", Message: "failed to arm cancellation timeout", Err: err, Context: map[string]any{"name": name}})
	}

	return c
}

// ShutdownSignal returns the AbortSignal that fires the moment Stop begins,
// before any individual cancellable is signaled. Lets code running inside an
// AsyncFiber-spawned worker, or a Cancellable's own goroutine, observe an
// in-progress shutdown cooperatively via the same signal idiom Cancellation
// exposes per-registration.
func (h *Host) ShutdownSignal() *AbortSignal { return h.shutdown.Signal() }

// InContextThread reports whether the calling goroutine is the one that
// called Start. There is no OS-thread-affinity guarantee in Go the way the
// reference implementation pins a std::thread, so this compares goroutine
// identity as the closest available proxy; it answers the same question user
// code actually needs answered, "am I already on the loop".
func (h *Host) InContextThread() bool {
	owner := h.ownerGoroutine.Load()
	return owner != 0 && getGoroutineID() == owner
}

// Stop signals every registered cancellable, waits for them all to
// acknowledge, joins each one, and finally stops the reactor so Start's
// baton-passing cycle and cleanup drain return. Safe to call from any
// goroutine, including one spawned by a cancellable's own Cancel.
//
// Returns an *AggregateError wrapping every Cancel/Join failure, or nil if
// every registered cancellable shut down cleanly.
func (h *Host) Stop() error {
	h.shutdown.Abort(&AbortError{Reason: "host stop requested"})

	items := h.cancellables.drain()

	var errs []error
	if len(items) > 0 {
		type result struct {
			name string
			err  error
		}
		results := make(chan result, len(items))
		for _, c := range items {
			c := c
			go func() {
				err := c.Cancel()
				results <- result{name: c.Name(), err: err}
			}()
		}

		timeout := h.shutdownTimeout
		var deadline <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		pending := len(items)
	collectCancel:
		for pending > 0 {
			select {
			case r := <-results:
				pending--
				if r.err != nil {
					errs = append(errs, &CancellationError{Name: r.name, Cause: r.err})
				}
			case <-deadline:
				errs = append(errs, &ShutdownError{Pending: pending})
				break collectCancel
			}
		}

		for _, c := range items {
			if err := c.Join(); err != nil {
				errs = append(errs, &CancellationError{Name: c.Name(), Cause: err})
			}
		}
	}

	h.reactor.Stop()
	<-h.done

	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}
