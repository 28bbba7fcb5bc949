// Package fibersched implements a cooperative fiber scheduler and I/O
// reactor: fibers are goroutines that voluntarily hand a single baton back
// and forth rather than being preempted, and a [Reactor] multiplexes timers
// and file-descriptor readiness on top of epoll.
//
// # Architecture
//
// A [Scheduler] implements the scheduling algorithm ([Scheduler.PickNext],
// [Scheduler.Awaken], [Scheduler.PropertyChange], [Scheduler.SuspendUntil],
// [Scheduler.Notify]) against a set of nice-level ready queues plus one
// dedicated dispatcher slot. [Host] wires a Scheduler to a [Reactor] and owns
// the two fibers every instance needs: the MainLoop fiber (drains ready
// worker fibers, then blocks the reactor thread in RunOne when none remain)
// and the dispatcher fiber (arms the reactor's suspend timer for the next
// known deadline and re-links itself).
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - macOS: kqueue
//
// File descriptor operations ([Reactor.RegisterFD], [Reactor.UnregisterFD],
// [Reactor.ModifyFD]) provide I/O readiness notification on both. Windows is
// not supported: the wake mechanism is a real eventfd/pipe fd threaded
// through [Reactor], not the IOCP-completion model Windows would need.
//
// # Thread Safety
//
// A Scheduler instance is strictly single-threaded: [Scheduler.Run] and the
// fiber bodies it drives must only ever execute on the goroutine that calls
// [Host.Start]. Everything reachable from other goroutines crosses that
// boundary through the reactor's thread-safe primitives instead:
//   - [Host.Async] posts a callback to run on the loop goroutine.
//   - [Host.AsyncFiber] spawns a new worker fiber via the same post path.
//   - [Reactor.Post] is lock-free (MPSC ring buffer).
//   - [Host.InContextThread] lets callers cheaply tell whether they are
//     already on the loop goroutine.
//
// # Scheduling Order
//
// Within a nice level, ready fibers run FIFO. Across levels, strict
// priority: a ready fiber at level i always runs before any ready fiber at
// level j > i. The dispatcher is picked only when every worker queue is
// empty, and MainLoop is pinned at [MainNiceLevel], the highest-priority
// band.
//
// # Usage
//
//	host, err := fibersched.NewHost(
//	    fibersched.WithLogger(fibersched.NewDefaultLogger(fibersched.LevelInfo)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go host.Start()
//
//	host.Async(func() {
//	    fmt.Println("running on the loop goroutine")
//	})
//
//	// ... later, from any goroutine:
//	if err := host.Stop(); err != nil {
//	    log.Println("shutdown errors:", err)
//	}
//
// # Error Types
//
// The package provides structured error categories for the failure modes
// the scheduler and host can hit:
//   - [DeadlockError]: a scheduling invariant was violated (double-link,
//     RUN_ONE and SUSPEND both requested).
//   - [ShutdownError]: Stop's shutdown timeout elapsed with cancellables
//     still pending.
//   - [CancellationError]: a single cancellable's Cancel or Join failed.
//   - [AggregateError]: wraps every error Stop collected across all
//     registered cancellables.
//
// All error types implement the standard [error] interface and
// [errors.Unwrap] for use with [errors.Is] and [errors.As].
package fibersched
