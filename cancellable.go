// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import "sync"

// Cancellable is user-registered background work with a cooperative stop
// signal and a way to wait for it to actually finish. A typical Cancellable
// runs its own goroutine and treats Cancel as a request, not a guarantee of
// immediate termination; Join blocks until it has actually stopped.
type Cancellable interface {
	Cancel() error
	Join() error
}

// Cancellation is the host-side handle returned by AttachCancellable,
// pairing a Cancellable's trigger and its join so Host.Stop can replicate the
// reference implementation's two-phase (signal-then-join) shutdown without
// the caller tracking anything itself.
//
// Every Cancellation carries its own AbortController: Signal returns the
// AbortSignal that fires the instant Cancel is first invoked, letting
// cooperative code inside obj (or anything else watching the same
// cancellable) observe the request without polling obj or blocking on Join.
type Cancellation struct {
	name       string
	obj        Cancellable
	controller *AbortController

	cancelOnce sync.Once
	cancelErr  error
}

// newCancellation constructs a Cancellation with a fresh AbortController.
func newCancellation(name string, obj Cancellable) *Cancellation {
	return &Cancellation{name: name, obj: obj, controller: NewAbortController()}
}

// Name returns the diagnostic name given at registration.
func (c *Cancellation) Name() string { return c.name }

// Signal returns the AbortSignal that fires when Cancel is first called,
// before obj.Cancel() runs. OnAbort handlers registered against it fire even
// if Cancel is later called again (Cancel itself is idempotent).
func (c *Cancellation) Signal() *AbortSignal { return c.controller.Signal() }

// Cancel aborts this cancellation's signal and signals the underlying
// Cancellable to stop. Safe to call more than once, including concurrently
// from both Host.Stop's normal drain and an automatic path such as the
// timeout AttachCancellableWithTimeout arms: only the first call reaches
// obj.Cancel(); later calls return the same result.
func (c *Cancellation) Cancel() error {
	c.cancelOnce.Do(func() {
		c.controller.Abort(&AbortError{Reason: "cancellation requested for " + c.name})
		c.cancelErr = c.obj.Cancel()
	})
	return c.cancelErr
}

// Join blocks until the underlying Cancellable has actually stopped.
func (c *Cancellation) Join() error { return c.obj.Join() }

// cancellableRegistry tracks attached cancellables for orderly shutdown.
// Grounded on the reference registry's batch-processing shape (a stable
// snapshot taken under lock, then processed outside it) but simplified: no
// weak pointers or GC-driven scavenging, since a Cancellation is an explicit
// handle the host owns for its own lifetime, not a promise racing garbage
// collection.
type cancellableRegistry struct {
	mu    sync.Mutex
	items []*Cancellation
}

func newCancellableRegistry() *cancellableRegistry {
	return &cancellableRegistry{}
}

func (r *cancellableRegistry) add(c *Cancellation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, c)
}

// drain returns the current set of registered cancellables and empties the
// registry, so a concurrent Stop call only ever processes each one once.
func (r *cancellableRegistry) drain() []*Cancellation {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = nil
	return items
}
