// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import "time"

// hostOptions holds resolved configuration for a Reactor/Host pair. Mirrors
// the reference implementation's functional-options shape (an interface with
// a single unexported apply method, resolved into a plain struct up front)
// rather than mutating public fields directly.
type hostOptions struct {
	logger          Logger
	metrics         *Metrics
	shutdownTimeout time.Duration
	pollBatchSize   int
}

// HostOption configures a Reactor or Host at construction time.
type HostOption interface {
	applyHost(*hostOptions)
}

type hostOptionFunc func(*hostOptions)

func (f hostOptionFunc) applyHost(o *hostOptions) { f(o) }

// WithLogger attaches a structured logger to a Reactor or Host. Defaults to
// the package-level logger installed via SetStructuredLogger.
func WithLogger(logger Logger) HostOption {
	return hostOptionFunc(func(o *hostOptions) {
		if logger != nil {
			o.logger = logger
		}
	})
}

// WithHostMetrics attaches a Metrics sink to a Reactor or Host.
func WithHostMetrics(m *Metrics) HostOption {
	return hostOptionFunc(func(o *hostOptions) { o.metrics = m })
}

// WithShutdownTimeout bounds how long Host.Stop waits for the registered
// cancellables' Cancel calls to return. When it elapses, Stop records a
// ShutdownError and goes on to Join every cancellable; the Join calls are not
// bounded by this timeout.
func WithShutdownTimeout(d time.Duration) HostOption {
	return hostOptionFunc(func(o *hostOptions) { o.shutdownTimeout = d })
}

// WithPollBatchSize caps how many posted callbacks a single Reactor.Poll/
// RunOne pass drains before yielding, bounding worst-case latency the way
// the reference loop bounds its external-queue drain per tick.
func WithPollBatchSize(n int) HostOption {
	return hostOptionFunc(func(o *hostOptions) {
		if n > 0 {
			o.pollBatchSize = n
		}
	})
}

const defaultShutdownTimeout = 5 * time.Second
const defaultPollBatchSize = 1024

func resolveHostOptions(opts []HostOption) *hostOptions {
	cfg := &hostOptions{
		logger:          getGlobalLogger(),
		shutdownTimeout: defaultShutdownTimeout,
		pollBatchSize:   defaultPollBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyHost(cfg)
		}
	}
	return cfg
}
