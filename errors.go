// Package fibersched: error types used across the scheduler, reactor, and host.
package fibersched

import (
	"errors"
	"fmt"
)

// DeadlockError reports an illegal scheduler state that can never resolve on
// its own: SuspendUntil called while RUN_ONE is set, or a fiber
// double-linked into the ready queues. It is always a panic value,
// never returned as an error, since the condition indicates a programming
// mistake rather than a runtime contingency.
type DeadlockError struct {
	Reason string
}

func (e *DeadlockError) Error() string {
	if e.Reason == "" {
		return "fibersched: deadlock detected"
	}
	return "fibersched: deadlock detected: " + e.Reason
}

// ShutdownError reports that Host.Stop's configured timeout elapsed before
// every cancellable's Cancel call returned; Pending is the number still
// outstanding at that moment.
type ShutdownError struct {
	Pending int
	Cause   error
}

func (e *ShutdownError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fibersched: shutdown incomplete: %d cancellables still pending: %v", e.Pending, e.Cause)
	}
	return fmt.Sprintf("fibersched: shutdown incomplete: %d cancellables still pending", e.Pending)
}

func (e *ShutdownError) Unwrap() error { return e.Cause }

// CancellationError wraps the error returned by a specific Cancellable's
// Cancel or Join call, tagging it with the cancellable's name for
// AggregateError reporting.
type CancellationError struct {
	Name  string
	Cause error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("fibersched: cancellable %q: %v", e.Name, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// AggregateError collects multiple independent errors, e.g. from joining
// several cancellables during Host.Stop where every failure matters, not
// just the first.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "fibersched: aggregate error (empty)"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("fibersched: %d errors occurred:", len(e.Errors))
	for _, err := range e.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// AggregateErrorCause returns the first error in Errors, if any.
func (e *AggregateError) AggregateErrorCause() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap returns the full error slice for errors.Is/errors.As.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// Is reports true for any other *AggregateError. Targets matched by one of
// the contained errors are found by errors.Is through Unwrap, not by Is.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// WrapError wraps cause with a message, preserving errors.Is/errors.As
// compatibility with cause.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
