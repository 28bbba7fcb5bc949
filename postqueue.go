// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	// sizeOfCacheLine is the assumed L1 cache line size in bytes, used to pad
	// hot atomic fields apart to avoid false sharing between cores.
	sizeOfCacheLine = 128

	// sizeOfAtomicUint64 is the size in bytes of an atomic.Uint64 field.
	sizeOfAtomicUint64 = 8

	// postRingSize is the fixed size of the postQueue ring buffer. Must be a
	// power of two for the bitwise index wrap.
	postRingSize = 4096

	// postSeqSkip is the sentinel sequence value for an empty slot, chosen far
	// from any value a legitimately wrapped sequence counter would produce.
	postSeqSkip = uint64(1) << 63

	postOverflowInitCap        = 1024
	postOverflowCompactThresh  = 512
	postHeadPadSize            = sizeOfCacheLine - sizeOfAtomicUint64
)

// postQueue is a lock-free MPSC ring buffer of posted callbacks, the queue
// backing Reactor.Post. Any goroutine may push; only the reactor's own
// goroutine ever pops. Grounded on the reference implementation's
// microtask ring: same slot-validity-flag design, same mutex-protected
// overflow slice for the case the ring is momentarily full.
type postQueue struct { // betteralign:ignore
	_       [sizeOfCacheLine]byte
	buffer  [postRingSize]func()
	valid   [postRingSize]atomic.Bool
	seq     [postRingSize]atomic.Uint64
	head    atomic.Uint64
	_       [postHeadPadSize]byte
	tail    atomic.Uint64
	tailSeq atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []func()
	overflowHead    int
	overflowPending atomic.Bool
}

func newPostQueue() *postQueue {
	q := &postQueue{}
	for i := range q.seq {
		q.seq[i].Store(postSeqSkip)
	}
	return q
}

// push enqueues fn. Always succeeds; a full ring spills to the overflow slice.
func (q *postQueue) push(fn func()) {
	if q.overflowPending.Load() {
		q.overflowMu.Lock()
		if len(q.overflow)-q.overflowHead > 0 {
			q.overflow = append(q.overflow, fn)
			q.overflowMu.Unlock()
			return
		}
		q.overflowMu.Unlock()
	}

	for {
		tail := q.tail.Load()
		head := q.head.Load()
		if tail-head >= postRingSize {
			break
		}
		if q.tail.CompareAndSwap(tail, tail+1) {
			seq := q.tailSeq.Add(1)
			idx := tail % postRingSize
			q.buffer[idx] = fn
			q.valid[idx].Store(true)
			q.seq[idx].Store(seq)
			return
		}
	}

	q.overflowMu.Lock()
	if q.overflow == nil {
		q.overflow = make([]func(), 0, postOverflowInitCap)
	}
	q.overflow = append(q.overflow, fn)
	q.overflowPending.Store(true)
	q.overflowMu.Unlock()
}

// pop removes and returns the next posted callback, or nil if none pending.
func (q *postQueue) pop() func() {
	head := q.head.Load()
	tail := q.tail.Load()

	for head < tail {
		idx := head % postRingSize
		seq := q.seq[idx].Load()

		if seq == postSeqSkip || !q.valid[idx].Load() {
			head = q.head.Load()
			tail = q.tail.Load()
			runtime.Gosched()
			continue
		}

		fn := q.buffer[idx]
		q.buffer[idx] = nil
		q.valid[idx].Store(false)
		q.seq[idx].Store(postSeqSkip)
		q.head.Add(1)
		if fn == nil {
			head = q.head.Load()
			tail = q.tail.Load()
			continue
		}
		return fn
	}

	if !q.overflowPending.Load() {
		return nil
	}

	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()

	count := len(q.overflow) - q.overflowHead
	if count == 0 {
		q.overflowPending.Store(false)
		return nil
	}

	fn := q.overflow[q.overflowHead]
	q.overflow[q.overflowHead] = nil
	q.overflowHead++

	if q.overflowHead > len(q.overflow)/2 && q.overflowHead > postOverflowCompactThresh {
		copy(q.overflow, q.overflow[q.overflowHead:])
		q.overflow = slices.Delete(q.overflow, len(q.overflow)-q.overflowHead, len(q.overflow))
		q.overflowHead = 0
	}

	if q.overflowHead >= len(q.overflow) {
		q.overflowPending.Store(false)
	}

	return fn
}

// length returns the total number of pending callbacks (ring plus overflow).
func (q *postQueue) length() int {
	head := q.head.Load()
	tail := q.tail.Load()
	n := 0
	if tail > head {
		n = int(tail - head)
	}
	q.overflowMu.Lock()
	n += len(q.overflow) - q.overflowHead
	q.overflowMu.Unlock()
	return n
}

// isEmpty reports whether the queue currently holds no callbacks. May have
// false negatives under concurrent modification, matching the reference
// ring's documented behavior.
func (q *postQueue) isEmpty() bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail > head {
		return false
	}
	q.overflowMu.Lock()
	empty := len(q.overflow)-q.overflowHead == 0
	q.overflowMu.Unlock()
	return empty
}
