/*
NAME
  ring.go

DESCRIPTION
  ring.go implements a bounded single-producer single-consumer byte
  queue: a non-blocking Put that reports how much it actually
  accepted, and a Get that blocks up to a deadline for at least one
  byte to become available.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package recorder

import (
	"sync"
	"time"
)

// RingBuffer is a bounded byte queue safe for one concurrent producer
// and one concurrent consumer. It replaces original_source's
// cRingBufferLinear with the timeout/non-blocking contract spec.md §5
// calls for, rather than porting VDR's pointer-juggling implementation
// directly.
type RingBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	head     int // next byte to read.
	size     int // number of valid bytes starting at head.
	overflow int64
}

// NewRingBuffer returns a RingBuffer with capacity n bytes.
func NewRingBuffer(n int) *RingBuffer {
	r := &RingBuffer{buf: make([]byte, n)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put enqueues as much of data as fits and returns the number of bytes
// accepted. It never blocks.
func (r *RingBuffer) Put(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := len(r.buf) - r.size
	n := len(data)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	tail := (r.head + r.size) % len(r.buf)
	first := len(r.buf) - tail
	if first > n {
		first = n
	}
	copy(r.buf[tail:], data[:first])
	copy(r.buf[:n-first], data[first:n])

	r.size += n
	r.cond.Signal()
	return n
}

// ReportOverflow records bytes dropped by a partial Put. It is purely
// observational; call Overflow to read the running total.
func (r *RingBuffer) ReportOverflow(n int) {
	r.mu.Lock()
	r.overflow += int64(n)
	r.mu.Unlock()
}

// Overflow returns the cumulative number of bytes reported dropped by
// ReportOverflow.
func (r *RingBuffer) Overflow() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflow
}

// Get blocks until at least one byte is available or timeout elapses,
// then returns a snapshot of the largest contiguous run of enqueued
// bytes it can hand back (up to the end of the underlying ring,
// whichever is smaller), without removing them from the buffer. It
// returns nil if no data was available within timeout.
//
// The caller must follow up with Del, naming how many of the returned
// bytes it actually consumed; bytes not yet Del'd remain and are
// included, at the front, of the next Get. This mirrors
// cRingBufferLinear's Get/Del split so that a frame detector still
// hunting for sync can re-scan the same bytes across repeated calls
// without losing them.
func (r *RingBuffer) Get(timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		t := time.AfterFunc(remaining, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		r.cond.Wait()
		t.Stop()
	}

	run := len(r.buf) - r.head
	if run > r.size {
		run = r.size
	}
	out := make([]byte, run)
	copy(out, r.buf[r.head:r.head+run])
	return out
}

// Del removes the first n bytes previously handed back by Get from the
// buffer. n must not exceed the size of the last snapshot Get
// returned.
func (r *RingBuffer) Del(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}
