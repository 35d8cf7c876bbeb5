// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// Pool bounds the number of receive buffers outstanding at any time.
//
// Buffers are handed out by [*Pool.Alloc] and returned by [*Frame.Release].
// Construct using [NewPool].
type Pool struct {
	// capacity is the maximum number of outstanding buffers (<= 0 means unbounded).
	capacity int64

	// inuse is the number of outstanding buffers.
	inuse atomic.Int64
}

// NewPool creates a new [*Pool] allowing at most capacity outstanding
// buffers. A capacity of zero or less means the pool never runs dry.
func NewPool(capacity int) *Pool {
	return &Pool{capacity: int64(capacity)}
}

// Alloc returns a zeroed buffer of the given size, or false when the pool is exhausted.
func (p *Pool) Alloc(size int) ([]byte, bool) {
	for {
		cur := p.inuse.Load()
		if p.capacity > 0 && cur >= p.capacity {
			return nil, false
		}
		if p.inuse.CompareAndSwap(cur, cur+1) {
			return make([]byte, size), true
		}
	}
}

// Free returns one buffer to the pool.
//
// This method PANICs if more buffers are freed than allocated.
func (p *Pool) Free() {
	runtimex.Assert(p.inuse.Add(-1) >= 0)
}

// InUse returns the number of outstanding buffers.
func (p *Pool) InUse() int {
	return int(p.inuse.Load())
}

// Capacity returns the maximum number of outstanding buffers (<= 0 means unbounded).
func (p *Pool) Capacity() int {
	return int(p.capacity)
}
