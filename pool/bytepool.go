// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync/atomic"

// DefaultClasses are the buffer size classes used by Default.
var DefaultClasses = []int{512, 2 << 10, 8 << 10, 32 << 10, 128 << 10}

// Default is the process-wide byte pool.
var Default = NewBytePool(DefaultClasses...)

// Stats is a snapshot of pool activity.
type Stats struct {
	Gets   uint64 // buffers handed out
	Puts   uint64 // buffers returned to a class
	Misses uint64 // Get calls served by a fresh allocation
	Large  uint64 // requests above the largest class
}

// BytePool hands out byte slices from a fixed set of size classes. Requests
// above the largest class are allocated directly and never retained.
type BytePool struct {
	classes []int
	pools   []*SyncPool[*[]byte]

	gets, puts, misses, large atomic.Uint64
}

// NewBytePool builds a pool with the given ascending size classes.
func NewBytePool(classes ...int) *BytePool {
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	p := &BytePool{classes: append([]int(nil), classes...)}
	p.pools = make([]*SyncPool[*[]byte], len(classes))
	for i, size := range p.classes {
		size := size
		p.pools[i] = NewSyncPool(func() *[]byte {
			p.misses.Add(1)
			b := make([]byte, size)
			return &b
		})
	}
	return p
}

// Get returns a slice of length n. Its capacity is the matching class size.
func (p *BytePool) Get(n int) []byte {
	p.gets.Add(1)
	i := p.classFor(n)
	if i < 0 {
		p.large.Add(1)
		return make([]byte, n)
	}
	bp := p.pools[i].Get()
	return (*bp)[:n]
}

// Put returns b to its class. Slices whose capacity matches no class are
// left to the garbage collector.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	for i, size := range p.classes {
		if size == c {
			b = b[:size]
			p.pools[i].Put(&b)
			p.puts.Add(1)
			return
		}
	}
}

// Stats returns the activity counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		Misses: p.misses.Load(),
		Large:  p.large.Load(),
	}
}

func (p *BytePool) classFor(n int) int {
	for i, size := range p.classes {
		if n <= size {
			return i
		}
	}
	return -1
}
