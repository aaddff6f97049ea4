// File: highlevel/fifo.go
// Package highlevel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package highlevel

import (
	"sync"

	"github.com/eapache/queue"
)

// fifo is a mutex-guarded ring queue whose waiters select on a channel that
// is closed and replaced on every change, so waits compose with contexts.
type fifo struct {
	mu      sync.Mutex
	q       *queue.Queue
	changed chan struct{}
	closed  bool
}

func newFIFO() *fifo {
	return &fifo{q: queue.New(), changed: make(chan struct{})}
}

// push appends v. It fails once the fifo is closed.
func (f *fifo) push(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.q.Add(v)
	f.signalLocked()
	return true
}

// pop removes the head. When the fifo is empty it returns the channel to
// wait on and whether the fifo was closed.
func (f *fifo) pop() (v any, ok bool, wait <-chan struct{}, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() > 0 {
		v = f.q.Remove()
		f.signalLocked()
		return v, true, nil, false
	}
	return nil, false, f.changed, f.closed
}

// watch returns the channel closed by the next change.
func (f *fifo) watch() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// signal wakes every waiter without changing the contents.
func (f *fifo) signal() {
	f.mu.Lock()
	f.signalLocked()
	f.mu.Unlock()
}

// close rejects further pushes. Queued items can still be popped.
func (f *fifo) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.signalLocked()
	}
}

// drain removes and returns every queued item.
func (f *fifo) drain() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, 0, f.q.Length())
	for f.q.Length() > 0 {
		out = append(out, f.q.Remove())
	}
	f.signalLocked()
	return out
}

func (f *fifo) signalLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
