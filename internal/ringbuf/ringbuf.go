// Package ringbuf provides a bounded ring buffer of ticks used as the
// aggregator's input buffer. When full, Push evicts the oldest tick instead
// of blocking the feed, and the eviction is counted for metrics.
package ringbuf

import (
	"sync"
	"sync/atomic"

	"solswing/internal/model"
)

// Ring is a bounded drop-oldest ring buffer for Tick values.
// Safe for one producer (the feed ingestor) and one consumer (the
// aggregator drain loop); a mutex keeps eviction and read consistent.
type Ring struct {
	mu    sync.Mutex
	buf   []model.Tick
	start int
	count int

	// Dropped-tick counter (atomic, for metrics).
	dropped atomic.Uint64
}

// New creates a ring buffer with the given capacity (minimum 2).
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{buf: make([]model.Tick, capacity)}
}

// Push appends a tick. If the buffer is full the oldest tick is evicted and
// the dropped counter incremented. Never blocks.
func (r *Ring) Push(t model.Tick) {
	r.mu.Lock()
	if r.count == len(r.buf) {
		// Full: overwrite oldest.
		r.start = (r.start + 1) % len(r.buf)
		r.count--
		r.dropped.Add(1)
	}
	r.buf[(r.start+r.count)%len(r.buf)] = t
	r.count++
	r.mu.Unlock()
}

// Pop retrieves the oldest tick. Returns false if the buffer is empty.
func (r *Ring) Pop() (model.Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return model.Tick{}, false
	}
	t := r.buf[r.start]
	r.start = (r.start + 1) % len(r.buf)
	r.count--
	return t, true
}

// Len returns the current number of buffered ticks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Dropped returns the total number of ticks evicted due to a full buffer.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }
