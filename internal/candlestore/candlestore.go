// Package candlestore provides the typed, bounded-history in-memory store of
// closed bars, indexed by timeframe. Each timeframe has a single writer (its
// aggregator, or the bulk CSV loader in batch mode) and any number of readers;
// readers always receive copies.
package candlestore

import (
	"sync"

	"solswing/internal/model"
)

// DefaultCapacity is the per-timeframe closed-bar history cap.
const DefaultCapacity = 5000

// ring is a fixed-size circular buffer of closed bars.
type ring struct {
	buf   []model.Bar
	start int // index of oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Bar, capacity)}
}

func (r *ring) push(b model.Bar) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = b
		r.count++
		return
	}
	// Full: evict oldest.
	r.buf[r.start] = b
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last() (model.Bar, bool) {
	if r.count == 0 {
		return model.Bar{}, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

// tail copies up to n most recent bars, oldest-first.
func (r *ring) tail(n int) []model.Bar {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.Bar, n)
	first := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

// Store holds one bounded ring of closed bars per timeframe plus the
// in-progress "open" bar for each, which is never returned by Latest.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[model.Timeframe]*ring
	open     map[model.Timeframe]*model.Bar
}

// New creates a store covering the given timeframes. capacity <= 0 selects
// DefaultCapacity.
func New(capacity int, tfs ...model.Timeframe) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: capacity,
		rings:    make(map[model.Timeframe]*ring, len(tfs)),
		open:     make(map[model.Timeframe]*model.Bar, len(tfs)),
	}
	for _, tf := range tfs {
		s.rings[tf] = newRing(capacity)
	}
	return s
}

// Append adds a closed bar to the timeframe's ring. The bar must be aligned
// to the timeframe and strictly after the previous bar. If the new bar skips
// buckets, synthetic gap bars carrying the previous close and zero volume are
// inserted so neighbouring epochs always differ by exactly the bar width.
func (s *Store) Append(tf model.Timeframe, b model.Bar) error {
	if !b.Valid() {
		return model.Errf(model.EBadInput, "bar %d violates OHLCV invariant", b.Epoch)
	}
	if b.Epoch%tf.Seconds() != 0 {
		return model.Errf(model.EBadInput, "bar epoch %d not aligned to %s", b.Epoch, tf)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[tf]
	if !ok {
		r = newRing(s.capacity)
		s.rings[tf] = r
	}

	if last, ok := r.last(); ok {
		if b.Epoch <= last.Epoch {
			return model.Errf(model.EBadInput,
				"non-monotonic append for %s: %d <= %d", tf, b.Epoch, last.Epoch)
		}
		// Gap fill so the epoch chain stays contiguous.
		for e := last.Epoch + tf.Seconds(); e < b.Epoch; e += tf.Seconds() {
			r.push(model.Bar{
				Epoch:     e,
				Open:      last.Close,
				High:      last.Close,
				Low:       last.Close,
				Close:     last.Close,
				Volume:    0,
				Synthetic: true,
			})
		}
	}

	r.push(b)
	return nil
}

// Latest returns up to n most recent closed bars, oldest-first.
func (s *Store) Latest(tf model.Timeframe, n int) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[tf]
	if !ok {
		return nil
	}
	return r.tail(n)
}

// All returns a copy of every closed bar for the timeframe, oldest-first.
func (s *Store) All(tf model.Timeframe) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[tf]
	if !ok {
		return nil
	}
	return r.tail(r.count)
}

// Last returns the most recent closed bar for the timeframe.
func (s *Store) Last(tf model.Timeframe) (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[tf]
	if !ok {
		return model.Bar{}, false
	}
	return r.last()
}

// Size returns the number of closed bars held for the timeframe.
func (s *Store) Size(tf model.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[tf]
	if !ok {
		return 0
	}
	return r.count
}

// SetOpen replaces the in-progress bar for the timeframe.
func (s *Store) SetOpen(tf model.Timeframe, b model.Bar) {
	s.mu.Lock()
	cp := b
	s.open[tf] = &cp
	s.mu.Unlock()
}

// Open returns a copy of the in-progress bar, if any.
func (s *Store) Open(tf model.Timeframe) (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b := s.open[tf]; b != nil {
		return *b, true
	}
	return model.Bar{}, false
}

// ClearOpen drops the in-progress bar (called when the bucket closes).
func (s *Store) ClearOpen(tf model.Timeframe) {
	s.mu.Lock()
	delete(s.open, tf)
	s.mu.Unlock()
}

// Reset drops all bars for all timeframes, keeping the configured capacity.
func (s *Store) Reset() {
	s.mu.Lock()
	for tf := range s.rings {
		s.rings[tf] = newRing(s.capacity)
	}
	s.open = make(map[model.Timeframe]*model.Bar, len(s.open))
	s.mu.Unlock()
}
