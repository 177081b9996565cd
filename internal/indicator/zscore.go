package indicator

import (
	"math"
	"sort"
)

// zscore computes a rolling z-score over a fixed window using running sum
// and sum-of-squares. O(1) per update.
type zscore struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
	sumSq  float64
}

func newZScore(period int) *zscore {
	return &zscore{period: period, buf: make([]float64, period)}
}

func (z *zscore) update(v float64) float64 {
	if z.count >= z.period {
		old := z.buf[z.idx]
		z.sum -= old
		z.sumSq -= old * old
	}
	z.buf[z.idx] = v
	z.sum += v
	z.sumSq += v * v
	z.idx = (z.idx + 1) % z.period
	z.count++

	if z.count < z.period {
		return math.NaN()
	}

	n := float64(z.period)
	mean := z.sum / n
	variance := z.sumSq/n - mean*mean
	if variance < 1e-18 {
		return 0
	}
	return (v - mean) / math.Sqrt(variance)
}

func (z *zscore) reset() {
	z.idx = 0
	z.count = 0
	z.sum = 0
	z.sumSq = 0
	for i := range z.buf {
		z.buf[i] = 0
	}
}

// medianWindow tracks the median over the last `period` values.
// The window is small (20), so sorting a scratch copy per query is fine.
type medianWindow struct {
	period  int
	buf     []float64
	scratch []float64
	idx     int
	count   int
}

func newMedianWindow(period int) *medianWindow {
	return &medianWindow{
		period:  period,
		buf:     make([]float64, period),
		scratch: make([]float64, period),
	}
}

func (m *medianWindow) update(v float64) float64 {
	m.buf[m.idx] = v
	m.idx = (m.idx + 1) % m.period
	if m.count < m.period {
		m.count++
	}
	return m.median()
}

// median returns the current median, or NaN until at least one value exists.
func (m *medianWindow) median() float64 {
	if m.count == 0 {
		return math.NaN()
	}
	s := m.scratch[:m.count]
	copy(s, m.buf[:m.count])
	sort.Float64s(s)
	if m.count%2 == 1 {
		return s[m.count/2]
	}
	return (s[m.count/2-1] + s[m.count/2]) / 2
}

func (m *medianWindow) reset() {
	m.idx = 0
	m.count = 0
}
