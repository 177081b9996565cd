package indicator

import "math"

// boll computes Bollinger Bands over a rolling window of closes using a
// preallocated circular buffer with running sum and sum-of-squares.
type boll struct {
	period int
	k      float64
	buf    []float64
	idx    int
	count  int
	sum    float64
	sumSq  float64
}

func newBoll(period int, k float64) *boll {
	return &boll{period: period, k: k, buf: make([]float64, period)}
}

// update returns (upper, lower, width); NaNs during warm-up.
func (b *boll) update(close float64) (float64, float64, float64) {
	if b.count >= b.period {
		old := b.buf[b.idx]
		b.sum -= old
		b.sumSq -= old * old
	}
	b.buf[b.idx] = close
	b.sum += close
	b.sumSq += close * close
	b.idx = (b.idx + 1) % b.period
	b.count++

	if b.count < b.period {
		nan := math.NaN()
		return nan, nan, nan
	}

	n := float64(b.period)
	mean := b.sum / n
	variance := b.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0 // float noise
	}
	sd := math.Sqrt(variance)

	upper := mean + b.k*sd
	lower := mean - b.k*sd
	width := math.NaN()
	if mean != 0 {
		width = (upper - lower) / mean
	}
	return upper, lower, width
}

func (b *boll) reset() {
	b.idx = 0
	b.count = 0
	b.sum = 0
	b.sumSq = 0
	for i := range b.buf {
		b.buf[i] = 0
	}
}
