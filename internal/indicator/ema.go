package indicator

import "math"

// ema computes an Exponential Moving Average seeded by the SMA of the first
// `period` values. O(1) per update.
type ema struct {
	period     int
	multiplier float64
	count      int
	sum        float64
	current    float64
}

func newEMA(period int) *ema {
	return &ema{
		period:     period,
		multiplier: 2.0 / float64(period+1),
		current:    math.NaN(),
	}
}

func (e *ema) update(price float64) float64 {
	e.count++
	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
			return e.current
		}
		return math.NaN()
	}
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

func (e *ema) reset() {
	e.count = 0
	e.sum = 0
	e.current = math.NaN()
}
