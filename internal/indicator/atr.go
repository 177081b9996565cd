package indicator

import "math"

// atr computes Average True Range with Wilder's smoothing.
// O(1) per update — first value is the SMA of the first `period` true ranges.
type atr struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

func newATR(period int) *atr { return &atr{period: period, current: math.NaN()} }

func (a *atr) update(high, low, close float64) float64 {
	a.count++
	if a.count == 1 {
		a.prevClose = close
		// First bar: TR is just the bar range.
		a.sum = high - low
		return math.NaN()
	}

	tr := high - low
	if d := math.Abs(high - a.prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - a.prevClose); d > tr {
		tr = d
	}
	a.prevClose = close

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
			return a.current
		}
		return math.NaN()
	}

	// Wilder's smoothing: ATR = (prevATR*(period-1) + TR) / period
	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
	return a.current
}

func (a *atr) reset() {
	a.count = 0
	a.prevClose = 0
	a.sum = 0
	a.current = math.NaN()
}
