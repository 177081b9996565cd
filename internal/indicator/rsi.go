package indicator

import "math"

// rsi computes the Relative Strength Index with Wilder's smoothing.
// O(1) per update — no history scans.
type rsi struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

func newRSI(period int) *rsi { return &rsi{period: period, current: math.NaN()} }

func (r *rsi) update(close float64) float64 {
	r.count++

	if r.count == 1 {
		r.prevClose = close
		return math.NaN()
	}

	delta := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build the initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = r.value()
			return r.current
		}
		return math.NaN()
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = r.value()
	return r.current
}

func (r *rsi) value() float64 {
	if r.avgLoss == 0 {
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *rsi) reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = math.NaN()
}
