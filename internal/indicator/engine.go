package indicator

import (
	"math"

	"solswing/internal/model"
)

// Engine maintains the full indicator cross-section for one bar series,
// aligned index-for-index with the bars fed to Update. Designed for
// single-goroutine usage — no locks.
//
// Local extrema require ExtremaHalfWin future bars, so labels for index i are
// only assigned once bar i+ExtremaHalfWin has closed; LabeledThrough reports
// the highest labelled index.
type Engine struct {
	bars []model.Bar

	atr14 *atr
	atr5  *atr
	rsi14 *rsi
	bb    *boll
	emaF  *ema
	emaS  *ema
	volZ  *zscore
	obvZ  *zscore
	medV  *medianWindow

	obvSum float64

	// Parallel value series, one entry per bar.
	vals []Values

	labeledThrough int // highest index with extrema labels; -1 when none
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		atr14:          newATR(ATRPeriod),
		atr5:           newATR(ATRFastPeriod),
		rsi14:          newRSI(RSIPeriod),
		bb:             newBoll(BollPeriod, BollStdev),
		emaF:           newEMA(EMAFastPeriod),
		emaS:           newEMA(EMASlowPeriod),
		volZ:           newZScore(VolZPeriod),
		obvZ:           newZScore(OBVZPeriod),
		medV:           newMedianWindow(MedianVolSpan),
		labeledThrough: -1,
	}
}

// Update feeds one newly closed bar and computes its indicator cross-section.
// Returns the index assigned to the bar.
func (e *Engine) Update(b model.Bar) int {
	i := len(e.bars)

	v := Values{
		ATR14:   e.atr14.update(b.High, b.Low, b.Close),
		ATR5:    e.atr5.update(b.High, b.Low, b.Close),
		RSI14:   e.rsi14.update(b.Close),
		EMAFast: e.emaF.update(b.Close),
		EMASlow: e.emaS.update(b.Close),
	}
	v.BBUpper, v.BBLower, v.BBWidth = e.bb.update(b.Close)

	// OBV: running signed cumulative volume by close direction.
	if i > 0 {
		prev := e.bars[i-1].Close
		switch {
		case b.Close > prev:
			e.obvSum += b.Volume
		case b.Close < prev:
			e.obvSum -= b.Volume
		}
	}
	v.OBV = e.obvSum
	v.OBVZ10 = e.obvZ.update(e.obvSum)

	// Volume statistics skip synthetic gap-fill bars.
	if b.Synthetic {
		v.VolZ50 = math.NaN()
		v.MedianVol20 = e.medV.median()
	} else {
		v.VolZ50 = e.volZ.update(b.Volume)
		v.MedianVol20 = e.medV.update(b.Volume)
	}

	e.bars = append(e.bars, b)
	e.vals = append(e.vals, v)
	e.labelExtrema()
	return i
}

// Rebuild resets the engine and replays the given series from scratch.
// Used by the backtest path before incremental stepping.
func (e *Engine) Rebuild(bars []model.Bar) {
	e.Reset()
	for _, b := range bars {
		e.Update(b)
	}
}

// Reset clears all series and internal state.
func (e *Engine) Reset() {
	e.bars = e.bars[:0]
	e.vals = e.vals[:0]
	e.obvSum = 0
	e.labeledThrough = -1
	e.atr14.reset()
	e.atr5.reset()
	e.rsi14.reset()
	e.bb.reset()
	e.emaF.reset()
	e.emaS.reset()
	e.volZ.reset()
	e.obvZ.reset()
	e.medV.reset()
}

// labelExtrema assigns is_local_high / is_local_low for every index whose
// full ±ExtremaHalfWin window has closed.
func (e *Engine) labelExtrema() {
	last := len(e.bars) - 1
	for c := e.labeledThrough + 1; c+ExtremaHalfWin <= last; c++ {
		if c-ExtremaHalfWin < 0 {
			continue
		}
		e.vals[c].IsLocalHigh = e.isExtremum(c, true)
		e.vals[c].IsLocalLow = e.isExtremum(c, false)
		e.labeledThrough = c
	}
}

// isExtremum checks bar c against its ±ExtremaHalfWin neighbourhood.
// Equality is allowed on the left side only, so a flat run yields exactly
// one label (the last bar of the run).
func (e *Engine) isExtremum(c int, high bool) bool {
	pivot := e.bars[c].Low
	if high {
		pivot = e.bars[c].High
	}
	for j := c - ExtremaHalfWin; j <= c+ExtremaHalfWin; j++ {
		if j == c {
			continue
		}
		v := e.bars[j].Low
		if high {
			v = e.bars[j].High
		}
		if high {
			if j < c && v > pivot {
				return false
			}
			if j > c && v >= pivot {
				return false
			}
		} else {
			if j < c && v < pivot {
				return false
			}
			if j > c && v <= pivot {
				return false
			}
		}
	}
	return true
}

// Len returns the number of bars fed so far.
func (e *Engine) Len() int { return len(e.bars) }

// Bar returns the bar at index i.
func (e *Engine) Bar(i int) model.Bar { return e.bars[i] }

// At returns the indicator cross-section at index i.
func (e *Engine) At(i int) Values { return e.vals[i] }

// LabeledThrough returns the highest index with extrema labels assigned,
// or -1 when no index is labelled yet.
func (e *Engine) LabeledThrough() int { return e.labeledThrough }

// Last returns the most recent cross-section, if any.
func (e *Engine) Last() (Values, bool) {
	if len(e.vals) == 0 {
		return Values{}, false
	}
	return e.vals[len(e.vals)-1], true
}
