// Package indicator computes technical indicators over a bar series.
//
// The Engine maintains one value per indicator per bar index, updated
// incrementally in O(1) amortized per new closed bar. Warm-up indices hold
// NaN ("unavailable"), which is distinct from zero; use Avail to test.
package indicator

import "math"

// Unavailable is the sentinel for warm-up / not-computable values.
func Unavailable() float64 { return math.NaN() }

// Avail reports whether an indicator value has left its warm-up phase.
func Avail(v float64) bool { return !math.IsNaN(v) }

// Default periods. These mirror the detection pipeline contract and are not
// configurable: tuning happens on the gates, not the indicator windows.
const (
	ATRPeriod      = 14
	ATRFastPeriod  = 5
	RSIPeriod      = 14
	BollPeriod     = 20
	BollStdev      = 2.0
	EMAFastPeriod  = 9
	EMASlowPeriod  = 38
	VolZPeriod     = 50
	OBVZPeriod     = 10
	MedianVolSpan  = 20
	ExtremaHalfWin = 12
)

// Values is the indicator cross-section at one bar index.
type Values struct {
	ATR14       float64 `json:"atr14"`
	ATR5        float64 `json:"atr5"`
	RSI14       float64 `json:"rsi14"`
	BBUpper     float64 `json:"bb_upper"`
	BBLower     float64 `json:"bb_lower"`
	BBWidth     float64 `json:"bb_width"`
	EMAFast     float64 `json:"ema_fast"`
	EMASlow     float64 `json:"ema_slow"`
	VolZ50      float64 `json:"vol_z50"`
	OBV         float64 `json:"obv"`
	OBVZ10      float64 `json:"obv_z10"`
	MedianVol20 float64 `json:"median_vol20"`
	IsLocalHigh bool    `json:"is_local_high"`
	IsLocalLow  bool    `json:"is_local_low"`
}
