// Package detector implements the two-stage swing signal pipeline:
// Stage 1 screens labelled local extrema against volatility and volume gates,
// Stage 2 confirms a candidate with an ATR breakout plus a volume spike inside
// a bounded window, and emits an immutable Signal with entry/SL/TP ladder.
package detector

import (
	"context"
	"fmt"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

// Params are the detection thresholds. ATRMin gates on the ATR14/price ratio
// expressed in percent (0.6 means ATR must be at least 0.6% of price).
type Params struct {
	ATRMin          float64 `yaml:"atr_min" json:"atr_min"`
	VolZMin         float64 `yaml:"volz_min" json:"volz_min"`
	BBWMin          float64 `yaml:"bbw_min" json:"bbw_min"`
	ConfirmWindow   int     `yaml:"confirm_window" json:"confirm_window"`
	BreakoutATRMult float64 `yaml:"breakout_atr_mult" json:"breakout_atr_mult"`
	VolMult         float64 `yaml:"vol_mult" json:"vol_mult"`
	TP1R            float64 `yaml:"tp1_r" json:"tp1_r"`
	TP2R            float64 `yaml:"tp2_r" json:"tp2_r"`
	TP3R            float64 `yaml:"tp3_r" json:"tp3_r"`
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		ATRMin:          0.6,
		VolZMin:         0.5,
		BBWMin:          0.005,
		ConfirmWindow:   6,
		BreakoutATRMult: 0.5,
		VolMult:         1.5,
		TP1R:            1.0,
		TP2R:            2.0,
		TP3R:            3.5,
	}
}

// Validate checks parameter sanity.
func (p Params) Validate() error {
	if p.ConfirmWindow <= 0 {
		return model.Errf(model.EConfig, "confirm_window must be positive, got %d", p.ConfirmWindow)
	}
	if p.ATRMin < 0 || p.VolZMin < -10 || p.BBWMin < 0 {
		return model.Errf(model.EConfig, "negative stage-1 gate threshold")
	}
	if p.BreakoutATRMult <= 0 || p.VolMult <= 0 {
		return model.Errf(model.EConfig, "stage-2 multipliers must be positive")
	}
	if !(p.TP1R > 0 && p.TP1R <= p.TP2R && p.TP2R <= p.TP3R) {
		return model.Errf(model.EConfig, "tp ladder must satisfy 0 < tp1_r <= tp2_r <= tp3_r")
	}
	return nil
}

// TrailRule is the trailing-stop rule attached to every emitted signal.
const TrailRule = "after tp1: stop = max(prev_stop, close - 1.0*atr5) [mirrored for short]"

// Result collects what one bar close produced.
type Result struct {
	Candidates []model.Candidate
	Expired    []model.Candidate
	Signals    []model.Signal
}

// openCandidate tracks a Stage-1 candidate awaiting confirmation.
type openCandidate struct {
	cand  model.Candidate
	nextJ int // next bar index to scan
}

// Detector owns the indicator engine for one bar series and advances the
// two-stage pipeline on every closed bar. Single-goroutine; drive it through
// OnBar or Run.
type Detector struct {
	params Params
	tf     model.Timeframe
	eng    *indicator.Engine

	open     []openCandidate
	attempts int // candidates consumed since the last emitted signal

	// Optional metrics hooks, set before Run.
	OnCandidateHook func(model.Candidate)
	OnSignalHook    func(model.Signal)
	OnExpiredHook   func(model.Candidate)
}

// New creates a detector for the given timeframe.
func New(tf model.Timeframe, params Params) *Detector {
	return &Detector{
		params: params,
		tf:     tf,
		eng:    indicator.NewEngine(),
	}
}

// Engine exposes the detector's indicator engine for read-only use
// (confluence scoring, card composition).
func (d *Detector) Engine() *indicator.Engine { return d.eng }

// Params returns the active thresholds.
func (d *Detector) Params() Params { return d.params }

// MinHistory is the number of closed bars required before detection can run.
func (d *Detector) MinHistory() int {
	w := d.params.ConfirmWindow
	if w < 50 {
		w = 50
	}
	return w + indicator.ExtremaHalfWin
}

// Ready reports whether enough bars have been fed for detection.
func (d *Detector) Ready() bool { return d.eng.Len() >= d.MinHistory() }

// OnBar feeds one closed bar and advances both stages.
func (d *Detector) OnBar(b model.Bar) Result {
	prevLabeled := d.eng.LabeledThrough()
	d.eng.Update(b)

	var res Result
	if !d.Ready() {
		return res
	}

	// Stage 1: screen every newly labelled extremum.
	for i := prevLabeled + 1; i <= d.eng.LabeledThrough(); i++ {
		if c, ok := d.screen(i); ok {
			d.attempts++
			d.open = append(d.open, openCandidate{cand: c, nextJ: i + 1})
			res.Candidates = append(res.Candidates, c)
			if d.OnCandidateHook != nil {
				d.OnCandidateHook(c)
			}
		}
	}

	// Stage 2: advance open candidates in extremum order (slice order).
	kept := d.open[:0]
	for _, oc := range d.open {
		sig, expired, done := d.confirm(&oc)
		switch {
		case sig != nil:
			res.Signals = append(res.Signals, *sig)
			d.attempts = 0
			if d.OnSignalHook != nil {
				d.OnSignalHook(*sig)
			}
		case expired:
			res.Expired = append(res.Expired, oc.cand)
			if d.OnExpiredHook != nil {
				d.OnExpiredHook(oc.cand)
			}
		case !done:
			kept = append(kept, oc)
		}
	}
	d.open = kept
	return res
}

// screen applies the Stage-1 gates at extremum index i.
func (d *Detector) screen(i int) (model.Candidate, bool) {
	v := d.eng.At(i)
	bar := d.eng.Bar(i)

	var side model.Side
	var price float64
	switch {
	case v.IsLocalLow:
		side, price = model.SideLong, bar.Low
	case v.IsLocalHigh:
		side, price = model.SideShort, bar.High
	default:
		return model.Candidate{}, false
	}

	if !indicator.Avail(v.ATR14) || !indicator.Avail(v.VolZ50) || !indicator.Avail(v.BBWidth) {
		return model.Candidate{}, false
	}
	if bar.Close <= 0 || v.ATR14/bar.Close*100 < d.params.ATRMin {
		return model.Candidate{}, false
	}
	if v.VolZ50 < d.params.VolZMin {
		return model.Candidate{}, false
	}
	if v.BBWidth < d.params.BBWMin {
		return model.Candidate{}, false
	}

	return model.Candidate{
		ExtremumIndex:       i,
		Side:                side,
		ExtremumPrice:       price,
		DetectionEpoch:      bar.Epoch,
		WindowDeadlineEpoch: bar.Epoch + int64(d.params.ConfirmWindow)*d.tf.Seconds(),
	}, true
}

// confirm scans the candidate's remaining window against closed bars.
// Returns (signal, expired, done); done means the candidate is retired.
func (d *Detector) confirm(oc *openCandidate) (*model.Signal, bool, bool) {
	i := oc.cand.ExtremumIndex
	lastJ := i + d.params.ConfirmWindow
	end := d.eng.Len() - 1
	if lastJ > end {
		// Part of the window is still in the future.
		lastJ = end
	}

	for j := oc.nextJ; j <= lastJ; j++ {
		if d.confirmsAt(oc.cand, j) {
			sig := d.buildSignal(oc.cand, j)
			return &sig, false, true
		}
	}
	oc.nextJ = lastJ + 1

	if end >= i+d.params.ConfirmWindow {
		// Whole window scanned without confirmation.
		return nil, true, true
	}
	if last := d.eng.Bar(end); last.Epoch > oc.cand.WindowDeadlineEpoch {
		// Wall-clock deadline passed (gap across the window).
		return nil, true, true
	}
	return nil, false, false
}

// confirmsAt checks the Stage-2 breakout and volume conditions at bar j.
func (d *Detector) confirmsAt(c model.Candidate, j int) bool {
	v := d.eng.At(j)
	bar := d.eng.Bar(j)
	if bar.Synthetic || !indicator.Avail(v.ATR5) || !indicator.Avail(v.MedianVol20) {
		return false
	}
	if bar.Volume < d.params.VolMult*v.MedianVol20 {
		return false
	}
	switch c.Side {
	case model.SideLong:
		return bar.Close >= c.ExtremumPrice+d.params.BreakoutATRMult*v.ATR5
	case model.SideShort:
		return bar.Close <= c.ExtremumPrice-d.params.BreakoutATRMult*v.ATR5
	}
	return false
}

// buildSignal computes the entry/SL/TP ladder at confirmation bar j.
func (d *Detector) buildSignal(c model.Candidate, j int) model.Signal {
	v := d.eng.At(j)
	bar := d.eng.Bar(j)
	entry := bar.Close

	var sl float64
	if c.Side == model.SideLong {
		sl = c.ExtremumPrice - v.ATR5
	} else {
		sl = c.ExtremumPrice + v.ATR5
	}

	risk := entry - sl
	if risk < 0 {
		risk = -risk
	}
	dir := 1.0
	if c.Side == model.SideShort {
		dir = -1.0
	}

	return model.Signal{
		Candidate:    c,
		ConfirmIndex: j,
		ConfirmEpoch: bar.Epoch,
		Side:         c.Side,
		Entry:        entry,
		StopLoss:     sl,
		TP1:          entry + dir*d.params.TP1R*risk,
		TP2:          entry + dir*d.params.TP2R*risk,
		TP3:          entry + dir*d.params.TP3R*risk,
		SizeTag:      "full",
		Attempts:     d.attempts,
		TrailRule:    TrailRule,
	}
}

// ConfirmPredicate renders the Stage-2 predicate that fires for this
// parameter set, e.g. "close>=low+0.5*ATR5 & vol>=1.5*med20".
func (d *Detector) ConfirmPredicate(side model.Side) string {
	cmp, ref := ">=", "low"
	sign := "+"
	if side == model.SideShort {
		cmp, ref, sign = "<=", "high", "-"
	}
	return fmt.Sprintf("close%s%s%s%.1f*ATR5 & vol>=%.1f*med20",
		cmp, ref, sign, d.params.BreakoutATRMult, d.params.VolMult)
}

// Run consumes closed bars and emits per-bar results. Blocks until ctx is
// cancelled or barCh is closed. Results are dropped if resultCh is full,
// matching the pipeline's never-block policy.
func (d *Detector) Run(ctx context.Context, barCh <-chan model.Bar, resultCh chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-barCh:
			if !ok {
				return
			}
			res := d.OnBar(b)
			if len(res.Candidates) == 0 && len(res.Signals) == 0 && len(res.Expired) == 0 {
				continue
			}
			select {
			case resultCh <- res:
			default:
			}
		}
	}
}

// DetectSeries replays a full bar series through a fresh detector and returns
// every emitted signal in order. Errors with E_InsufficientHistory when the
// series is shorter than the detection warm-up.
func DetectSeries(tf model.Timeframe, params Params, bars []model.Bar) ([]model.Signal, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	d := New(tf, params)
	if len(bars) < d.MinHistory() {
		return nil, model.Errf(model.EInsufficientHistory,
			"need at least %d closed bars, have %d", d.MinHistory(), len(bars))
	}
	var signals []model.Signal
	for _, b := range bars {
		res := d.OnBar(b)
		signals = append(signals, res.Signals...)
	}
	return signals, nil
}
