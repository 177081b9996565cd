// Package veto implements the stateless pre-flight checks that can block a
// confirmed signal. Evaluate is a pure predicate over an indicator snapshot,
// a micro snapshot and the trade side; the seven reason names are part of
// the stable contract.
package veto

import (
	"math"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

// Thresholds are the configurable veto scalars.
type Thresholds struct {
	DepthImbalanceMin float64 `yaml:"depth_imbalance_min" json:"depth_imbalance_min"`
	MarkGapRatio      float64 `yaml:"mark_gap_ratio" json:"mark_gap_ratio"`
	OBVSigma          float64 `yaml:"obv_sigma" json:"obv_sigma"`
	SpreadBpsMax      float64 `yaml:"spread_bps_max" json:"spread_bps_max"`
	RSIHigh           float64 `yaml:"rsi_high" json:"rsi_high"`
	RSILow            float64 `yaml:"rsi_low" json:"rsi_low"`
	LiqGapATRMult     float64 `yaml:"liq_gap_atr_mult" json:"liq_gap_atr_mult"`
	LiqGapFeeMult     float64 `yaml:"liq_gap_fee_mult" json:"liq_gap_fee_mult"`
	TakerFeeBps       float64 `yaml:"taker_fee_bps" json:"taker_fee_bps"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DepthImbalanceMin: 0.5,
		MarkGapRatio:      0.0015,
		OBVSigma:          1.5,
		SpreadBpsMax:      10,
		RSIHigh:           80,
		RSILow:            20,
		LiqGapATRMult:     4,
		LiqGapFeeMult:     10,
		TakerFeeBps:       5,
	}
}

// Input is everything a veto evaluation looks at. Entry/StopLoss are zero
// when no signal exists yet; the liq_gap check is skipped in that case.
type Input struct {
	Bar      model.Bar
	Vals     indicator.Values
	Micro    model.MicroSnapshot
	Side     model.Side
	Kill     bool
	Entry    float64
	StopLoss float64
}

// Evaluate runs all seven checks and returns the evidence set.
func Evaluate(in Input, th Thresholds) model.VetoSet {
	var vs model.VetoSet

	// depth: ladder imbalance opposing the trade direction.
	if in.Micro.Available {
		imb := in.Micro.LadderImbalance
		opposes := (in.Side == model.SideLong && imb <= -th.DepthImbalanceMin) ||
			(in.Side == model.SideShort && imb >= th.DepthImbalanceMin)
		vs.Depth = model.VetoCheck{Hit: opposes, Value: imb, Threshold: th.DepthImbalanceMin}
	}

	// imbalance: last trade print detached from the mark.
	if in.Micro.Available && in.Micro.Mid > 0 && in.Micro.LastTradePrice > 0 {
		gap := math.Abs(in.Micro.Mid-in.Micro.LastTradePrice) / in.Micro.Mid
		vs.Imbalance = model.VetoCheck{Hit: gap >= th.MarkGapRatio, Value: gap, Threshold: th.MarkGapRatio}
	}

	// obv: OBV z-score cliff against the trade direction.
	if indicator.Avail(in.Vals.OBVZ10) {
		z := in.Vals.OBVZ10
		cliff := (in.Side == model.SideLong && z <= -th.OBVSigma) ||
			(in.Side == model.SideShort && z >= th.OBVSigma)
		vs.OBV = model.VetoCheck{Hit: cliff, Value: z, Threshold: th.OBVSigma}
	}

	// kill: external kill switch.
	if in.Kill {
		vs.Kill = model.VetoCheck{Hit: true, Value: 1, Threshold: 0}
	}

	// spread.
	if in.Micro.Available {
		vs.Spread = model.VetoCheck{
			Hit:       in.Micro.SpreadBps >= th.SpreadBpsMax,
			Value:     in.Micro.SpreadBps,
			Threshold: th.SpreadBpsMax,
		}
	}

	// rsi_extreme: chasing an exhausted oscillator.
	if indicator.Avail(in.Vals.RSI14) {
		r := in.Vals.RSI14
		hit := (in.Side == model.SideLong && r >= th.RSIHigh) ||
			(in.Side == model.SideShort && r <= th.RSILow)
		thr := th.RSIHigh
		if in.Side == model.SideShort {
			thr = th.RSILow
		}
		vs.RSIExtreme = model.VetoCheck{Hit: hit, Value: r, Threshold: thr}
	}

	// liq_gap: stop distance too small to survive fees or ordinary noise.
	if in.Entry > 0 && indicator.Avail(in.Vals.ATR14) {
		risk := math.Abs(in.Entry - in.StopLoss)
		feeFloor := th.LiqGapFeeMult * th.TakerFeeBps / 10000 * in.Entry
		atrFloor := th.LiqGapATRMult * in.Vals.ATR14
		hit := risk < atrFloor || risk < feeFloor
		floor := atrFloor
		if feeFloor > floor {
			floor = feeFloor
		}
		vs.LiqGap = model.VetoCheck{Hit: hit, Value: risk, Threshold: floor}
	}

	return vs
}
