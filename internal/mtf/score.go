// Package mtf hosts the multi-timeframe subsystem: the confluence scorer
// that grades a confirmed setup across horizons, the per-timeframe context
// tracker feeding it, and the per-instrument state machine that gates
// execution on confluence and the veto set.
package mtf

import (
	"math"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

// Weights configures the confluence sub-score weights and tier thresholds.
// Each group's weights must sum to 100.
type Weights struct {
	EMAAlignment        float64 `yaml:"ema_alignment" json:"ema_alignment"`
	OscillatorAgreement float64 `yaml:"oscillator_agreement" json:"oscillator_agreement"`
	MacroGate           float64 `yaml:"macro_gate" json:"macro_gate"`

	Trigger5m   float64 `yaml:"trigger_5m" json:"trigger_5m"`
	Impulse1m   float64 `yaml:"impulse_1m" json:"impulse_1m"`
	TapeMicro   float64 `yaml:"tape_micro" json:"tape_micro"`
	VetoHygiene float64 `yaml:"veto_hygiene" json:"veto_hygiene"`

	ContextShare float64 `yaml:"context_share" json:"context_share"`
	MicroShare   float64 `yaml:"micro_share" json:"micro_share"`

	TierA float64 `yaml:"tier_a" json:"tier_a"`
	TierB float64 `yaml:"tier_b" json:"tier_b"`

	// CVDSlopeRef normalizes the tape_micro score; |slope| at or beyond
	// this value maxes the aligned score.
	CVDSlopeRef float64 `yaml:"cvd_slope_ref" json:"cvd_slope_ref"`
}

// DefaultWeights returns the documented weighting.
func DefaultWeights() Weights {
	return Weights{
		EMAAlignment:        35,
		OscillatorAgreement: 25,
		MacroGate:           40,
		Trigger5m:           30,
		Impulse1m:           25,
		TapeMicro:           25,
		VetoHygiene:         20,
		ContextShare:        0.6,
		MicroShare:          0.4,
		TierA:               80,
		TierB:               60,
		CVDSlopeRef:         10,
	}
}

// Validate checks that both groups sum to 100 and the shares to 1.
func (w Weights) Validate() error {
	ctx := w.EMAAlignment + w.OscillatorAgreement + w.MacroGate
	mic := w.Trigger5m + w.Impulse1m + w.TapeMicro + w.VetoHygiene
	if math.Abs(ctx-100) > 1e-9 {
		return model.Errf(model.EConfig, "context weights sum to %.2f, want 100", ctx)
	}
	if math.Abs(mic-100) > 1e-9 {
		return model.Errf(model.EConfig, "micro weights sum to %.2f, want 100", mic)
	}
	if math.Abs(w.ContextShare+w.MicroShare-1) > 1e-9 {
		return model.Errf(model.EConfig, "context/micro shares must sum to 1")
	}
	if !(w.TierA > w.TierB && w.TierB > 0) {
		return model.Errf(model.EConfig, "tier thresholds must satisfy A > B > 0")
	}
	return nil
}

// EMAPair is a fast/slow EMA reading on one timeframe.
type EMAPair struct {
	Fast, Slow float64
}

// agrees reports whether the pair's trend matches the side.
// Unavailable values never agree.
func (p EMAPair) agrees(side model.Side) bool {
	if !indicator.Avail(p.Fast) || !indicator.Avail(p.Slow) {
		return false
	}
	if side == model.SideLong {
		return p.Fast > p.Slow
	}
	return p.Fast < p.Slow
}

// ScoreInputs is the cross-horizon evidence for one confirmed setup.
type ScoreInputs struct {
	Side model.Side

	// TriggerExcessATR is how far the confirmation close exceeded the
	// breakout level, in ATR5 units.
	TriggerExcessATR float64

	// Bars1m holds the most recent 1m bars (up to 5), oldest-first.
	Bars1m []model.Bar

	EMA1h, EMA4h, EMA1d EMAPair
	RSI15m, RSI1h       float64

	Micro model.MicroSnapshot
	Veto  model.VetoSet
}

// TriggerQuality computes TriggerExcessATR from a signal and the ATR5 at
// its confirmation bar.
func TriggerQuality(sig model.Signal, atr5, breakoutMult float64) float64 {
	if !indicator.Avail(atr5) || atr5 <= 0 {
		return 0
	}
	var excess float64
	if sig.Side == model.SideLong {
		level := sig.Candidate.ExtremumPrice + breakoutMult*atr5
		excess = sig.Entry - level
	} else {
		level := sig.Candidate.ExtremumPrice - breakoutMult*atr5
		excess = level - sig.Entry
	}
	if excess < 0 {
		return 0
	}
	return excess / atr5
}

// Scorer grades setups against the weight configuration.
type Scorer struct {
	w Weights
}

// NewScorer creates a scorer; invalid weights fall back to defaults.
func NewScorer(w Weights) *Scorer {
	if err := w.Validate(); err != nil {
		w = DefaultWeights()
	}
	return &Scorer{w: w}
}

// Score computes the full confluence record for one setup.
func (s *Scorer) Score(in ScoreInputs) model.Confluence {
	ctx := s.scoreContext(in)
	mic := s.scoreMicro(in)

	final := s.w.ContextShare*ctx.Total + s.w.MicroShare*mic.Total
	tier := model.TierSkip
	switch {
	case final >= s.w.TierA:
		tier = model.TierA
	case final >= s.w.TierB:
		tier = model.TierB
	}

	return model.Confluence{
		Context: ctx,
		Micro:   mic,
		Final:   model.FinalScore{FinalScore: final, Tier: tier},
	}
}

func (s *Scorer) scoreContext(in ScoreInputs) model.ContextGroup {
	var sc model.ContextScores

	// ema_alignment: linear in the number of agreeing higher TFs.
	agree := 0
	if in.EMA1h.agrees(in.Side) {
		agree++
	}
	if in.EMA4h.agrees(in.Side) {
		agree++
	}
	sc.EMAAlignment = float64(agree) / 2 * 100

	// oscillator_agreement: RSI on 15m and 1h on the favorable side of 50.
	osc := 0
	for _, r := range []float64{in.RSI15m, in.RSI1h} {
		if !indicator.Avail(r) {
			continue
		}
		if (in.Side == model.SideLong && r > 50) || (in.Side == model.SideShort && r < 50) {
			osc++
		}
	}
	sc.OscillatorAgreement = float64(osc) / 2 * 100

	// macro_gate: the daily trend agrees or it does not.
	if in.EMA1d.agrees(in.Side) {
		sc.MacroGate = 100
	}

	total := (s.w.EMAAlignment*sc.EMAAlignment +
		s.w.OscillatorAgreement*sc.OscillatorAgreement +
		s.w.MacroGate*sc.MacroGate) / 100
	return model.ContextGroup{Total: total, Scores: sc}
}

func (s *Scorer) scoreMicro(in ScoreInputs) model.MicroGroup {
	var sc model.MicroScores

	sc.Trigger5m = clamp(in.TriggerExcessATR*100, 0, 100)

	// impulse_1m: fraction of the last 5 one-minute closes moving with us.
	if n := len(in.Bars1m); n > 0 {
		with := 0
		for _, b := range in.Bars1m {
			if (in.Side == model.SideLong && b.Close >= b.Open) ||
				(in.Side == model.SideShort && b.Close <= b.Open) {
				with++
			}
		}
		sc.Impulse1m = float64(with) / float64(n) * 100
	}

	// tape_micro: CVD slope direction agreement, scaled by magnitude.
	if in.Micro.Available {
		slope := in.Micro.CVDSlope
		aligned := (in.Side == model.SideLong && slope > 0) ||
			(in.Side == model.SideShort && slope < 0)
		if aligned {
			ref := s.w.CVDSlopeRef
			if ref <= 0 {
				ref = 1
			}
			sc.TapeMicro = 50 + 50*math.Min(math.Abs(slope)/ref, 1)
		}
	}

	// veto_hygiene: every fired veto costs 25 points.
	sc.VetoHygiene = clamp(100-25*float64(in.Veto.Count()), 0, 100)

	total := (s.w.Trigger5m*sc.Trigger5m +
		s.w.Impulse1m*sc.Impulse1m +
		s.w.TapeMicro*sc.TapeMicro +
		s.w.VetoHygiene*sc.VetoHygiene) / 100
	return model.MicroGroup{Total: total, Scores: sc}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
