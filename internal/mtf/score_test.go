package mtf

import (
	"math"
	"testing"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

func TestWeights_Validate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*Weights)
	}{
		{"context group off 100", func(w *Weights) { w.EMAAlignment = 40 }},
		{"micro group off 100", func(w *Weights) { w.TapeMicro = 10 }},
		{"shares off 1", func(w *Weights) { w.ContextShare = 0.7 }},
		{"tiers inverted", func(w *Weights) { w.TierA, w.TierB = w.TierB, w.TierA }},
	}
	for _, tc := range cases {
		w := DefaultWeights()
		tc.mut(&w)
		err := w.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
		} else if !model.IsKind(err, model.EConfig) {
			t.Errorf("%s: kind = %s, want E_Config", tc.name, model.KindOf(err))
		}
	}
}

func upBar() model.Bar   { return model.Bar{Open: 100, Close: 100.5, High: 100.6, Low: 99.9, Volume: 1} }
func downBar() model.Bar { return model.Bar{Open: 100, Close: 99.5, High: 100.1, Low: 99.4, Volume: 1} }

// alignedLong builds inputs where every horizon agrees with a long.
func alignedLong() ScoreInputs {
	return ScoreInputs{
		Side:             model.SideLong,
		TriggerExcessATR: 0.5,
		Bars1m:           []model.Bar{upBar(), upBar(), upBar(), upBar(), downBar()},
		EMA1h:            EMAPair{Fast: 101, Slow: 100},
		EMA4h:            EMAPair{Fast: 102, Slow: 100},
		EMA1d:            EMAPair{Fast: 103, Slow: 100},
		RSI15m:           60,
		RSI1h:            58,
		Micro:            model.MicroSnapshot{Available: true, CVDSlope: 5},
	}
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

func TestScorer_AlignedLong(t *testing.T) {
	s := NewScorer(DefaultWeights())
	conf := s.Score(alignedLong())

	if !approx(conf.Context.Total, 100) {
		t.Errorf("context total = %v, want 100", conf.Context.Total)
	}
	sc := conf.Micro.Scores
	if !approx(sc.Trigger5m, 50) {
		t.Errorf("trigger_5m = %v, want 50 for 0.5 ATR excess", sc.Trigger5m)
	}
	if !approx(sc.Impulse1m, 80) {
		t.Errorf("impulse_1m = %v, want 80 (4 of 5 bars)", sc.Impulse1m)
	}
	// 50 + 50*(5/10) with the default slope reference.
	if !approx(sc.TapeMicro, 75) {
		t.Errorf("tape_micro = %v, want 75", sc.TapeMicro)
	}
	if !approx(sc.VetoHygiene, 100) {
		t.Errorf("veto_hygiene = %v, want 100", sc.VetoHygiene)
	}
	// (30*50 + 25*80 + 25*75 + 20*100) / 100.
	if !approx(conf.Micro.Total, 73.75) {
		t.Errorf("micro total = %v, want 73.75", conf.Micro.Total)
	}
	if want := 0.6*100 + 0.4*73.75; !approx(conf.Final.FinalScore, want) {
		t.Errorf("final = %v, want %v", conf.Final.FinalScore, want)
	}
	if conf.Final.Tier != model.TierA {
		t.Errorf("tier = %s, want A", conf.Final.Tier)
	}
}

func TestScorer_TierBoundaries(t *testing.T) {
	s := NewScorer(DefaultWeights())

	// Context fully aligned, micro zeroed out by four fired vetoes: final is
	// exactly the Tier B threshold.
	in := alignedLong()
	in.TriggerExcessATR = 0
	in.Bars1m = nil
	in.Micro = model.MicroSnapshot{}
	in.Veto.Kill = model.VetoCheck{Hit: true}
	in.Veto.Spread = model.VetoCheck{Hit: true}
	in.Veto.Depth = model.VetoCheck{Hit: true}
	in.Veto.OBV = model.VetoCheck{Hit: true}

	conf := s.Score(in)
	if !approx(conf.Micro.Total, 0) {
		t.Fatalf("micro total = %v, want 0", conf.Micro.Total)
	}
	if !approx(conf.Final.FinalScore, 60) {
		t.Fatalf("final = %v, want exactly 60", conf.Final.FinalScore)
	}
	if conf.Final.Tier != model.TierB {
		t.Errorf("tier at the boundary = %s, want B", conf.Final.Tier)
	}
}

func TestScorer_NothingAgreesSkips(t *testing.T) {
	s := NewScorer(DefaultWeights())
	in := ScoreInputs{Side: model.SideLong}
	conf := s.Score(in)

	if !approx(conf.Context.Total, 0) {
		t.Errorf("context total = %v, want 0", conf.Context.Total)
	}
	// Only veto_hygiene contributes: 20*100/100.
	if !approx(conf.Micro.Total, 20) {
		t.Errorf("micro total = %v, want 20", conf.Micro.Total)
	}
	if conf.Final.Tier != model.TierSkip {
		t.Errorf("tier = %s, want SKIP", conf.Final.Tier)
	}
}

func TestScorer_VetoHygiene(t *testing.T) {
	s := NewScorer(DefaultWeights())
	in := ScoreInputs{Side: model.SideLong}
	in.Veto.Spread = model.VetoCheck{Hit: true}
	in.Veto.RSIExtreme = model.VetoCheck{Hit: true}

	if got := s.Score(in).Micro.Scores.VetoHygiene; !approx(got, 50) {
		t.Errorf("veto_hygiene with 2 hits = %v, want 50", got)
	}
}

func TestScorer_TapeMicro(t *testing.T) {
	s := NewScorer(DefaultWeights())

	in := ScoreInputs{Side: model.SideLong, Micro: model.MicroSnapshot{Available: true, CVDSlope: -3}}
	if got := s.Score(in).Micro.Scores.TapeMicro; got != 0 {
		t.Errorf("opposed tape = %v, want 0", got)
	}

	// Magnitude saturates at the slope reference.
	in.Micro.CVDSlope = 25
	if got := s.Score(in).Micro.Scores.TapeMicro; !approx(got, 100) {
		t.Errorf("saturated tape = %v, want 100", got)
	}

	in.Micro.Available = false
	if got := s.Score(in).Micro.Scores.TapeMicro; got != 0 {
		t.Errorf("tape without a snapshot = %v, want 0", got)
	}
}

func TestScorer_UnavailableInputsNeverAgree(t *testing.T) {
	s := NewScorer(DefaultWeights())
	in := alignedLong()
	in.EMA1h = EMAPair{Fast: indicator.Unavailable(), Slow: indicator.Unavailable()}
	in.RSI15m = indicator.Unavailable()

	conf := s.Score(in)
	if !approx(conf.Context.Scores.EMAAlignment, 50) {
		t.Errorf("ema_alignment = %v, want 50 with one horizon dark", conf.Context.Scores.EMAAlignment)
	}
	if !approx(conf.Context.Scores.OscillatorAgreement, 50) {
		t.Errorf("oscillator_agreement = %v, want 50", conf.Context.Scores.OscillatorAgreement)
	}
}

func TestTriggerQuality(t *testing.T) {
	long := model.Signal{
		Candidate: model.Candidate{ExtremumPrice: 95},
		Side:      model.SideLong,
		Entry:     100,
	}
	// Level = 95 + 0.5*1 = 95.5, excess 4.5 ATRs.
	if got := TriggerQuality(long, 1, 0.5); !approx(got, 4.5) {
		t.Errorf("long quality = %v, want 4.5", got)
	}

	short := model.Signal{
		Candidate: model.Candidate{ExtremumPrice: 105},
		Side:      model.SideShort,
		Entry:     100,
	}
	if got := TriggerQuality(short, 1, 0.5); !approx(got, 4.5) {
		t.Errorf("short quality = %v, want 4.5", got)
	}

	// A close below the breakout level clamps to zero.
	long.Entry = 95.2
	if got := TriggerQuality(long, 1, 0.5); got != 0 {
		t.Errorf("sub-level quality = %v, want 0", got)
	}
	if got := TriggerQuality(long, indicator.Unavailable(), 0.5); got != 0 {
		t.Errorf("quality without ATR = %v, want 0", got)
	}
}

func TestNewScorer_InvalidWeightsFallBack(t *testing.T) {
	bad := NewScorer(Weights{}) // fails validation, takes defaults
	good := NewScorer(DefaultWeights())
	in := alignedLong()
	if bad.Score(in).Final.FinalScore != good.Score(in).Final.FinalScore {
		t.Error("invalid weights should fall back to the defaults")
	}
}
