package veto

import (
	"testing"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

func cleanInput() Input {
	return Input{
		Bar: model.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		Vals: indicator.Values{
			ATR14:  0.3,
			RSI14:  55,
			OBVZ10: 0.2,
		},
		Micro: model.MicroSnapshot{
			Available:       true,
			Mid:             100,
			SpreadBps:       2,
			LadderImbalance: 0.1,
			LastTradePrice:  100.01,
		},
		Side:     model.SideLong,
		Entry:    100,
		StopLoss: 97, // risk 3 clears the 4*ATR14=1.2 and fee floors
	}
}

func TestEvaluate_CleanPass(t *testing.T) {
	vs := Evaluate(cleanInput(), DefaultThresholds())
	if !vs.Empty() {
		t.Errorf("clean input should pass, fired: %v", vs.Reasons())
	}
}

func TestEvaluate_DepthOpposesLong(t *testing.T) {
	in := cleanInput()
	in.Micro.LadderImbalance = -0.7 // sell-side wall against a long
	vs := Evaluate(in, DefaultThresholds())
	if !vs.Depth.Hit {
		t.Fatal("depth veto should fire")
	}
	if vs.Depth.Value != -0.7 || vs.Depth.Threshold != 0.5 {
		t.Errorf("depth evidence = %+v", vs.Depth)
	}
	if got := vs.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}

	// The same imbalance helps a short.
	in.Side = model.SideShort
	in.Vals.RSI14 = 55 // keep rsi mid-range for the short too
	vs = Evaluate(in, DefaultThresholds())
	if vs.Depth.Hit {
		t.Error("favorable imbalance must not veto a short")
	}
}

func TestEvaluate_MarkGap(t *testing.T) {
	in := cleanInput()
	in.Micro.LastTradePrice = 100.5 // 0.5% off the mark, above the 0.15% gate
	vs := Evaluate(in, DefaultThresholds())
	if !vs.Imbalance.Hit {
		t.Error("imbalance veto should fire on a detached print")
	}
}

func TestEvaluate_OBVCliff(t *testing.T) {
	in := cleanInput()
	in.Vals.OBVZ10 = -2.0
	vs := Evaluate(in, DefaultThresholds())
	if !vs.OBV.Hit {
		t.Error("obv veto should fire on a -2 sigma cliff against a long")
	}

	in.Side = model.SideShort
	vs = Evaluate(in, DefaultThresholds())
	if vs.OBV.Hit {
		t.Error("down cliff supports a short")
	}
}

func TestEvaluate_KillSwitch(t *testing.T) {
	in := cleanInput()
	in.Kill = true
	vs := Evaluate(in, DefaultThresholds())
	if !vs.Kill.Hit {
		t.Error("kill veto should fire")
	}
}

func TestEvaluate_Spread(t *testing.T) {
	in := cleanInput()
	in.Micro.SpreadBps = 12
	vs := Evaluate(in, DefaultThresholds())
	if !vs.Spread.Hit {
		t.Error("spread veto should fire at 12bps against a 10bps ceiling")
	}
}

func TestEvaluate_RSIExtreme(t *testing.T) {
	in := cleanInput()
	in.Vals.RSI14 = 85
	vs := Evaluate(in, DefaultThresholds())
	if !vs.RSIExtreme.Hit {
		t.Error("long into RSI 85 should fire")
	}
	if vs.RSIExtreme.Threshold != 80 {
		t.Errorf("long threshold = %v, want RSIHigh", vs.RSIExtreme.Threshold)
	}

	in.Side = model.SideShort
	in.Vals.RSI14 = 15
	vs = Evaluate(in, DefaultThresholds())
	if !vs.RSIExtreme.Hit {
		t.Error("short into RSI 15 should fire")
	}
	if vs.RSIExtreme.Threshold != 20 {
		t.Errorf("short threshold = %v, want RSILow", vs.RSIExtreme.Threshold)
	}
}

func TestEvaluate_LiqGap(t *testing.T) {
	in := cleanInput()
	in.StopLoss = 99.8 // risk 0.2 < 4*ATR14 = 1.2
	vs := Evaluate(in, DefaultThresholds())
	if !vs.LiqGap.Hit {
		t.Error("tight stop should fire liq_gap")
	}

	// No signal yet: the check is skipped entirely.
	in = cleanInput()
	in.Entry = 0
	in.StopLoss = 0
	vs = Evaluate(in, DefaultThresholds())
	if vs.LiqGap.Hit {
		t.Error("liq_gap must be skipped without a signal")
	}
}

func TestEvaluate_MicroUnavailableSkipsMicroChecks(t *testing.T) {
	in := cleanInput()
	in.Micro = model.MicroSnapshot{Available: false, LadderImbalance: -0.9, SpreadBps: 50}
	vs := Evaluate(in, DefaultThresholds())
	if vs.Depth.Hit || vs.Spread.Hit || vs.Imbalance.Hit {
		t.Error("micro-sourced checks must not fire without a live snapshot")
	}
}

func TestEvaluate_WarmupIndicatorsSkipChecks(t *testing.T) {
	in := cleanInput()
	in.Vals.OBVZ10 = indicator.Unavailable()
	in.Vals.RSI14 = indicator.Unavailable()
	in.Vals.ATR14 = indicator.Unavailable()
	vs := Evaluate(in, DefaultThresholds())
	if vs.OBV.Hit || vs.RSIExtreme.Hit || vs.LiqGap.Hit {
		t.Error("indicator checks must not fire during warm-up")
	}
}
