package indicator

import (
	"math"
	"testing"

	"solswing/internal/model"
)

func flatBar(i int, px float64) model.Bar {
	return model.Bar{
		Epoch: int64(i) * 300, Open: px, High: px, Low: px, Close: px, Volume: 10,
	}
}

func TestEngine_WarmupNaN(t *testing.T) {
	e := NewEngine()
	v := Values{}
	for i := 0; i < 10; i++ {
		e.Update(flatBar(i, 100))
		v = e.vals[i]
	}
	// 10 bars: everything with a longer window is still warming up.
	if Avail(v.ATR14) {
		t.Error("ATR14 should be unavailable before 14 bars")
	}
	if Avail(v.RSI14) {
		t.Error("RSI14 should be unavailable before 15 bars")
	}
	if Avail(v.BBWidth) {
		t.Error("BBWidth should be unavailable before 20 bars")
	}
	if Avail(v.VolZ50) {
		t.Error("VolZ50 should be unavailable before 50 bars")
	}
	// ATR5 and MedianVol20 are available by now.
	if !Avail(v.ATR5) {
		t.Error("ATR5 should be available after 10 bars")
	}
	if !Avail(v.MedianVol20) || v.MedianVol20 != 10 {
		t.Errorf("MedianVol20 = %v, want 10", v.MedianVol20)
	}
}

func TestEngine_ConstantSeries(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 60; i++ {
		e.Update(flatBar(i, 100))
	}
	v, ok := e.Last()
	if !ok {
		t.Fatal("Last should return values")
	}
	if v.ATR14 != 0 || v.ATR5 != 0 {
		t.Errorf("constant series: ATR = %v/%v, want 0", v.ATR14, v.ATR5)
	}
	if v.BBWidth != 0 {
		t.Errorf("constant series: BBWidth = %v, want 0", v.BBWidth)
	}
	// Zero-variance volume window degrades to z = 0, not NaN.
	if v.VolZ50 != 0 {
		t.Errorf("constant volume: VolZ50 = %v, want 0", v.VolZ50)
	}
	if v.EMAFast != 100 || v.EMASlow != 100 {
		t.Errorf("EMA = %v/%v, want 100", v.EMAFast, v.EMASlow)
	}
}

func TestEngine_RSIDirectional(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 30; i++ {
		e.Update(flatBar(i, 100+float64(i))) // strictly rising closes
	}
	v, _ := e.Last()
	if v.RSI14 != 100 {
		t.Errorf("all-gains RSI = %v, want 100", v.RSI14)
	}

	e.Reset()
	for i := 0; i < 30; i++ {
		e.Update(flatBar(i, 200-float64(i)))
	}
	v, _ = e.Last()
	if v.RSI14 != 0 {
		t.Errorf("all-losses RSI = %v, want 0", v.RSI14)
	}
}

func TestEngine_OBV(t *testing.T) {
	e := NewEngine()
	e.Update(flatBar(0, 100))
	e.Update(flatBar(1, 101)) // up: +10
	e.Update(flatBar(2, 100)) // down: -10
	e.Update(flatBar(3, 100)) // flat: unchanged
	e.Update(flatBar(4, 102)) // up: +10

	if got := e.At(4).OBV; got != 10 {
		t.Errorf("OBV = %v, want 10", got)
	}
}

func TestEngine_ExtremaLabeling(t *testing.T) {
	e := NewEngine()
	// Flat except one dip at index 12: the sole local low once index 24 closes.
	for i := 0; i < 25; i++ {
		b := flatBar(i, 100)
		if i == 12 {
			b.Low = 95
		}
		e.Update(b)
		if i < 24 && e.LabeledThrough() >= 12 {
			t.Fatalf("index 12 labeled before its future window closed (bar %d)", i)
		}
	}

	if e.LabeledThrough() != 12 {
		t.Fatalf("LabeledThrough = %d, want 12", e.LabeledThrough())
	}
	v := e.At(12)
	if !v.IsLocalLow {
		t.Error("index 12 should be a local low")
	}
	if v.IsLocalHigh {
		t.Error("index 12 should not be a local high")
	}
	// Flat neighbours are excluded by the right-side strictness rule.
	if e.At(11).IsLocalLow || e.At(11).IsLocalHigh {
		t.Error("flat bar 11 should carry no label")
	}
}

func TestEngine_SyntheticBarsSkipVolumeStats(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 55; i++ {
		b := flatBar(i, 100)
		b.Volume = 10 + float64(i%3) // keep the window variance non-zero
		e.Update(b)
	}
	syn := flatBar(55, 100)
	syn.Volume = 0
	syn.Synthetic = true
	e.Update(syn)

	v := e.At(55)
	if Avail(v.VolZ50) {
		t.Error("synthetic bar should carry NaN VolZ50")
	}
	// Median carries forward without ingesting the zero volume.
	if !Avail(v.MedianVol20) || v.MedianVol20 < 10 {
		t.Errorf("MedianVol20 = %v, want carried-forward median", v.MedianVol20)
	}
}

func TestEngine_RebuildMatchesIncremental(t *testing.T) {
	bars := make([]model.Bar, 60)
	for i := range bars {
		px := 100 + 5*math.Sin(float64(i)/7)
		bars[i] = model.Bar{
			Epoch: int64(i) * 300,
			Open:  px, High: px + 1, Low: px - 1, Close: px + 0.5,
			Volume: 10 + float64(i%5),
		}
	}

	inc := NewEngine()
	for _, b := range bars {
		inc.Update(b)
	}
	re := NewEngine()
	re.Rebuild(bars)

	if inc.Len() != re.Len() {
		t.Fatalf("lengths differ: %d vs %d", inc.Len(), re.Len())
	}
	a, b := inc.At(59), re.At(59)
	if a.ATR14 != b.ATR14 || a.RSI14 != b.RSI14 || a.EMASlow != b.EMASlow || a.VolZ50 != b.VolZ50 {
		t.Errorf("rebuild diverged: %+v vs %+v", a, b)
	}
}
