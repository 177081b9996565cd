package mtf

import (
	"sync"

	"solswing/internal/indicator"
	"solswing/internal/model"
)

// impulseBars is how many recent 1m bars feed the impulse score.
const impulseBars = 5

// TFContext tracks indicator state on the non-trigger timeframes (1m, 15m,
// 1h, 4h, 1d) and assembles the cross-horizon half of ScoreInputs. Bars
// arrive from the aggregator's fan-out; reads come from the state machine's
// evaluation path, so access is guarded.
type TFContext struct {
	mu      sync.Mutex
	engines map[model.Timeframe]*indicator.Engine
	last1m  []model.Bar
}

// ContextTimeframes are the horizons the tracker follows.
var ContextTimeframes = []model.Timeframe{
	model.TF1m, model.TF15m, model.TF1h, model.TF4h, model.TF1d,
}

// NewTFContext creates a tracker with one indicator engine per context
// timeframe.
func NewTFContext() *TFContext {
	engines := make(map[model.Timeframe]*indicator.Engine, len(ContextTimeframes))
	for _, tf := range ContextTimeframes {
		engines[tf] = indicator.NewEngine()
	}
	return &TFContext{engines: engines}
}

// OnBar folds one closed bar into the matching engine. Bars on timeframes
// the tracker does not follow are ignored.
func (c *TFContext) OnBar(tfb model.TFBar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[tfb.TF]
	if !ok {
		return
	}
	eng.Update(tfb.Bar)
	if tfb.TF == model.TF1m {
		c.last1m = append(c.last1m, tfb.Bar)
		if len(c.last1m) > impulseBars {
			c.last1m = c.last1m[len(c.last1m)-impulseBars:]
		}
	}
}

// Seed replays a bar history into one timeframe's engine (warm start).
func (c *TFContext) Seed(tf model.Timeframe, bars []model.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[tf]
	if !ok {
		return
	}
	eng.Rebuild(bars)
	if tf == model.TF1m {
		n := len(bars)
		if n > impulseBars {
			bars = bars[n-impulseBars:]
		}
		c.last1m = append(c.last1m[:0], bars...)
	}
}

// Fill populates the cross-horizon fields of in from the current engine
// state. Side, TriggerExcessATR, Micro and Veto stay untouched.
func (c *TFContext) Fill(in *ScoreInputs) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in.Bars1m = append([]model.Bar(nil), c.last1m...)
	in.EMA1h = c.emaPair(model.TF1h)
	in.EMA4h = c.emaPair(model.TF4h)
	in.EMA1d = c.emaPair(model.TF1d)
	in.RSI15m = c.rsi(model.TF15m)
	in.RSI1h = c.rsi(model.TF1h)
}

func (c *TFContext) emaPair(tf model.Timeframe) EMAPair {
	if v, ok := c.engines[tf].Last(); ok {
		return EMAPair{Fast: v.EMAFast, Slow: v.EMASlow}
	}
	return EMAPair{Fast: indicator.Unavailable(), Slow: indicator.Unavailable()}
}

func (c *TFContext) rsi(tf model.Timeframe) float64 {
	if v, ok := c.engines[tf].Last(); ok {
		return v.RSI14
	}
	return indicator.Unavailable()
}
