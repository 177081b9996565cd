// Package backtest replays a closed bar series through the detector and
// simulates TP-ladder fills with a trailing stop. Strictly causal: the
// detector sees bars one at a time, exactly as the live pipeline would.
package backtest

import (
	"context"
	"math"

	"github.com/google/uuid"

	"solswing/internal/detector"
	"solswing/internal/model"
)

// Config drives sizing and the exit ladder.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	RiskPerTrade   float64 `yaml:"risk_per_trade" json:"risk_per_trade"`
	TP1R           float64 `yaml:"tp1_r" json:"tp1_r"`
	TP2R           float64 `yaml:"tp2_r" json:"tp2_r"`
	TP3R           float64 `yaml:"tp3_r" json:"tp3_r"`
	TP1Scale       float64 `yaml:"tp1_scale" json:"tp1_scale"`
	TP2Scale       float64 `yaml:"tp2_scale" json:"tp2_scale"`
	TP3Scale       float64 `yaml:"tp3_scale" json:"tp3_scale"`
	TrailAfterTP   bool    `yaml:"trail_after_tp" json:"trail_after_tp"`
	// BarTimeout force-closes the remainder after this many bars held.
	BarTimeout int `yaml:"bar_timeout" json:"bar_timeout"`
	// FeeBufferBps pads the break-even stop after TP1, in bps of entry.
	FeeBufferBps float64 `yaml:"fee_buffer_bps" json:"fee_buffer_bps"`
}

// DefaultConfig returns the stock ladder.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		RiskPerTrade:   0.02,
		TP1R:           1.0,
		TP2R:           2.0,
		TP3R:           3.5,
		TP1Scale:       0.5,
		TP2Scale:       0.3,
		TP3Scale:       0.2,
		TrailAfterTP:   true,
		BarTimeout:     96,
		FeeBufferBps:   5,
	}
}

// Validate rejects impossible configurations.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return model.Errf(model.EConfig, "initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		return model.Errf(model.EConfig, "risk_per_trade must be in (0,1), got %v", c.RiskPerTrade)
	}
	if !(c.TP1R > 0 && c.TP2R > c.TP1R && c.TP3R > c.TP2R) {
		return model.Errf(model.EConfig, "tp ladder must satisfy 0 < tp1_r < tp2_r < tp3_r")
	}
	if c.TP1Scale < 0 || c.TP2Scale < 0 || c.TP3Scale < 0 {
		return model.Errf(model.EConfig, "tp scales must be non-negative")
	}
	if sum := c.TP1Scale + c.TP2Scale + c.TP3Scale; sum > 1+1e-9 {
		return model.Errf(model.EConfig, "tp1_scale+tp2_scale+tp3_scale must be <= 1, got %v", sum)
	}
	if c.BarTimeout <= 0 {
		return model.Errf(model.EConfig, "bar_timeout must be positive, got %d", c.BarTimeout)
	}
	return nil
}

// Stats are the aggregate run statistics.
type Stats struct {
	TotalTrades     int     `json:"total_trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	AvgR            float64 `json:"avg_r"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	TotalPnLPct     float64 `json:"total_pnl_pct"`
	ProfitFactor    float64 `json:"profit_factor"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	MaxConsecWins   int     `json:"max_consecutive_wins"`
	MaxConsecLosses int     `json:"max_consecutive_losses"`
	FinalBalance    float64 `json:"final_balance"`
}

// Result is one completed (or cancelled) run.
type Result struct {
	RunID   string          `json:"run_id"`
	TF      model.Timeframe `json:"tf"`
	Config  Config          `json:"config"`
	Params  detector.Params `json:"params"`
	Trades  []model.Trade   `json:"trades"`
	Equity  []float64       `json:"equity"`
	Stats   Stats           `json:"stats"`
	Partial bool            `json:"partial"`
}

// position is an open simulated trade.
type position struct {
	sig      model.Signal
	entryIdx int
	size     float64
	remain   float64 // fraction of size still open
	stop     float64
	trailed  bool // stop advanced beyond BE+ by the trail
	tp1Done  bool
	tp2Done  bool

	realized   float64 // pnl over closed fractions
	exitWeight float64 // Σ frac
	exitPxSum  float64 // Σ frac·price
	lastReason model.ExitReason
}

// Simulator replays bars and books trades.
type Simulator struct {
	cfg    Config
	params detector.Params
}

// New validates the configuration and binds the detector parameters. The
// config's TP ratios override the detector's so the ladder and the signal
// targets agree.
func New(cfg Config, params detector.Params) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params.TP1R, params.TP2R, params.TP3R = cfg.TP1R, cfg.TP2R, cfg.TP3R
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, params: params}, nil
}

// Run replays bars in order. On context cancellation it returns the partial
// result alongside an E_Cancelled error.
func (s *Simulator) Run(ctx context.Context, tf model.Timeframe, bars []model.Bar) (*Result, error) {
	det := detector.New(tf, s.params)
	if len(bars) < det.MinHistory() {
		return nil, model.Errf(model.EInsufficientHistory,
			"backtest needs at least %d bars, got %d", det.MinHistory(), len(bars))
	}

	res := &Result{
		RunID:  uuid.NewString(),
		TF:     tf,
		Config: s.cfg,
		Params: det.Params(),
		Equity: []float64{s.cfg.InitialCapital},
	}
	balance := s.cfg.InitialCapital
	var pos *position

	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			res.Partial = true
			res.Stats = computeStats(s.cfg, tf, res.Trades, res.Equity, balance)
			return res, model.Wrap(model.ECancelled, err, "backtest cancelled at bar %d", i)
		}

		out := det.OnBar(b)

		// Exits are evaluated on the bar after entry onward.
		if pos != nil && i > pos.entryIdx {
			if s.advance(pos, b, det, i) {
				trade := closeOut(pos, b, i, balance)
				balance = trade.BalanceAfter
				res.Trades = append(res.Trades, trade)
				res.Equity = append(res.Equity, balance)
				pos = nil
			}
		}

		if pos == nil && len(out.Signals) > 0 {
			sig := out.Signals[0]
			risk := sig.Risk()
			if risk > 0 {
				pos = &position{
					sig:      sig,
					entryIdx: i,
					size:     balance * s.cfg.RiskPerTrade / risk,
					remain:   1,
					stop:     sig.StopLoss,
				}
			}
		}
	}

	// Remainder at series end closes at the last bar's close.
	if pos != nil {
		last := bars[len(bars)-1]
		pos.book(pos.remain, last.Close, model.ExitTimeout)
		trade := closeOut(pos, last, len(bars)-1, balance)
		balance = trade.BalanceAfter
		res.Trades = append(res.Trades, trade)
		res.Equity = append(res.Equity, balance)
	}

	res.Stats = computeStats(s.cfg, tf, res.Trades, res.Equity, balance)
	return res, nil
}

// advance walks one bar of an open position. Returns true when fully closed.
// Intrabar ordering is conservative: SL before any TP, TP1 before TP2.
func (s *Simulator) advance(p *position, b model.Bar, det *detector.Detector, idx int) bool {
	long := p.sig.Side == model.SideLong
	dir := 1.0
	if !long {
		dir = -1
	}

	stopHit := (long && b.Low <= p.stop) || (!long && b.High >= p.stop)
	if stopHit {
		reason := model.ExitSL
		if p.trailed {
			reason = model.ExitTrail
		}
		p.book(p.remain, p.stop, reason)
		return true
	}

	reaches := func(px float64) bool {
		if long {
			return b.High >= px
		}
		return b.Low <= px
	}

	if !p.tp1Done && reaches(p.sig.TP1) {
		p.tp1Done = true
		p.book(s.cfg.TP1Scale, p.sig.TP1, model.ExitTP1)
		// BE+: stop to entry padded by the fee buffer.
		p.stop = p.sig.Entry + dir*s.cfg.FeeBufferBps/10000*p.sig.Entry
		if p.remain <= 1e-12 {
			return true
		}
	}
	if p.tp1Done && !p.tp2Done && reaches(p.sig.TP2) {
		p.tp2Done = true
		p.book(s.cfg.TP2Scale, p.sig.TP2, model.ExitTP2)
		if p.remain <= 1e-12 {
			return true
		}
	}
	if p.tp2Done && reaches(p.sig.TP3) {
		p.book(p.remain, p.sig.TP3, model.ExitTP3)
		return true
	}

	if idx-p.entryIdx >= s.cfg.BarTimeout {
		p.book(p.remain, b.Close, model.ExitTimeout)
		return true
	}

	// Post-TP1 trail: ratchet the stop toward price by one ATR5.
	if s.cfg.TrailAfterTP && p.tp1Done {
		if atr5 := det.Engine().At(idx).ATR5; atr5 > 0 && !math.IsNaN(atr5) {
			cand := b.Close - dir*atr5
			if (long && cand > p.stop) || (!long && cand < p.stop) {
				p.stop = cand
				p.trailed = true
			}
		}
	}
	return false
}

// book realizes frac of the position at px.
func (p *position) book(frac, px float64, reason model.ExitReason) {
	if frac > p.remain {
		frac = p.remain
	}
	if frac <= 0 {
		return
	}
	dir := 1.0
	if p.sig.Side == model.SideShort {
		dir = -1
	}
	p.realized += frac * p.size * dir * (px - p.sig.Entry)
	p.exitWeight += frac
	p.exitPxSum += frac * px
	p.remain -= frac
	p.lastReason = reason
}

// closeOut converts a fully booked position into a trade record.
func closeOut(p *position, b model.Bar, idx int, balance float64) model.Trade {
	exitPx := p.sig.Entry
	if p.exitWeight > 0 {
		exitPx = p.exitPxSum / p.exitWeight
	}
	riskAbs := p.size * p.sig.Risk()
	pnlR := 0.0
	if riskAbs > 0 {
		pnlR = p.realized / riskAbs
	}
	return model.Trade{
		EntryEpoch:   p.sig.ConfirmEpoch,
		ExitEpoch:    b.Epoch,
		Side:         p.sig.Side,
		EntryPrice:   p.sig.Entry,
		ExitPrice:    exitPx,
		Size:         p.size,
		ExitReason:   p.lastReason,
		PnLAbs:       p.realized,
		PnLR:         pnlR,
		BarsHeld:     idx - p.entryIdx,
		BalanceAfter: balance + p.realized,
	}
}

// computeStats folds the trade list into aggregate statistics.
func computeStats(cfg Config, tf model.Timeframe, trades []model.Trade, equity []float64, balance float64) Stats {
	st := Stats{TotalTrades: len(trades), FinalBalance: balance}
	if len(trades) == 0 {
		return st
	}

	var sumR, grossWin, grossLoss, sumWinR, sumLossR float64
	var consecW, consecL, barsHeld int
	returns := make([]float64, 0, len(trades))
	prevBal := cfg.InitialCapital
	for _, t := range trades {
		sumR += t.PnLR
		barsHeld += t.BarsHeld
		if prevBal > 0 {
			returns = append(returns, t.PnLAbs/prevBal)
		}
		prevBal = t.BalanceAfter
		if t.PnLAbs > 0 {
			st.Wins++
			grossWin += t.PnLAbs
			sumWinR += t.PnLR
			consecW++
			consecL = 0
		} else {
			st.Losses++
			grossLoss += -t.PnLAbs
			sumLossR += t.PnLR
			consecL++
			consecW = 0
		}
		if consecW > st.MaxConsecWins {
			st.MaxConsecWins = consecW
		}
		if consecL > st.MaxConsecLosses {
			st.MaxConsecLosses = consecL
		}
	}

	n := float64(len(trades))
	st.WinRate = float64(st.Wins) / n * 100
	st.AvgR = sumR / n
	if st.Wins > 0 {
		st.AvgWin = sumWinR / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLoss = sumLossR / float64(st.Losses)
	}
	st.TotalPnLPct = (balance - cfg.InitialCapital) / cfg.InitialCapital * 100
	if grossLoss > 0 {
		st.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		st.ProfitFactor = math.Inf(1)
	}
	st.MaxDrawdown = maxDrawdown(equity)
	st.SharpeRatio = sharpe(returns, tf, barsHeld)
	return st
}

// maxDrawdown returns the largest peak-to-trough equity decline, percent.
func maxDrawdown(equity []float64) float64 {
	var peak, dd float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if d := (peak - e) / peak * 100; d > dd {
				dd = d
			}
		}
	}
	return dd
}

// sharpe computes the per-trade Sharpe ratio, annualized by
// sqrt(bars_per_year / avg_bars_held).
func sharpe(returns []float64, tf model.Timeframe, barsHeld int) float64 {
	if len(returns) < 2 || barsHeld == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var varsum float64
	for _, r := range returns {
		varsum += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(varsum / float64(len(returns)-1))
	if sd == 0 {
		return 0
	}
	barsPerYear := 365 * 24 * 3600 / float64(tf.Seconds())
	avgHeld := float64(barsHeld) / float64(len(returns))
	return mean / sd * math.Sqrt(barsPerYear/avgHeld)
}
