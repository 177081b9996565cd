package model

import "encoding/json"

// CardIndices locates the extremum and confirmation bars behind a card.
type CardIndices struct {
	ExtremumIdx int `json:"extremum_idx"`
	ConfirmIdx  int `json:"confirm_idx"`
}

// CardChecks holds the pre-flight results captured at composition time.
type CardChecks struct {
	SpreadOK  bool    `json:"spread_ok"`
	MicroVeto VetoSet `json:"micro_veto"`
}

// ScalpCard is an immutable execution sheet projected from a confirmed
// Signal and the microstructure state at composition time. Subsequent
// micro changes never mutate a card.
type ScalpCard struct {
	Symbol    string      `json:"symbol"`
	Play      string      `json:"play"` // LONG or SHORT
	Regime    string      `json:"regime"`
	SizeTag   string      `json:"size_tag"`
	Entry     float64     `json:"entry"`
	SL        float64     `json:"sl"`
	TP1       float64     `json:"tp1"`
	TP2       float64     `json:"tp2"`
	TP3       float64     `json:"tp3"`
	TrailRule string      `json:"trail_rule"`
	OrderPath string      `json:"order_path"`
	Confirm   string      `json:"confirm"`
	Indices   CardIndices `json:"indices"`
	Checks    CardChecks  `json:"checks"`
	Attempts  int         `json:"attempts"`
}

// JSON returns the JSON-encoded card.
func (c *ScalpCard) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ExitReason describes how a backtest trade was closed.
type ExitReason string

const (
	ExitTP1     ExitReason = "tp1"
	ExitTP2     ExitReason = "tp2"
	ExitTP3     ExitReason = "tp3"
	ExitSL      ExitReason = "sl"
	ExitTrail   ExitReason = "trail"
	ExitTimeout ExitReason = "timeout"
)

// Trade is one completed backtest trade.
type Trade struct {
	EntryEpoch   int64      `json:"entry_epoch"`
	ExitEpoch    int64      `json:"exit_epoch"`
	Side         Side       `json:"side"`
	EntryPrice   float64    `json:"entry_price"`
	ExitPrice    float64    `json:"exit_price"` // size-weighted across ladder exits
	Size         float64    `json:"size"`
	ExitReason   ExitReason `json:"exit_reason"`
	PnLAbs       float64    `json:"pnl_abs"`
	PnLR         float64    `json:"pnl_r"`
	BarsHeld     int        `json:"bars_held"`
	BalanceAfter float64    `json:"balance_after"`
}
