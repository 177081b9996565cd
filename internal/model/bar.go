package model

import (
	"encoding/json"
	"time"
)

// Bar represents one closed OHLCV bucket for a single timeframe.
// Epoch is the bucket start in Unix seconds, aligned to the timeframe width.
// Synthetic marks a gap-fill bar (open=close=previous close, volume=0) so
// downstream volume statistics can skip it.
type Bar struct {
	Epoch     int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// TS returns the bucket start as a UTC time.
func (b *Bar) TS() time.Time { return time.Unix(b.Epoch, 0).UTC() }

// Valid reports whether the OHLCV invariant holds:
// low ≤ min(open,close) ≤ max(open,close) ≤ high, volume ≥ 0.
func (b *Bar) Valid() bool {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High && b.Volume >= 0
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	buf, _ := json.Marshal(b)
	return buf
}

// Tick is a single trade print from the upstream price feed.
type Tick struct {
	EpochMicros int64   `json:"epoch_micros"`
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
}

// TradeSide is the aggressor side of a trade event.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// MicroTrade is a trade event consumed by the microstructure stream.
type MicroTrade struct {
	EpochMicros int64     `json:"epoch_micros"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Side        TradeSide `json:"side"`
}

// BookLevel is one (price, size) rung of the orderbook ladder.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a top-of-book depth snapshot from the orderbook feed.
// Bids are ordered best-first (descending price), asks best-first (ascending).
type BookSnapshot struct {
	EpochMicros int64       `json:"epoch_micros"`
	Bids        []BookLevel `json:"bids"`
	Asks        []BookLevel `json:"asks"`
}
