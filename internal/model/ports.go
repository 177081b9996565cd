package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the core pipeline from concrete sinks
// (SQLite journal, Redis publisher). The core never blocks on a sink.

// TFBar pairs a closed bar with the timeframe it belongs to, for channels
// and sinks that carry bars from multiple timeframes.
type TFBar struct {
	TF  Timeframe `json:"tf"`
	Bar Bar       `json:"bar"`
}

// BarWriter persists closed bars.
type BarWriter interface {
	// RunBars reads closed bars from barCh and writes them.
	// Blocks until ctx is cancelled or barCh is closed.
	RunBars(ctx context.Context, barCh <-chan TFBar)

	// Close releases underlying resources.
	Close() error
}

// SignalWriter persists emitted signals.
type SignalWriter interface {
	WriteSignal(ctx context.Context, sig Signal) error
	Close() error
}

// BacktestWriter persists backtest runs and their trades.
type BacktestWriter interface {
	WriteBacktest(ctx context.Context, id string, statsJSON []byte, trades []Trade) error
	Close() error
}

// Publisher pushes signal and snapshot events to an external fan-out
// (e.g. Redis PubSub). Implementations must never block the caller.
type Publisher interface {
	PublishSignal(ctx context.Context, sig Signal)
	PublishMicro(ctx context.Context, snap MicroSnapshot)
	Close() error
}
