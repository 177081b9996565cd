// Package micro maintains the microstructure state: cumulative volume delta,
// rolling CVD slope, spread and ladder depth imbalance from the trade and
// orderbook feeds. A single writer folds events; readers obtain consistent
// snapshots through an atomic pointer swap — no locks are exposed.
package micro

import (
	"context"
	"sync/atomic"
	"time"

	"solswing/internal/model"
)

const (
	// DefaultDepthLevels is the K of the top-of-book depth sums.
	DefaultDepthLevels = 10
	// DefaultStalenessMs flips availability off when no update arrives.
	DefaultStalenessMs = 5000
	// slopeSamples is the CVD regression window.
	slopeSamples = 30
)

type cvdSample struct {
	epochMicros int64
	cvd         float64
}

// Stream folds trades and book snapshots into an atomically swapped
// MicroSnapshot. OnTrade/OnBook must be called from a single goroutine
// (the micro ingestor); Snapshot is safe from any goroutine.
type Stream struct {
	depthLevels int
	stalenessMs int64

	cur atomic.Pointer[model.MicroSnapshot]

	// Wall-clock time of the last applied update, unix micros.
	lastUpdate atomic.Int64

	// Writer-only state.
	cvd      float64
	samples  [slopeSamples]cvdSample
	sampleN  int
	samplePo int
	lastPx   float64
	bid, ask float64
	bidDepth float64
	askDepth float64
	haveBook bool

	nowFn func() time.Time
}

// NewStream creates a micro stream. Zero arguments select the defaults.
func NewStream(depthLevels int, stalenessMs int64) *Stream {
	if depthLevels <= 0 {
		depthLevels = DefaultDepthLevels
	}
	if stalenessMs <= 0 {
		stalenessMs = DefaultStalenessMs
	}
	return &Stream{
		depthLevels: depthLevels,
		stalenessMs: stalenessMs,
		nowFn:       time.Now,
	}
}

// OnTrade applies a trade event: CVD accumulates signed size.
func (s *Stream) OnTrade(t model.MicroTrade) {
	if t.Side == model.TradeBuy {
		s.cvd += t.Size
	} else {
		s.cvd -= t.Size
	}
	s.lastPx = t.Price

	s.samples[s.samplePo] = cvdSample{epochMicros: t.EpochMicros, cvd: s.cvd}
	s.samplePo = (s.samplePo + 1) % slopeSamples
	if s.sampleN < slopeSamples {
		s.sampleN++
	}

	s.swap(t.EpochMicros)
}

// OnBook applies an orderbook snapshot: spread and top-K depth sums.
func (s *Stream) OnBook(b model.BookSnapshot) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return
	}
	s.bid = b.Bids[0].Price
	s.ask = b.Asks[0].Price
	s.bidDepth = sumDepth(b.Bids, s.depthLevels)
	s.askDepth = sumDepth(b.Asks, s.depthLevels)
	s.haveBook = true

	s.swap(b.EpochMicros)
}

func sumDepth(levels []model.BookLevel, k int) float64 {
	if len(levels) < k {
		k = len(levels)
	}
	var sum float64
	for _, l := range levels[:k] {
		sum += l.Size
	}
	return sum
}

// swap rebuilds the published snapshot from writer state.
func (s *Stream) swap(epochMicros int64) {
	snap := model.MicroSnapshot{
		EpochMicros:    epochMicros,
		CVD:            s.cvd,
		CVDSlope:       s.slope(),
		LastTradePrice: s.lastPx,
	}
	if s.haveBook && s.bid > 0 && s.ask > s.bid {
		snap.Bid = s.bid
		snap.Ask = s.ask
		snap.Mid = (s.bid + s.ask) / 2
		snap.SpreadBps = (s.ask - s.bid) / snap.Mid * 10000
		snap.BidDepth = s.bidDepth
		snap.AskDepth = s.askDepth
		if total := s.bidDepth + s.askDepth; total > 0 {
			snap.LadderImbalance = (s.bidDepth - s.askDepth) / total
		}
		snap.Available = true
	}
	s.cur.Store(&snap)
	s.lastUpdate.Store(s.nowFn().UnixMicro())
}

// slope returns the OLS slope of CVD against time (units per second) over
// the sample window. Zero until two samples exist.
func (s *Stream) slope() float64 {
	n := s.sampleN
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	base := s.samples[(s.samplePo-n+slopeSamples)%slopeSamples].epochMicros
	for i := 0; i < n; i++ {
		sm := s.samples[(s.samplePo-n+i+slopeSamples)%slopeSamples]
		x := float64(sm.epochMicros-base) / 1e6
		sumX += x
		sumY += sm.cvd
		sumXY += x * sm.cvd
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// Snapshot returns the latest consistent record. If no update has arrived
// within the staleness window (or none ever), Available is false.
func (s *Stream) Snapshot() model.MicroSnapshot {
	p := s.cur.Load()
	if p == nil {
		return model.MicroSnapshot{Available: false}
	}
	snap := *p
	ageMs := (s.nowFn().UnixMicro() - s.lastUpdate.Load()) / 1000
	if ageMs > s.stalenessMs {
		snap.Available = false
	}
	return snap
}

// Run consumes trade and book events until ctx is cancelled or both
// channels are closed.
func (s *Stream) Run(ctx context.Context, tradeCh <-chan model.MicroTrade, bookCh <-chan model.BookSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tradeCh:
			if !ok {
				tradeCh = nil
				if bookCh == nil {
					return
				}
				continue
			}
			s.OnTrade(t)
		case b, ok := <-bookCh:
			if !ok {
				bookCh = nil
				if tradeCh == nil {
					return
				}
				continue
			}
			s.OnBook(b)
		}
	}
}
