package feed

import (
	"context"
	"log"
	"math/rand"
	"time"

	"solswing/internal/model"
)

// SimConfig drives the synthetic stream.
type SimConfig struct {
	// StartPrice is the initial mid. Defaults to 100.
	StartPrice float64
	// StepBps is the per-trade random walk step size in bps. Defaults to 5.
	StepBps float64
	// Interval between trades. Defaults to 100ms.
	Interval time.Duration
	// BookEvery emits a book snapshot every N trades. Defaults to 5.
	BookEvery int
	// Seed fixes the walk; 0 seeds from the clock.
	Seed int64
}

func (c *SimConfig) defaults() {
	if c.StartPrice <= 0 {
		c.StartPrice = 100
	}
	if c.StepBps <= 0 {
		c.StepBps = 5
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.BookEvery <= 0 {
		c.BookEvery = 5
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Sim generates a random-walk trade and book stream with the same sink
// contract as the WebSocket ingestor. Offline runs and demos only.
type Sim struct {
	cfg SimConfig
}

// NewSim creates a simulator.
func NewSim(cfg SimConfig) *Sim {
	cfg.defaults()
	return &Sim{cfg: cfg}
}

// Start emits events until ctx is cancelled.
func (s *Sim) Start(ctx context.Context, sinks Sinks) error {
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	price := s.cfg.StartPrice
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[feed] simulator started price=%.4f step=%.1fbps", price, s.cfg.StepBps)

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		step := price * s.cfg.StepBps / 10000
		price += (rng.Float64()*2 - 1) * step
		if price < step {
			price = step
		}
		side := "buy"
		if rng.Intn(2) == 0 {
			side = "sell"
		}
		now := time.Now().UnixMicro()

		dispatch(wireMsg{
			Type:        "trade",
			EpochMicros: now,
			Price:       price,
			Size:        0.5 + rng.Float64()*4,
			Side:        side,
		}, sinks)

		n++
		if n%s.cfg.BookEvery == 0 {
			dispatch(s.book(rng, price, now), sinks)
		}
	}
}

// book builds a plausible 10-level ladder around the mid.
func (s *Sim) book(rng *rand.Rand, mid float64, now int64) wireMsg {
	tickSize := mid * 0.0001
	msg := wireMsg{Type: "book", EpochMicros: now}
	for i := 1; i <= 10; i++ {
		msg.Bids = append(msg.Bids, model.BookLevel{
			Price: mid - float64(i)*tickSize,
			Size:  1 + rng.Float64()*20,
		})
		msg.Asks = append(msg.Asks, model.BookLevel{
			Price: mid + float64(i)*tickSize,
			Size:  1 + rng.Float64()*20,
		})
	}
	return msg
}
