// Package redis pushes signals, scalp cards, micro snapshots and state
// updates to Redis for external consumers (dashboards, notifiers). All
// writes run through a circuit breaker; while the breaker is open, durable
// events (signals, cards) are buffered locally and replayed on recovery,
// ephemeral ones (micro, state) are dropped.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"solswing/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// signalStreamMaxLen bounds the signal history stream.
	signalStreamMaxLen = 1000
	// defaultMaxPending bounds the local replay buffer.
	defaultMaxPending = 10000
)

// Key and channel layout.
const (
	keySignalLatest = "sig:latest"
	keySignalStream = "sig:stream"
	keyCardLatest   = "card:latest"
	keyMicroLatest  = "micro:latest"
	chanSignals     = "pub:signals"
	chanCards       = "pub:cards"
	chanMicro       = "pub:micro"
	chanState       = "pub:state"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker settings; zero values select 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
	MaxPending   int
}

type pendingPublish struct {
	durable func(ctx context.Context, pipe goredis.Pipeliner)
}

// Publisher implements model.Publisher over Redis.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	mu      sync.Mutex
	pending []pendingPublish
	maxPend int

	// OnBuffer and OnFlush are metrics hooks (optional).
	OnBuffer func()
	OnFlush  func(count int)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher connects and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}

	p := &Publisher{
		client:  client,
		cb:      NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		maxPend: cfg.MaxPending,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] breaker %s -> %s", from, to)
		if to == StateClosed {
			go p.flush()
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// Breaker returns the circuit breaker for state inspection.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishSignal pushes a signal: SET latest + XADD history + PUBLISH.
// Buffered for replay while the breaker is open.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) {
	data := string(sig.JSON())
	op := func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Set(ctx, keySignalLatest, data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: keySignalStream,
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, chanSignals, data)
	}
	p.durable(ctx, op)
}

// PublishCard pushes a scalp card: SET latest + PUBLISH. Buffered.
func (p *Publisher) PublishCard(ctx context.Context, card model.ScalpCard) {
	data := string(card.JSON())
	op := func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Set(ctx, keyCardLatest, data, defaultLatestTTL)
		pipe.Publish(ctx, chanCards, data)
	}
	p.durable(ctx, op)
}

// PublishMicro pushes a micro snapshot: SET latest + PUBLISH. High-rate and
// ephemeral — dropped while the breaker is open.
func (p *Publisher) PublishMicro(ctx context.Context, snap model.MicroSnapshot) {
	data := string(snap.JSON())
	p.ephemeral(ctx, func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Set(ctx, keyMicroLatest, data, defaultLatestTTL)
		pipe.Publish(ctx, chanMicro, data)
	})
}

// PublishState pushes a state-machine update. Ephemeral.
func (p *Publisher) PublishState(ctx context.Context, payload []byte) {
	data := string(payload)
	p.ephemeral(ctx, func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Publish(ctx, chanState, data)
	})
}

func (p *Publisher) durable(ctx context.Context, op func(context.Context, goredis.Pipeliner)) {
	err := p.cb.Execute(func() error {
		return p.exec(ctx, op)
	})
	if err == ErrCircuitOpen {
		p.buffer(op)
		return
	}
	if err != nil {
		log.Printf("[redis] publish error: %v", err)
	}
}

func (p *Publisher) ephemeral(ctx context.Context, op func(context.Context, goredis.Pipeliner)) {
	err := p.cb.Execute(func() error {
		return p.exec(ctx, op)
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] publish error: %v", err)
	}
}

func (p *Publisher) exec(ctx context.Context, op func(context.Context, goredis.Pipeliner)) error {
	pipe := p.client.Pipeline()
	op(ctx, pipe)
	_, err := pipe.Exec(ctx)
	return err
}

// buffer queues a durable publish for replay, dropping the oldest at cap.
func (p *Publisher) buffer(op func(context.Context, goredis.Pipeliner)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.maxPend {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingPublish{durable: op})
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays the buffered publishes after the breaker closes.
func (p *Publisher) flush() {
	p.mu.Lock()
	toFlush := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, pw := range toFlush {
		if err := p.exec(ctx, pw.durable); err != nil {
			log.Printf("[redis] replay error: %v", err)
		}
	}
	log.Printf("[redis] flushed %d buffered publishes", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered publishes awaiting replay.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
