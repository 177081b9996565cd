// Package feed streams market data into the pipeline. The WebSocket
// ingestor consumes a plain-JSON trade/orderbook stream; the simulator
// generates an equivalent synthetic stream for offline runs. Both fan the
// same three event kinds out: price ticks for aggregation, trades and book
// snapshots for the micro stream.
//
// Wire format, one JSON object per message:
//
//	{"type":"trade","epoch_micros":1700000000000000,"price":101.25,"size":4.2,"side":"buy"}
//	{"type":"book","epoch_micros":...,"bids":[{"price":101.2,"size":9.1},...],"asks":[...]}
package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"solswing/internal/model"
)

// Sinks are the downstream channels. Sends never block: a full channel
// drops the event (the aggregator keeps its own bounded buffer behind
// Ticks, so drops here only occur under severe backpressure).
type Sinks struct {
	Ticks  chan<- model.Tick
	Trades chan<- model.MicroTrade
	Books  chan<- model.BookSnapshot
}

// Config holds the WebSocket ingestor settings.
type Config struct {
	// URL of the market data stream, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the initial backoff. Defaults to 1s.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
	// BackoffFactor multiplies the delay per failed attempt. Defaults to 1.5.
	BackoffFactor float64
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 1.5
	}
}

// wireMsg is the on-wire envelope.
type wireMsg struct {
	Type        string            `json:"type"`
	EpochMicros int64             `json:"epoch_micros"`
	Price       float64           `json:"price,omitempty"`
	Size        float64           `json:"size,omitempty"`
	Side        string            `json:"side,omitempty"`
	Bids        []model.BookLevel `json:"bids,omitempty"`
	Asks        []model.BookLevel `json:"asks,omitempty"`
}

// Ingest connects to the stream and pushes events into the sinks.
type Ingest struct {
	cfg Config

	// OnReconnect fires on every reconnection attempt (optional).
	OnReconnect func()
}

// NewIngest validates the URL and builds an ingestor.
func NewIngest(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, model.Wrap(model.EConfig, err, "feed url %q", cfg.URL)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams until ctx is cancelled, reconnecting with exponential
// backoff. A successful connection resets the backoff.
func (ing *Ingest) Start(ctx context.Context, sinks Sinks) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, sinks)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * ing.cfg.BackoffFactor)
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// cancel. Reports whether the dial succeeded so the caller can reset its
// backoff.
func (ing *Ingest) runOnce(ctx context.Context, sinks Sinks) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", ing.cfg.URL)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		var msg wireMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		dispatch(msg, sinks)
	}
}

// dispatch routes one decoded message into the sinks.
func dispatch(msg wireMsg, sinks Sinks) {
	switch msg.Type {
	case "trade":
		if msg.Price <= 0 || msg.Size <= 0 {
			return
		}
		side := model.TradeBuy
		if msg.Side == "sell" {
			side = model.TradeSell
		}
		trade := model.MicroTrade{
			EpochMicros: msg.EpochMicros,
			Price:       msg.Price,
			Size:        msg.Size,
			Side:        side,
		}
		if sinks.Trades != nil {
			select {
			case sinks.Trades <- trade:
			default:
				log.Println("[feed] trade channel full, dropping")
			}
		}
		if sinks.Ticks != nil {
			tick := model.Tick{EpochMicros: msg.EpochMicros, Price: msg.Price, Size: msg.Size}
			select {
			case sinks.Ticks <- tick:
			default:
				log.Println("[feed] tick channel full, dropping")
			}
		}
	case "book":
		if len(msg.Bids) == 0 || len(msg.Asks) == 0 {
			return
		}
		if sinks.Books != nil {
			snap := model.BookSnapshot{EpochMicros: msg.EpochMicros, Bids: msg.Bids, Asks: msg.Asks}
			select {
			case sinks.Books <- snap:
			default:
				log.Println("[feed] book channel full, dropping")
			}
		}
	default:
		log.Printf("[feed] unknown message type %q", msg.Type)
	}
}
