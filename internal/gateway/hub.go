// Package gateway exposes the engine over HTTP and WebSocket: REST
// endpoints for the request surface and a push stream for signals and
// micro snapshots. The hub bridges the in-process event bus to WebSocket
// clients; a client that cannot keep up is disconnected, there is no
// replay.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"solswing/internal/bus"
	"solswing/internal/engine"
)

// wsMessage is the push envelope.
type wsMessage struct {
	Type string `json:"type"` // init, snapshot, new_signal, state
	Data any    `json:"data"`
}

// Hub manages WebSocket clients and fans bus messages out to them.
type Hub struct {
	eng *engine.Engine

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub.
func NewHub(eng *engine.Engine) *Hub {
	return &Hub{
		eng:     eng,
		clients: make(map[*Client]bool),
	}
}

// Run subscribes to the bus and pumps messages to clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.eng.Bus().Subscribe(bus.TopicSignals, bus.TopicSnapshots, bus.TopicState)
	defer h.eng.Bus().Unsubscribe(sub)

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			return
		}
		if msg.Lag > 0 {
			log.Printf("[gateway] bus lag: %d messages dropped", msg.Lag)
		}
		h.broadcast(envelope(msg))
	}
}

// envelope maps a bus message onto the wire protocol.
func envelope(msg bus.Message) wsMessage {
	switch msg.Topic {
	case bus.TopicSignals:
		return wsMessage{Type: "new_signal", Data: msg.Payload}
	case bus.TopicSnapshots:
		return wsMessage{Type: "snapshot", Data: msg.Payload}
	default:
		return wsMessage{Type: "state", Data: msg.Payload}
	}
}

// broadcast sends one envelope to every client. Slow clients are dropped.
func (h *Hub) broadcast(msg wsMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[gateway] marshal error: %v", err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Println("[gateway] dropping slow ws client")
		h.RemoveClient(c)
	}
}

// AddClient registers a client and sends it the init message.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	init := wsMessage{
		Type: "init",
		Data: map[string]any{"signals": h.eng.RecentSignals()},
	}
	if raw, err := json.Marshal(init); err == nil {
		select {
		case c.send <- raw:
		default:
		}
	}
}

// RemoveClient detaches and closes a client. Idempotent.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
