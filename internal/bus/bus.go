// Package bus provides in-process fan-out of signals, micro snapshots and
// state updates to subscribers. Each subscriber owns a bounded queue;
// publishers never block — when a queue is full the oldest message is
// dropped and the drop count is surfaced to the subscriber as Lag on its
// next delivery. Delivery per topic per subscriber is strict FIFO.
package bus

import (
	"context"
	"sync"

	"solswing/internal/model"
)

// Topic keys the fan-out.
type Topic string

const (
	TopicSignals   Topic = "signals"
	TopicSnapshots Topic = "snapshots"
	TopicState     Topic = "state"
)

// DefaultBufferSize is the per-subscriber queue capacity.
const DefaultBufferSize = 64

// Message is one delivery. Lag is the number of messages dropped for this
// subscriber since its previous delivery.
type Message struct {
	Topic   Topic
	Lag     uint64
	Payload any
}

// Subscriber is a bounded FIFO queue attached to one or more topics.
type Subscriber struct {
	mu     sync.Mutex
	buf    []Message
	start  int
	count  int
	lag    uint64
	closed bool
	notify chan struct{}
}

func newSubscriber(bufSize int) *Subscriber {
	return &Subscriber{
		buf:    make([]Message, bufSize),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues a message, evicting the oldest when full.
func (s *Subscriber) push(m Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.buf) {
		s.start = (s.start + 1) % len(s.buf)
		s.count--
		s.lag++
	}
	s.buf[(s.start+s.count)%len(s.buf)] = m
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryReceive pops the oldest message without blocking.
func (s *Subscriber) TryReceive() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Message{}, false
	}
	m := s.buf[s.start]
	s.start = (s.start + 1) % len(s.buf)
	s.count--
	m.Lag = s.lag
	s.lag = 0
	return m, true
}

// Receive blocks until a message is available or ctx is cancelled.
func (s *Subscriber) Receive(ctx context.Context) (Message, error) {
	for {
		if m, ok := s.TryReceive(); ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, model.Wrap(model.ECancelled, ctx.Err(), "bus receive cancelled")
		case <-s.notify:
		}
	}
}

// Len returns the number of queued messages.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.count = 0
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus fans out published messages to topic subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]*Subscriber
	bufSize int

	// OnDrop is called when a subscriber queue evicts a message (optional).
	OnDrop func(topic Topic)
}

// New creates a Bus. bufSize <= 0 selects DefaultBufferSize.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[Topic][]*Subscriber),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber on the given topics.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	s := newSubscriber(b.bufSize)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], s)
	}
	b.mu.Unlock()
	return s
}

// Unsubscribe detaches and closes a subscriber. Idempotent.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	for t, list := range b.subs {
		for i, sub := range list {
			if sub == s {
				b.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	s.close()
}

// Publish fans a payload out to every subscriber of the topic. Never blocks.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	list := b.subs[topic]
	for _, s := range list {
		before := s.lagSnapshot()
		s.push(Message{Topic: topic, Payload: payload})
		if b.OnDrop != nil && s.lagSnapshot() > before {
			b.OnDrop(topic)
		}
	}
	b.mu.RUnlock()
}

func (s *Subscriber) lagSnapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lag
}
