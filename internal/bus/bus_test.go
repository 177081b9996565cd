package bus

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishReceiveOrder(t *testing.T) {
	b := New(0)
	sub := b.Subscribe(TopicSignals)
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(TopicSignals, i)
	}

	for i := 0; i < 5; i++ {
		m, ok := sub.TryReceive()
		if !ok {
			t.Fatalf("missing message %d", i)
		}
		if m.Payload.(int) != i {
			t.Errorf("message %d carried %v", i, m.Payload)
		}
		if m.Lag != 0 {
			t.Errorf("message %d lag = %d, want 0", i, m.Lag)
		}
	}
	if _, ok := sub.TryReceive(); ok {
		t.Error("queue should be drained")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New(0)
	sigSub := b.Subscribe(TopicSignals)
	stateSub := b.Subscribe(TopicState)
	defer b.Unsubscribe(sigSub)
	defer b.Unsubscribe(stateSub)

	b.Publish(TopicSignals, "sig")
	b.Publish(TopicState, "state")

	if m, ok := sigSub.TryReceive(); !ok || m.Payload != "sig" || m.Topic != TopicSignals {
		t.Errorf("signals sub got %+v %v", m, ok)
	}
	if m, ok := stateSub.TryReceive(); !ok || m.Payload != "state" {
		t.Errorf("state sub got %+v %v", m, ok)
	}
	if _, ok := sigSub.TryReceive(); ok {
		t.Error("signals sub must not see the state topic")
	}
}

func TestBus_OverflowDropsOldestAndReportsLag(t *testing.T) {
	b := New(0) // DefaultBufferSize = 64
	drops := 0
	b.OnDrop = func(topic Topic) {
		if topic != TopicSnapshots {
			t.Errorf("drop on topic %s", topic)
		}
		drops++
	}
	sub := b.Subscribe(TopicSnapshots)
	defer b.Unsubscribe(sub)

	for i := 0; i < 70; i++ {
		b.Publish(TopicSnapshots, i)
	}
	if drops != 6 {
		t.Errorf("OnDrop fired %d times, want 6", drops)
	}

	// The first delivered message is the oldest surviving one, carrying the
	// drop count as lag.
	m, ok := sub.TryReceive()
	if !ok {
		t.Fatal("expected a message")
	}
	if m.Payload.(int) != 6 {
		t.Errorf("first survivor = %v, want 6", m.Payload)
	}
	if m.Lag != 6 {
		t.Errorf("lag = %d, want 6", m.Lag)
	}
	// Lag resets once reported.
	m, _ = sub.TryReceive()
	if m.Lag != 0 {
		t.Errorf("second message lag = %d, want 0", m.Lag)
	}
	if sub.Len() != 62 {
		t.Errorf("Len = %d, want 62", sub.Len())
	}
}

func TestBus_ReceiveBlocksUntilPublish(t *testing.T) {
	b := New(0)
	sub := b.Subscribe(TopicSignals)
	defer b.Unsubscribe(sub)

	got := make(chan any, 1)
	go func() {
		m, err := sub.Receive(context.Background())
		if err != nil {
			t.Errorf("receive: %v", err)
		}
		got <- m.Payload
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(TopicSignals, "late")

	select {
	case p := <-got:
		if p != "late" {
			t.Errorf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up")
	}
}

func TestBus_ReceiveCancelled(t *testing.T) {
	b := New(0)
	sub := b.Subscribe(TopicSignals)
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(ctx); err == nil {
		t.Error("cancelled receive should error")
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New(0)
	sub := b.Subscribe(TopicSignals, TopicState)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call is a no-op

	b.Publish(TopicSignals, 1)
	if _, ok := sub.TryReceive(); ok {
		t.Error("closed subscriber must not receive")
	}
}
