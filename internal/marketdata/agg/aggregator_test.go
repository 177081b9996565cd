package agg

import (
	"context"
	"testing"
	"time"

	"solswing/internal/candlestore"
	"solswing/internal/model"
)

func tick(sec int64, price, size float64) model.Tick {
	return model.Tick{EpochMicros: sec * 1_000_000, Price: price, Size: size}
}

func TestProcessTick_SameBucketMerge(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	out := make(chan model.TFBar, 10)

	a.ProcessTick(tick(60, 100, 1), out)
	a.ProcessTick(tick(70, 105, 2), out)
	a.ProcessTick(tick(80, 99, 1), out)
	a.ProcessTick(tick(85, 102, 3), out)

	open, ok := store.Open(model.TF1m)
	if !ok {
		t.Fatal("expected an open bar")
	}
	if open.Epoch != 60 || open.Open != 100 || open.High != 105 || open.Low != 99 || open.Close != 102 || open.Volume != 7 {
		t.Errorf("open bar = %+v", open)
	}
	if store.Size(model.TF1m) != 0 {
		t.Error("nothing should be closed inside one bucket")
	}
	select {
	case b := <-out:
		t.Fatalf("unexpected emission %+v", b)
	default:
	}
}

func TestProcessTick_BucketAdvanceFinalizes(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	var closed []model.TFBar
	a.OnBarClosed = func(b model.TFBar) { closed = append(closed, b) }
	out := make(chan model.TFBar, 10)

	a.ProcessTick(tick(60, 100, 1), out)
	a.ProcessTick(tick(120, 101, 2), out)

	if len(closed) != 1 {
		t.Fatalf("closed %d bars, want 1", len(closed))
	}
	b := closed[0]
	if b.TF != model.TF1m || b.Bar.Epoch != 60 || b.Bar.Close != 100 {
		t.Errorf("closed bar = %+v", b)
	}
	if store.Size(model.TF1m) != 1 {
		t.Errorf("store holds %d closed bars, want 1", store.Size(model.TF1m))
	}
	open, ok := store.Open(model.TF1m)
	if !ok || open.Epoch != 120 || open.Open != 101 {
		t.Errorf("new open bar = %+v %v", open, ok)
	}
	select {
	case got := <-out:
		if got.Bar.Epoch != 60 {
			t.Errorf("emitted epoch = %d", got.Bar.Epoch)
		}
	default:
		t.Error("finalized bar should be emitted downstream")
	}
}

func TestProcessTick_GapFill(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	out := make(chan model.TFBar, 10)

	a.ProcessTick(tick(60, 100, 1), out)
	a.ProcessTick(tick(300, 104, 1), out) // skips buckets 120, 180, 240

	all := store.All(model.TF1m)
	if len(all) != 4 {
		t.Fatalf("store holds %d bars, want 4 (1 real + 3 synthetic)", len(all))
	}
	for i, b := range all[1:] {
		if !b.Synthetic || b.Close != 100 || b.Volume != 0 {
			t.Errorf("gap bar %d = %+v", i+1, b)
		}
	}
	open, _ := store.Open(model.TF1m)
	if open.Epoch != 300 {
		t.Errorf("open bucket = %d, want 300", open.Epoch)
	}
}

func TestProcessTick_LateTickDropped(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	drops := 0
	a.OnDroppedTick = func() { drops++ }
	out := make(chan model.TFBar, 10)

	a.ProcessTick(tick(120, 100, 1), out)
	a.ProcessTick(tick(60, 200, 1), out) // behind the open bucket

	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
	open, _ := store.Open(model.TF1m)
	if open.High != 100 || open.Volume != 1 {
		t.Errorf("late tick leaked into the bar: %+v", open)
	}
}

func TestProcessTick_MultiTimeframe(t *testing.T) {
	store := candlestore.New(0, model.TF1m, model.TF5m)
	a := New(store, []model.Timeframe{model.TF1m, model.TF5m}, 0)
	out := make(chan model.TFBar, 10)

	// Crosses a 1m boundary but stays inside one 5m bucket.
	a.ProcessTick(tick(300, 100, 1), out)
	a.ProcessTick(tick(400, 101, 1), out)

	if store.Size(model.TF1m) != 1 {
		t.Errorf("1m closed = %d, want 1", store.Size(model.TF1m))
	}
	if store.Size(model.TF5m) != 0 {
		t.Errorf("5m closed = %d, want 0", store.Size(model.TF5m))
	}
	open5, ok := store.Open(model.TF5m)
	if !ok || open5.Epoch != 300 || open5.Volume != 2 {
		t.Errorf("5m open = %+v %v", open5, ok)
	}
}

func TestFlushElapsed(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	out := make(chan model.TFBar, 10)

	a.ProcessTick(tick(60, 100, 1), out)

	a.flushElapsed(119, out) // window not over yet
	if store.Size(model.TF1m) != 0 {
		t.Fatal("bar flushed before its window elapsed")
	}
	a.flushElapsed(120, out)
	if store.Size(model.TF1m) != 1 {
		t.Fatal("elapsed bar should be finalized")
	}
	if _, ok := store.Open(model.TF1m); ok {
		t.Error("open bar should be cleared on flush")
	}
}

func TestAggregator_SubmitOverflow(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 2)

	for i := 0; i < 5; i++ {
		a.Submit(tick(int64(60+i), 100, 1))
	}
	if a.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", a.Dropped())
	}
}

func TestAggregator_RunDrainsAndFlushesOnCancel(t *testing.T) {
	store := candlestore.New(0, model.TF1m)
	a := New(store, []model.Timeframe{model.TF1m}, 0)
	out := make(chan model.TFBar, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, out)
		close(done)
	}()

	a.Submit(tick(60, 100, 1))
	a.Submit(tick(120, 101, 1))

	// First bucket closes once the second tick lands.
	select {
	case b := <-out:
		if b.Bar.Epoch != 60 {
			t.Errorf("first closed epoch = %d", b.Bar.Epoch)
		}
	case <-time.After(time.Second):
		t.Fatal("no bar emitted")
	}

	cancel()
	<-done

	// Shutdown flush closes the still-open second bucket.
	select {
	case b := <-out:
		if b.Bar.Epoch != 120 {
			t.Errorf("flushed epoch = %d", b.Bar.Epoch)
		}
	default:
		t.Error("cancel should flush the open bar")
	}
	if store.Size(model.TF1m) != 2 {
		t.Errorf("store holds %d bars, want 2", store.Size(model.TF1m))
	}
}
