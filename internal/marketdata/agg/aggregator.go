// Package agg folds price ticks into OHLCV bars for every configured
// timeframe. Bucket boundaries are deterministic by epoch: a tick at
// epoch_micros belongs to bucket ⌊epoch_micros / tf⌋. When the bucket key
// changes, the open bar is finalized, published to the CandleStore and
// emitted; skipped buckets are closed as synthetic gap bars carrying the
// previous close and zero volume.
package agg

import (
	"context"
	"log"
	"time"

	"solswing/internal/candlestore"
	"solswing/internal/model"
	"solswing/internal/ringbuf"
)

// DefaultInputCapacity is the bounded tick input buffer size.
const DefaultInputCapacity = 10000

// barState holds the in-progress bar for one timeframe.
type barState struct {
	bucket  int64 // bucket start epoch (seconds)
	bar     model.Bar
	started bool
}

// Aggregator builds bars for multiple timeframes from a single tick stream.
// ProcessTick and the flush path run in the Run goroutine only; the feed
// side hands ticks over through a bounded drop-oldest ring via Submit.
type Aggregator struct {
	tfs    []model.Timeframe
	store  *candlestore.Store
	states map[model.Timeframe]*barState

	in     *ringbuf.Ring
	notify chan struct{}

	flushInterval time.Duration

	// Metrics hooks (optional, set before Run).
	OnDroppedTick func()
	OnBarClosed   func(model.TFBar)
}

// New creates an Aggregator writing closed bars into store.
// inputCap <= 0 selects DefaultInputCapacity.
func New(store *candlestore.Store, tfs []model.Timeframe, inputCap int) *Aggregator {
	if inputCap <= 0 {
		inputCap = DefaultInputCapacity
	}
	states := make(map[model.Timeframe]*barState, len(tfs))
	for _, tf := range tfs {
		states[tf] = &barState{}
	}
	return &Aggregator{
		tfs:           tfs,
		store:         store,
		states:        states,
		in:            ringbuf.New(inputCap),
		notify:        make(chan struct{}, 1),
		flushInterval: 250 * time.Millisecond,
	}
}

// Dropped returns the count of ticks evicted from the input buffer.
func (a *Aggregator) Dropped() uint64 { return a.in.Dropped() }

// Submit hands a tick to the aggregator. Never blocks; when the input
// buffer is full the oldest tick is evicted.
func (a *Aggregator) Submit(t model.Tick) {
	a.in.Push(t)
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Run drains submitted ticks, folds them into bars, and sends finalized bars
// to out. A periodic flush closes buckets whose window has passed on the wall
// clock even if no newer tick arrived. Blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, out chan<- model.TFBar) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(out)
			return
		case <-a.notify:
			for {
				t, ok := a.in.Pop()
				if !ok {
					break
				}
				a.ProcessTick(t, out)
			}
		case <-ticker.C:
			a.flushElapsed(time.Now().Unix(), out)
		}
	}
}

// ProcessTick incorporates a single tick into every timeframe's open bar.
// Exported for the batch/test path; not safe concurrently with Run.
func (a *Aggregator) ProcessTick(t model.Tick, out chan<- model.TFBar) {
	for _, tf := range a.tfs {
		st := a.states[tf]
		bucket := tf.Bucket(t.EpochMicros)

		if st.started && bucket < st.bucket {
			// Late tick — belongs to an already-advanced bucket.
			if a.OnDroppedTick != nil {
				a.OnDroppedTick()
			}
			continue
		}

		if st.started && bucket > st.bucket {
			a.finalize(tf, st, out)
			// Gap fill: close intermediate buckets with open=close=last.
			for e := st.bucket + tf.Seconds(); e < bucket; e += tf.Seconds() {
				gap := model.Bar{
					Epoch: e, Open: st.bar.Close, High: st.bar.Close,
					Low: st.bar.Close, Close: st.bar.Close, Synthetic: true,
				}
				a.publish(tf, gap, out)
			}
			st.started = false
		}

		if !st.started {
			st.bucket = bucket
			st.started = true
			st.bar = model.Bar{
				Epoch: bucket,
				Open:  t.Price, High: t.Price, Low: t.Price, Close: t.Price,
				Volume: t.Size,
			}
			a.store.SetOpen(tf, st.bar)
			continue
		}

		// Same bucket — merge OHLCV.
		b := &st.bar
		if t.Price > b.High {
			b.High = t.Price
		}
		if t.Price < b.Low {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume += t.Size
		a.store.SetOpen(tf, *b)
	}
}

// flushElapsed finalizes open bars whose bucket window has fully passed.
func (a *Aggregator) flushElapsed(nowSec int64, out chan<- model.TFBar) {
	for _, tf := range a.tfs {
		st := a.states[tf]
		if st.started && st.bucket+tf.Seconds() <= nowSec {
			a.finalize(tf, st, out)
			st.started = false
		}
	}
}

// flushAll finalizes every open bar regardless of bucket (shutdown path).
func (a *Aggregator) flushAll(out chan<- model.TFBar) {
	for _, tf := range a.tfs {
		st := a.states[tf]
		if st.started {
			a.finalize(tf, st, out)
			st.started = false
		}
	}
}

func (a *Aggregator) finalize(tf model.Timeframe, st *barState, out chan<- model.TFBar) {
	a.store.ClearOpen(tf)
	a.publish(tf, st.bar, out)
}

// publish appends a closed bar to the store and emits it downstream.
// The send is non-blocking to avoid deadlocks in the pipeline.
func (a *Aggregator) publish(tf model.Timeframe, b model.Bar, out chan<- model.TFBar) {
	if err := a.store.Append(tf, b); err != nil {
		log.Printf("[agg] store append %s epoch=%d: %v", tf, b.Epoch, err)
		return
	}
	tfb := model.TFBar{TF: tf, Bar: b}
	if a.OnBarClosed != nil {
		a.OnBarClosed(tfb)
	}
	if out == nil {
		return
	}
	select {
	case out <- tfb:
	default:
		log.Printf("[agg] out channel full, dropping bar %s epoch=%d", tf, b.Epoch)
	}
}
