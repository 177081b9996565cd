package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"solswing/internal/bus"
	"solswing/internal/logger"
	"solswing/internal/marketdata/agg"
	"solswing/internal/marketdata/feed"
	"solswing/internal/model"
	"solswing/internal/mtf"
)

// LiveStatus is the live pipeline status record.
type LiveStatus struct {
	Running      bool    `json:"running"`
	LastPrice    float64 `json:"last_price"`
	CandlesCount int     `json:"candles_count"`
}

// stateUpdate is the payload published on the state topic.
type stateUpdate struct {
	From  model.MTFPhase `json:"from"`
	To    model.MTFPhase `json:"to"`
	State model.MTFState `json:"state"`
}

// LiveStart launches the feed, aggregator and detector tasks. Idempotent:
// a second start while running is a no-op.
func (e *Engine) LiveStart(parent context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.liveCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	e.liveCancel = cancel

	aggregator := agg.New(e.store, e.tfs, 0)
	barCh := make(chan model.TFBar, 1024)

	var journalCh chan model.TFBar
	if e.sinks.Journal != nil {
		journalCh = make(chan model.TFBar, 1024)
	}
	if e.met != nil {
		aggregator.OnDroppedTick = e.met.DroppedTicks.Inc
	}
	aggregator.OnBarClosed = func(tfb model.TFBar) {
		if e.met != nil {
			e.met.BarsTotal.WithLabelValues(strconv.FormatInt(tfb.TF.Seconds(), 10)).Inc()
		}
		if journalCh != nil {
			select {
			case journalCh <- tfb:
			default:
			}
		}
	}

	// Feed → aggregator pump.
	e.liveWG.Add(1)
	go func() {
		defer e.liveWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-e.tickCh:
				if e.met != nil {
					e.met.TicksTotal.Inc()
				}
				if e.hlth != nil {
					e.hlth.SetLastTickTime(time.Now())
				}
				e.mu.Lock()
				e.lastPrice = t.Price
				e.mu.Unlock()
				aggregator.Submit(t)
			}
		}
	}()

	// Aggregator task.
	e.liveWG.Add(1)
	go func() {
		defer e.liveWG.Done()
		aggregator.Run(ctx, barCh)
	}()

	// Closed-bar consumer: context tracking + detection.
	e.liveWG.Add(1)
	go func() {
		defer e.liveWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tfb, ok := <-barCh:
				if !ok {
					return
				}
				e.onClosedBar(ctx, tfb)
			}
		}
	}()

	// Feed task.
	e.liveWG.Add(1)
	go func() {
		defer e.liveWG.Done()
		e.runFeed(ctx)
	}()

	// Journal task.
	if journalCh != nil {
		e.liveWG.Add(1)
		go func() {
			defer e.liveWG.Done()
			e.sinks.Journal.RunBars(ctx, journalCh)
		}()
	}

	if e.hlth != nil {
		e.hlth.SetDetectorOK(true)
	}
	e.log.Info("live pipeline started", slog.String("feed", e.cfg.FeedMode))
	return nil
}

// LiveStop halts the live pipeline and waits for its tasks.
func (e *Engine) LiveStop() {
	e.mu.Lock()
	cancel := e.liveCancel
	e.liveCancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.liveWG.Wait()
	e.log.Info("live pipeline stopped")
}

// LiveStatus reports the live pipeline state.
func (e *Engine) LiveStatus() LiveStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LiveStatus{
		Running:      e.liveCancel != nil,
		LastPrice:    e.lastPrice,
		CandlesCount: e.store.Size(model.TF5m),
	}
}

// StreamStart launches the microstructure consumer.
func (e *Engine) StreamStart(parent context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	e.streamCancel = cancel
	e.streamWG.Add(1)
	go func() {
		defer e.streamWG.Done()
		e.micro.Run(ctx, e.tradeCh, e.bookCh)
	}()

	// Snapshot fan-out: push the current micro state to subscribers once
	// per second.
	e.streamWG.Add(1)
	go func() {
		defer e.streamWG.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := e.StreamSnapshot()
				e.bus.Publish(bus.TopicSnapshots, snap)
				if e.sinks.Publisher != nil {
					e.sinks.Publisher.PublishMicro(ctx, snap)
				}
			}
		}
	}()
	e.log.Info("micro stream started")
}

// StreamStop halts the microstructure consumer.
func (e *Engine) StreamStop() {
	e.mu.Lock()
	cancel := e.streamCancel
	e.streamCancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.streamWG.Wait()
	e.log.Info("micro stream stopped")
}

// StreamRunning reports whether the micro consumer is live.
func (e *Engine) StreamRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamCancel != nil
}

// MTFStart launches the state machine tick task.
func (e *Engine) MTFStart(parent context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mtfCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	e.mtfCancel = cancel
	e.mtfWG.Add(1)
	go func() {
		defer e.mtfWG.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.machine.Tick(t.Unix())
			}
		}
	}()
	e.log.Info("mtf state machine started")
}

// MTFStop halts the state machine tick task.
func (e *Engine) MTFStop() {
	e.mu.Lock()
	cancel := e.mtfCancel
	e.mtfCancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.mtfWG.Wait()
	e.log.Info("mtf state machine stopped")
}

// MTFRunning reports whether the machine tick task is live.
func (e *Engine) MTFRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mtfCancel != nil
}

// Shutdown stops every task.
func (e *Engine) Shutdown() {
	e.LiveStop()
	e.StreamStop()
	e.MTFStop()
}

// runFeed runs the configured feed until ctx is cancelled.
func (e *Engine) runFeed(ctx context.Context) {
	sinks := feed.Sinks{Ticks: e.tickCh, Trades: e.tradeCh, Books: e.bookCh}

	if e.cfg.FeedMode == "sim" {
		sim := feed.NewSim(feed.SimConfig{})
		if e.hlth != nil {
			e.hlth.SetFeedConnected(true)
		}
		sim.Start(ctx, sinks)
		return
	}

	ing, err := feed.NewIngest(feed.Config{URL: e.cfg.FeedURL})
	if err != nil {
		e.log.Error("feed config", slog.String("err", err.Error()))
		return
	}
	ing.OnReconnect = func() {
		if e.met != nil {
			e.met.WSReconnects.Inc()
		}
		if e.hlth != nil {
			e.hlth.SetFeedConnected(false)
		}
	}
	if e.hlth != nil {
		e.hlth.SetFeedConnected(true)
	}
	if err := ing.Start(ctx, sinks); err != nil {
		e.log.Error("feed", slog.String("err", err.Error()))
	}
}

// onClosedBar routes one closed bar: context engines always, the 5m
// detector additionally.
func (e *Engine) onClosedBar(ctx context.Context, tfb model.TFBar) {
	e.tfctx.OnBar(tfb)
	if tfb.TF != model.TF5m {
		return
	}

	e.mu.Lock()
	det := e.det
	e.mu.Unlock()

	start := time.Now()
	res := det.OnBar(tfb.Bar)
	if e.met != nil {
		e.met.DetectorLatency.Observe(time.Since(start).Seconds())
	}

	now := time.Now().Unix()
	for _, c := range res.Candidates {
		if e.met != nil {
			e.met.CandidatesTotal.Inc()
		}
		e.machine.OnCandidate(c, now)
	}
	for i := range res.Signals {
		e.emitSignal(ctx, res.Signals[i], now)
	}
	e.machine.Tick(now)
}

// emitSignal records, fans out and persists one confirmed signal.
func (e *Engine) emitSignal(ctx context.Context, sig model.Signal, now int64) {
	e.mu.Lock()
	e.lastSignal = &sig
	e.recent = append(e.recent, sig)
	if len(e.recent) > 200 {
		e.recent = e.recent[len(e.recent)-200:]
	}
	e.mu.Unlock()

	if e.met != nil {
		e.met.SignalsTotal.WithLabelValues(string(sig.Side)).Inc()
	}
	trace := logger.SignalTrace(e.cfg.Symbol, sig)
	ctx = logger.WithTraceID(ctx, trace)
	e.log.Info("signal confirmed",
		slog.String("trace_id", trace),
		slog.String("side", string(sig.Side)),
		slog.Float64("entry", sig.Entry),
		slog.Float64("sl", sig.StopLoss))

	e.machine.OnConfirm(sig, now)
	e.bus.Publish(bus.TopicSignals, sig)
	if e.sinks.Journal != nil {
		if err := e.sinks.Journal.WriteSignal(ctx, sig); err != nil {
			e.log.Error("signal journal", slog.String("err", err.Error()))
		}
	}
	if e.sinks.Publisher != nil {
		e.sinks.Publisher.PublishSignal(ctx, sig)
	}
}

// onTransition is the machine's transition hook. The state snapshot
// arrives with the event; re-reading the machine here would race with
// whatever transition follows.
func (e *Engine) onTransition(from, to model.MTFPhase, st model.MTFState) {
	if e.met != nil {
		e.met.MTFTransitions.WithLabelValues(string(to)).Inc()
	}
	upd := stateUpdate{From: from, To: to, State: st}
	e.bus.Publish(bus.TopicState, upd)
	if e.sinks.StatePublisher != nil {
		payload := []byte(fmt.Sprintf(`{"from":%q,"to":%q}`, from, to))
		e.sinks.StatePublisher.PublishState(context.Background(), payload)
	}
}

// onDecision is the machine's resolution hook: executable cycles produce
// and publish a scalp card.
func (e *Engine) onDecision(dec mtf.Decision) {
	if !dec.Executable {
		return
	}
	e.mu.Lock()
	det := e.det
	e.mu.Unlock()

	card := e.composer.Compose(dec.Signal, dec.Veto, e.micro.Snapshot(),
		string(dec.Confluence.Final.Tier), det.ConfirmPredicate(dec.Signal.Side))
	if e.met != nil {
		e.met.CardsTotal.Inc()
	}
	e.mu.Lock()
	e.lastCard = &card
	e.mu.Unlock()

	e.bus.Publish(bus.TopicSignals, card)
	if e.sinks.CardPublisher != nil {
		e.sinks.CardPublisher.PublishCard(context.Background(), card)
	}
	e.log.Info("scalp card composed",
		slog.String("play", card.Play),
		slog.String("tier", card.Regime))
}
