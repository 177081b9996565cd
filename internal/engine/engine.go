// Package engine wires the pipeline together and owns its lifecycle: feed
// ingest, bar aggregation, detection, the MTF state machine, micro stream,
// card composition, fan-out and the persistence sinks. The HTTP gateway
// talks to the rest of the system exclusively through this package.
package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"solswing/config"
	"solswing/internal/backtest"
	"solswing/internal/bus"
	"solswing/internal/candlestore"
	"solswing/internal/detector"
	"solswing/internal/marketdata/csvload"
	"solswing/internal/metrics"
	"solswing/internal/micro"
	"solswing/internal/model"
	"solswing/internal/mtf"
	"solswing/internal/scalpcard"
	"solswing/internal/store/sqlite"
	"solswing/internal/veto"
)

// Sinks are the optional persistence attachments. Either may be nil.
type Sinks struct {
	Journal   *sqlite.Writer
	Publisher model.Publisher
	// PublishCard/PublishState extensions, when the publisher supports them.
	CardPublisher  interface{ PublishCard(context.Context, model.ScalpCard) }
	StatePublisher interface{ PublishState(context.Context, []byte) }
}

// Engine owns the pipeline components and their task lifecycles.
type Engine struct {
	cfg   *config.Config
	log   *slog.Logger
	met   *metrics.Metrics
	hlth  *metrics.HealthStatus
	sinks Sinks

	store    *candlestore.Store
	tfs      []model.Timeframe
	tfctx    *mtf.TFContext
	micro    *micro.Stream
	scorer   *mtf.Scorer
	machine  *mtf.Machine
	composer *scalpcard.Composer
	bus      *bus.Bus

	kill      atomic.Bool
	microGate atomic.Bool

	// Shared feed channels: the feed (ws or sim) writes, the live pipeline
	// and the micro stream read.
	tickCh  chan model.Tick
	tradeCh chan model.MicroTrade
	bookCh  chan model.BookSnapshot

	mu         sync.Mutex
	det        *detector.Detector
	lastSignal *model.Signal
	lastCard   *model.ScalpCard
	recent     []model.Signal
	backtests  map[string]*backtest.Result
	lastPrice  float64

	liveCancel   context.CancelFunc
	liveWG       sync.WaitGroup
	streamCancel context.CancelFunc
	streamWG     sync.WaitGroup
	mtfCancel    context.CancelFunc
	mtfWG        sync.WaitGroup
}

// New builds an engine from configuration. Sinks may be zero-valued.
func New(cfg *config.Config, logg *slog.Logger, met *metrics.Metrics, hlth *metrics.HealthStatus, sinks Sinks) (*Engine, error) {
	tfs, err := cfg.ParseTFs()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       logg,
		met:       met,
		hlth:      hlth,
		sinks:     sinks,
		store:     candlestore.New(0, tfs...),
		tfs:       tfs,
		tfctx:     mtf.NewTFContext(),
		micro:     micro.NewStream(0, 0),
		scorer:    mtf.NewScorer(cfg.Params.Weights),
		composer:  scalpcard.NewComposer(cfg.Symbol, cfg.OrderPath, cfg.Params.Veto.SpreadBpsMax),
		bus:       bus.New(0),
		tickCh:    make(chan model.Tick, 4096),
		tradeCh:   make(chan model.MicroTrade, 4096),
		bookCh:    make(chan model.BookSnapshot, 1024),
		det:       detector.New(model.TF5m, cfg.Params.Detector),
		backtests: make(map[string]*backtest.Result),
	}
	e.microGate.Store(cfg.EnableMicroGate)
	e.machine = mtf.NewMachine(e.evaluate, cfg.Params.MTF)
	e.machine.OnTransition = e.onTransition
	e.machine.OnDecision = e.onDecision

	if met != nil {
		e.bus.OnDrop = func(topic bus.Topic) {
			met.BusDropsTotal.WithLabelValues(string(topic)).Inc()
		}
	}
	return e, nil
}

// Bus exposes the event bus for gateway subscriptions.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Store exposes the candle store for read-only queries.
func (e *Engine) Store() *candlestore.Store { return e.store }

// SetKill flips the external kill switch veto.
func (e *Engine) SetKill(v bool) { e.kill.Store(v) }

// Kill reports the kill switch state.
func (e *Engine) Kill() bool { return e.kill.Load() }

// SetMicroGate toggles whether vetoes block signal emission.
func (e *Engine) SetMicroGate(v bool) { e.microGate.Store(v) }

// ── Batch operations ──

// UploadCSV replaces the 5m history with the parsed series and rebuilds the
// detector over it.
func (e *Engine) UploadCSV(r io.Reader) (csvload.Summary, error) {
	bars, sum, err := csvload.Parse(r, e.cfg.MaxCSVRows)
	if err != nil {
		return csvload.Summary{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Reset()
	for _, b := range bars {
		if err := e.store.Append(model.TF5m, b); err != nil {
			e.store.Reset()
			return csvload.Summary{}, err
		}
	}
	e.det = detector.New(model.TF5m, e.cfg.Params.Detector)
	for _, b := range e.store.All(model.TF5m) {
		e.det.OnBar(b)
	}
	e.log.Info("csv loaded", slog.Int("rows", sum.Rows))
	return sum, nil
}

// DataStatus reports whether 5m history is loaded.
func (e *Engine) DataStatus() (bool, int) {
	n := e.store.Size(model.TF5m)
	return n > 0, n
}

// SignalsLatest runs detection over the loaded 5m history with the given
// parameters and returns the most recent signal. E_NoSignal when detection
// finds nothing; when the micro gate is on and the veto set is non-empty,
// the signal is returned alongside the set and an E_Veto error.
func (e *Engine) SignalsLatest(params detector.Params, enableMicroGate bool) (*model.Signal, model.VetoSet, error) {
	if err := params.Validate(); err != nil {
		return nil, model.VetoSet{}, err
	}
	bars := e.store.All(model.TF5m)
	sigs, err := detector.DetectSeries(model.TF5m, params, bars)
	if err != nil {
		return nil, model.VetoSet{}, err
	}
	if len(sigs) == 0 {
		return nil, model.VetoSet{}, model.Errf(model.ENoSignal, "no signal")
	}
	sig := sigs[len(sigs)-1]

	if enableMicroGate {
		vs := e.vetoNow(&sig)
		if !vs.Empty() {
			return &sig, vs, model.Errf(model.EVeto, "signal vetoed: %v", vs.Reasons())
		}
	}
	return &sig, model.VetoSet{}, nil
}

// ScalpCard composes a card for the current signal. With the micro gate on
// and force off, a non-empty veto set blocks composition.
func (e *Engine) ScalpCard(enableMicroGate, force bool) (*model.ScalpCard, model.VetoSet, error) {
	e.mu.Lock()
	sig := e.lastSignal
	det := e.det
	e.mu.Unlock()

	if sig == nil {
		// No live signal yet; fall back to batch detection.
		s, _, err := e.SignalsLatest(e.cfg.Params.Detector, false)
		if err != nil {
			return nil, model.VetoSet{}, err
		}
		sig = s
	}

	vs := e.vetoNow(sig)
	if enableMicroGate && !force && !vs.Empty() {
		return nil, vs, model.Errf(model.EVeto, "vetoed")
	}

	conf := e.machine.Confluence()
	card := e.composer.Compose(*sig, vs, e.micro.Snapshot(),
		string(conf.Final.Tier), det.ConfirmPredicate(sig.Side))
	if e.met != nil {
		e.met.CardsTotal.Inc()
	}
	e.mu.Lock()
	e.lastCard = &card
	e.mu.Unlock()
	return &card, vs, nil
}

// StreamSnapshot returns the current micro snapshot.
func (e *Engine) StreamSnapshot() model.MicroSnapshot {
	snap := e.micro.Snapshot()
	if e.met != nil && snap.EpochMicros > 0 {
		age := float64(time.Now().UnixMicro()-snap.EpochMicros) / 1e6
		e.met.MicroStaleSeconds.Set(age)
	}
	return snap
}

// RunBacktest executes a run over the loaded 5m history and journals it.
func (e *Engine) RunBacktest(ctx context.Context, bcfg backtest.Config, params detector.Params) (*backtest.Result, error) {
	sim, err := backtest.New(bcfg, params)
	if err != nil {
		return nil, err
	}
	bars := e.store.All(model.TF5m)

	start := time.Now()
	res, err := sim.Run(ctx, model.TF5m, bars)
	if res != nil {
		e.mu.Lock()
		e.backtests[res.RunID] = res
		e.mu.Unlock()
		if e.met != nil {
			e.met.BacktestRunsTotal.Inc()
			e.met.BacktestRunSeconds.Observe(time.Since(start).Seconds())
		}
		if e.sinks.Journal != nil {
			stats, _ := json.Marshal(res.Stats)
			if jerr := e.sinks.Journal.WriteBacktest(ctx, res.RunID, stats, res.Trades); jerr != nil {
				e.log.Error("backtest journal", slog.String("err", jerr.Error()))
			}
		}
	}
	return res, err
}

// BacktestResult returns a stored run by id.
func (e *Engine) BacktestResult(id string) (*backtest.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.backtests[id]
	return res, ok
}

// RecentSignals returns the signals emitted this session, oldest-first.
func (e *Engine) RecentSignals() []model.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Signal, len(e.recent))
	copy(out, e.recent)
	return out
}

// MTFState returns the state machine record.
func (e *Engine) MTFState() model.MTFState { return e.machine.State() }

// MTFConfluence returns the latest confluence record.
func (e *Engine) MTFConfluence() model.Confluence { return e.machine.Confluence() }

// ── Veto evaluation ──

// vetoNow evaluates the veto set against the current bar, indicator values
// and micro snapshot.
func (e *Engine) vetoNow(sig *model.Signal) model.VetoSet {
	e.mu.Lock()
	det := e.det
	e.mu.Unlock()

	in := veto.Input{
		Micro: e.micro.Snapshot(),
		Kill:  e.kill.Load(),
	}
	if sig != nil {
		in.Side = sig.Side
		in.Entry = sig.Entry
		in.StopLoss = sig.StopLoss
	}
	if n := det.Engine().Len(); n > 0 {
		in.Bar = det.Engine().Bar(n - 1)
		in.Vals = det.Engine().At(n - 1)
	}
	vs := veto.Evaluate(in, e.cfg.Params.Veto)
	if e.met != nil {
		for _, r := range vs.Reasons() {
			e.met.VetoesTotal.WithLabelValues(string(r)).Inc()
		}
	}
	return vs
}

// evaluate is the machine's EvalFunc: grade a confirmed signal.
func (e *Engine) evaluate(sig model.Signal) mtf.Evaluation {
	snap := e.micro.Snapshot()
	gate := e.microGate.Load()
	if gate && !snap.Available {
		// Wait for the micro stream within the confirm timeout.
		return mtf.Evaluation{}
	}

	e.mu.Lock()
	det := e.det
	e.mu.Unlock()

	var vs model.VetoSet
	if gate {
		vs = e.vetoNow(&sig)
	}

	atr5 := math.NaN()
	if sig.ConfirmIndex < det.Engine().Len() {
		atr5 = det.Engine().At(sig.ConfirmIndex).ATR5
	}
	in := mtf.ScoreInputs{
		Side:             sig.Side,
		TriggerExcessATR: mtf.TriggerQuality(sig, atr5, det.Params().BreakoutATRMult),
		Micro:            snap,
		Veto:             vs,
	}
	e.tfctx.Fill(&in)

	return mtf.Evaluation{
		Confluence: e.scorer.Score(in),
		Veto:       vs,
		Ready:      true,
	}
}
