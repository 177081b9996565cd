package mtf

import (
	"context"
	"log"
	"sync"
	"time"

	"solswing/internal/model"
)

// Config holds the machine's decision thresholds.
type Config struct {
	// ContextMin and MicroMin are the group totals a confirmed signal
	// must reach to become executable.
	ContextMin float64 `yaml:"context_min" json:"context_min"`
	MicroMin   float64 `yaml:"micro_min" json:"micro_min"`
	// ConfirmTimeoutSec bounds how long CONFIRMING may wait for
	// evaluation inputs past the candidate window deadline.
	ConfirmTimeoutSec int64 `yaml:"confirm_timeout_sec" json:"confirm_timeout_sec"`
}

// DefaultConfig returns the stock thresholds (one 5m bar of grace).
func DefaultConfig() Config {
	return Config{ContextMin: 50, MicroMin: 50, ConfirmTimeoutSec: 300}
}

// Evaluation is the outcome of grading a confirmed signal. Ready is false
// when required inputs (the micro snapshot, typically) are not yet
// available; the machine stays in CONFIRMING and retries on the next tick.
type Evaluation struct {
	Confluence model.Confluence
	Veto       model.VetoSet
	Ready      bool
}

// EvalFunc grades a confirmed signal. Called from the machine's event
// goroutine; must not block.
type EvalFunc func(sig model.Signal) Evaluation

// Decision is the record the machine emits when a cycle resolves.
type Decision struct {
	Signal     model.Signal     `json:"signal"`
	Confluence model.Confluence `json:"confluence"`
	Veto       model.VetoSet    `json:"veto"`
	Executable bool             `json:"executable"`
}

// phaseChange is a queued OnTransition delivery, with the state snapshot
// taken at the moment of the change.
type phaseChange struct {
	from  model.MTFPhase
	to    model.MTFPhase
	state model.MTFState
}

// hookBatch collects hook payloads produced under the lock. They are
// delivered only after the lock is released, so hooks may call back into
// the machine and may do slow work (publish, persist) without holding up
// the event goroutine's critical section.
type hookBatch struct {
	changes   []phaseChange
	decisions []Decision
}

// Machine is the per-instrument lifecycle gate:
//
//	IDLE → CANDIDATE → CONFIRMING → EXECUTABLE | REJECTED
//	              \→ EXPIRED (window deadline)   /
//
// Terminal phases drain back to IDLE on the next tick. Out-of-order events
// are invariant violations: the machine logs a stable code, counts it and
// resets to IDLE rather than guessing.
type Machine struct {
	mu        sync.Mutex
	phase     model.MTFPhase
	cand      *model.Candidate
	pending   *model.Signal
	enteredAt int64
	stats     model.MTFStats
	conf      model.Confluence
	veto      model.VetoSet

	violations int64
	queued     hookBatch

	eval EvalFunc
	cfg  Config

	// OnTransition fires on every phase change with the state snapshot
	// taken at the change. Invoked outside the machine lock, so the hook
	// may call State, Confluence or LastVeto.
	OnTransition func(from, to model.MTFPhase, st model.MTFState)
	// OnDecision fires when a CONFIRMING cycle resolves either way.
	// Invoked outside the machine lock, after any queued transitions.
	OnDecision func(Decision)
}

// NewMachine creates a machine in IDLE. Zero-valued cfg fields fall back
// to the defaults.
func NewMachine(eval EvalFunc, cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.ContextMin <= 0 {
		cfg.ContextMin = def.ContextMin
	}
	if cfg.MicroMin <= 0 {
		cfg.MicroMin = def.MicroMin
	}
	if cfg.ConfirmTimeoutSec <= 0 {
		cfg.ConfirmTimeoutSec = def.ConfirmTimeoutSec
	}
	return &Machine{
		phase: model.PhaseIdle,
		eval:  eval,
		cfg:   cfg,
	}
}

// OnCandidate admits a screened extremum. Only an IDLE machine picks it up;
// candidates arriving mid-cycle are counted and dropped.
func (m *Machine) OnCandidate(c model.Candidate, nowEpoch int64) {
	m.mu.Lock()
	m.stats.CandidatesDetected++
	if m.phase != model.PhaseIdle {
		phase := m.phase
		m.mu.Unlock()
		log.Printf("[mtf] candidate epoch=%d ignored in phase %s", c.DetectionEpoch, phase)
		return
	}
	m.cand = &c
	m.setPhase(model.PhaseCandidate, nowEpoch)
	hb := m.flush()
	m.mu.Unlock()
	m.deliver(hb)
}

// OnConfirm admits a Stage-2 confirmation. Legal only from CANDIDATE; any
// other phase is an invariant violation and resets the machine.
func (m *Machine) OnConfirm(sig model.Signal, nowEpoch int64) {
	m.mu.Lock()
	switch {
	case m.phase != model.PhaseCandidate:
		m.invariant("confirm_without_candidate", nowEpoch)
	case m.cand != nil && sig.Candidate.ExtremumIndex != m.cand.ExtremumIndex:
		m.invariant("confirm_candidate_mismatch", nowEpoch)
	default:
		m.stats.MicroConfirms++
		m.pending = &sig
		m.setPhase(model.PhaseConfirming, nowEpoch)
		m.evaluateLocked(nowEpoch)
	}
	hb := m.flush()
	m.mu.Unlock()
	m.deliver(hb)
}

// Tick advances time-driven transitions: candidate expiry, confirming
// re-evaluation and timeout, and draining terminal phases back to IDLE.
func (m *Machine) Tick(nowEpoch int64) {
	m.mu.Lock()
	switch m.phase {
	case model.PhaseCandidate:
		if m.cand != nil && nowEpoch > m.cand.WindowDeadlineEpoch {
			m.stats.CandidatesExpired++
			m.setPhase(model.PhaseExpired, nowEpoch)
		}
	case model.PhaseConfirming:
		if !m.evaluateLocked(nowEpoch) &&
			m.cand != nil && nowEpoch > m.cand.WindowDeadlineEpoch+m.cfg.ConfirmTimeoutSec {
			m.stats.CandidatesExpired++
			m.setPhase(model.PhaseExpired, nowEpoch)
		}
	case model.PhaseExecutable, model.PhaseRejected, model.PhaseExpired:
		m.cand = nil
		m.pending = nil
		m.setPhase(model.PhaseIdle, nowEpoch)
	}
	hb := m.flush()
	m.mu.Unlock()
	m.deliver(hb)
}

// evaluateLocked grades the pending signal; returns true when the cycle
// resolved. Caller holds m.mu.
func (m *Machine) evaluateLocked(nowEpoch int64) bool {
	if m.pending == nil || m.eval == nil {
		m.invariant("confirming_without_signal", nowEpoch)
		return true
	}
	ev := m.eval(*m.pending)
	if !ev.Ready {
		return false
	}
	m.conf = ev.Confluence
	m.veto = ev.Veto

	dec := Decision{Signal: *m.pending, Confluence: ev.Confluence, Veto: ev.Veto}
	pass := ev.Confluence.Context.Total >= m.cfg.ContextMin &&
		ev.Confluence.Micro.Total >= m.cfg.MicroMin &&
		ev.Confluence.Final.Tier != model.TierSkip
	switch {
	case !ev.Veto.Empty():
		m.stats.Vetoes++
		m.setPhase(model.PhaseRejected, nowEpoch)
	case !pass:
		m.stats.MicroRejects++
		m.setPhase(model.PhaseRejected, nowEpoch)
	default:
		m.stats.Executions++
		dec.Executable = true
		m.setPhase(model.PhaseExecutable, nowEpoch)
	}
	m.queued.decisions = append(m.queued.decisions, dec)
	return true
}

// invariant records an out-of-order event and resets to IDLE.
func (m *Machine) invariant(code string, nowEpoch int64) {
	m.violations++
	log.Printf("[mtf] invariant violation %s in phase %s, resetting", code, m.phase)
	m.cand = nil
	m.pending = nil
	m.setPhase(model.PhaseIdle, nowEpoch)
}

// setPhase records the change and queues the hook delivery. Caller holds
// m.mu; the hooks themselves run only after it is released.
func (m *Machine) setPhase(to model.MTFPhase, nowEpoch int64) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	m.enteredAt = nowEpoch
	m.queued.changes = append(m.queued.changes, phaseChange{from: from, to: to, state: m.stateLocked()})
}

// flush takes the queued hook payloads. Caller holds m.mu.
func (m *Machine) flush() hookBatch {
	hb := m.queued
	m.queued = hookBatch{}
	return hb
}

// deliver invokes the hooks, transitions first in order, then decisions.
// Must be called without m.mu held.
func (m *Machine) deliver(hb hookBatch) {
	if m.OnTransition != nil {
		for _, pc := range hb.changes {
			m.OnTransition(pc.from, pc.to, pc.state)
		}
	}
	if m.OnDecision != nil {
		for _, d := range hb.decisions {
			m.OnDecision(d)
		}
	}
}

func (m *Machine) stateLocked() model.MTFState {
	st := model.MTFState{
		Phase:     m.phase,
		EnteredAt: m.enteredAt,
		Stats:     m.stats,
	}
	if m.cand != nil {
		c := *m.cand
		st.Candidate = &c
	}
	return st
}

// State returns a copy of the externally visible record.
func (m *Machine) State() model.MTFState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Violations returns the invariant violation count.
func (m *Machine) Violations() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violations
}

// Confluence returns the most recently computed confluence record.
func (m *Machine) Confluence() model.Confluence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conf
}

// LastVeto returns the veto set from the most recent evaluation.
func (m *Machine) LastVeto() model.VetoSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.veto
}

// Run consumes candidate and signal events and drives time transitions on
// tickEvery until ctx is cancelled.
func (m *Machine) Run(ctx context.Context, candCh <-chan model.Candidate, sigCh <-chan model.Signal, tickEvery time.Duration) {
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candCh:
			if !ok {
				candCh = nil
				continue
			}
			m.OnCandidate(c, time.Now().Unix())
		case s, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			m.OnConfirm(s, time.Now().Unix())
		case t := <-ticker.C:
			m.Tick(t.Unix())
		}
	}
}
