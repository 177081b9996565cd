package mtf

import (
	"testing"
	"time"

	"solswing/internal/model"
)

func testCandidate() model.Candidate {
	return model.Candidate{
		ExtremumIndex:       60,
		Side:                model.SideLong,
		ExtremumPrice:       95,
		DetectionEpoch:      1000,
		WindowDeadlineEpoch: 2800,
	}
}

func testSignal() model.Signal {
	c := testCandidate()
	return model.Signal{
		Candidate:    c,
		ConfirmIndex: 62,
		ConfirmEpoch: 1600,
		Side:         c.Side,
		Entry:        100,
		StopLoss:     94,
	}
}

// evalReturning builds a stub EvalFunc with a fixed grade.
func evalReturning(ctxTotal, micTotal float64, tier model.Tier, veto model.VetoSet, ready bool) EvalFunc {
	return func(model.Signal) Evaluation {
		return Evaluation{
			Confluence: model.Confluence{
				Context: model.ContextGroup{Total: ctxTotal},
				Micro:   model.MicroGroup{Total: micTotal},
				Final:   model.FinalScore{FinalScore: 0.6*ctxTotal + 0.4*micTotal, Tier: tier},
			},
			Veto:  veto,
			Ready: ready,
		}
	}
}

func TestMachine_ExecutablePath(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	var transitions []model.MTFPhase
	m.OnTransition = func(_, to model.MTFPhase, _ model.MTFState) { transitions = append(transitions, to) }
	var decisions []Decision
	m.OnDecision = func(d Decision) { decisions = append(decisions, d) }

	if m.State().Phase != model.PhaseIdle {
		t.Fatal("machine should start IDLE")
	}

	m.OnCandidate(testCandidate(), 1000)
	if m.State().Phase != model.PhaseCandidate {
		t.Fatalf("phase = %s, want CANDIDATE", m.State().Phase)
	}

	m.OnConfirm(testSignal(), 1600)
	if m.State().Phase != model.PhaseExecutable {
		t.Fatalf("phase = %s, want EXECUTABLE", m.State().Phase)
	}

	if len(decisions) != 1 || !decisions[0].Executable {
		t.Fatalf("decisions = %+v", decisions)
	}

	// Terminal phase drains to IDLE on the next tick.
	m.Tick(1700)
	if m.State().Phase != model.PhaseIdle {
		t.Errorf("phase after drain = %s, want IDLE", m.State().Phase)
	}

	st := m.State().Stats
	if st.CandidatesDetected != 1 || st.MicroConfirms != 1 || st.Executions != 1 {
		t.Errorf("stats = %+v", st)
	}
	want := []model.MTFPhase{model.PhaseCandidate, model.PhaseConfirming, model.PhaseExecutable, model.PhaseIdle}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestMachine_VetoRejects(t *testing.T) {
	var vs model.VetoSet
	vs.Spread = model.VetoCheck{Hit: true, Value: 15, Threshold: 10}
	m := NewMachine(evalReturning(90, 80, model.TierA, vs, true), Config{})

	m.OnCandidate(testCandidate(), 1000)
	m.OnConfirm(testSignal(), 1600)

	if m.State().Phase != model.PhaseRejected {
		t.Fatalf("phase = %s, want REJECTED", m.State().Phase)
	}
	st := m.State().Stats
	if st.Vetoes != 1 || st.Executions != 0 {
		t.Errorf("stats = %+v", st)
	}
	last := m.LastVeto()
	if last.Empty() {
		t.Error("LastVeto should carry the fired set")
	}
}

func TestMachine_LowScoreRejects(t *testing.T) {
	m := NewMachine(evalReturning(30, 20, model.TierSkip, model.VetoSet{}, true), Config{})

	m.OnCandidate(testCandidate(), 1000)
	m.OnConfirm(testSignal(), 1600)

	if m.State().Phase != model.PhaseRejected {
		t.Fatalf("phase = %s, want REJECTED", m.State().Phase)
	}
	if m.State().Stats.MicroRejects != 1 {
		t.Errorf("stats = %+v", m.State().Stats)
	}
}

func TestMachine_ThresholdsGateTier(t *testing.T) {
	// Tier B but the context group misses a raised floor.
	m := NewMachine(evalReturning(55, 70, model.TierB, model.VetoSet{}, true),
		Config{ContextMin: 60, MicroMin: 50, ConfirmTimeoutSec: 300})

	m.OnCandidate(testCandidate(), 1000)
	m.OnConfirm(testSignal(), 1600)

	if m.State().Phase != model.PhaseRejected {
		t.Fatalf("phase = %s, want REJECTED below context_min", m.State().Phase)
	}
	if m.State().Stats.MicroRejects != 1 {
		t.Errorf("stats = %+v", m.State().Stats)
	}
}

func TestMachine_NotReadyWaitsThenExpires(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, false), Config{})

	m.OnCandidate(testCandidate(), 1000)
	m.OnConfirm(testSignal(), 1600)
	if m.State().Phase != model.PhaseConfirming {
		t.Fatalf("phase = %s, want CONFIRMING while inputs missing", m.State().Phase)
	}

	// Within deadline + grace: still waiting.
	m.Tick(2900)
	if m.State().Phase != model.PhaseConfirming {
		t.Fatalf("phase = %s, want CONFIRMING inside the timeout", m.State().Phase)
	}

	// Past WindowDeadlineEpoch + ConfirmTimeoutSec (2800 + 300).
	m.Tick(3200)
	if m.State().Phase != model.PhaseExpired {
		t.Fatalf("phase = %s, want EXPIRED", m.State().Phase)
	}
	if m.State().Stats.CandidatesExpired != 1 {
		t.Errorf("stats = %+v", m.State().Stats)
	}
}

func TestMachine_CandidateWindowExpiry(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	m.OnCandidate(testCandidate(), 1000)
	m.Tick(2000) // inside the window
	if m.State().Phase != model.PhaseCandidate {
		t.Fatalf("phase = %s", m.State().Phase)
	}
	m.Tick(2900) // past WindowDeadlineEpoch=2800
	if m.State().Phase != model.PhaseExpired {
		t.Fatalf("phase = %s, want EXPIRED", m.State().Phase)
	}
	m.Tick(3000)
	if m.State().Phase != model.PhaseIdle {
		t.Errorf("phase = %s, want IDLE after drain", m.State().Phase)
	}
}

func TestMachine_OutOfOrderConfirmViolates(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	m.OnConfirm(testSignal(), 1600) // no candidate admitted
	if m.Violations() != 1 {
		t.Errorf("violations = %d, want 1", m.Violations())
	}
	if m.State().Phase != model.PhaseIdle {
		t.Errorf("phase = %s, want IDLE after reset", m.State().Phase)
	}
}

func TestMachine_MismatchedConfirmViolates(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	m.OnCandidate(testCandidate(), 1000)
	sig := testSignal()
	sig.Candidate.ExtremumIndex = 99
	m.OnConfirm(sig, 1600)

	if m.Violations() != 1 {
		t.Errorf("violations = %d, want 1", m.Violations())
	}
	if m.State().Phase != model.PhaseIdle {
		t.Errorf("phase = %s, want IDLE", m.State().Phase)
	}
}

// Hooks must run with the machine unlocked: an observer that reads the
// machine back (the usual shape for a status fan-out) would otherwise
// stall the event goroutine on the first phase change.
func TestMachine_HooksMayReenterMachine(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	var hookPhases []model.MTFPhase
	m.OnTransition = func(_, to model.MTFPhase, st model.MTFState) {
		m.State() // must not deadlock
		if st.Phase != to {
			t.Errorf("snapshot phase = %s, want %s", st.Phase, to)
		}
		hookPhases = append(hookPhases, to)
	}
	m.OnDecision = func(Decision) {
		last := m.LastVeto()
		if !last.Empty() {
			t.Error("no veto expected")
		}
		m.Confluence()
	}

	done := make(chan struct{})
	go func() {
		m.OnCandidate(testCandidate(), 1000)
		m.OnConfirm(testSignal(), 1600)
		m.Tick(1700)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("machine event blocked inside a hook")
	}

	want := []model.MTFPhase{model.PhaseCandidate, model.PhaseConfirming, model.PhaseExecutable, model.PhaseIdle}
	if len(hookPhases) != len(want) {
		t.Fatalf("hook phases = %v", hookPhases)
	}
	for i := range want {
		if hookPhases[i] != want[i] {
			t.Errorf("hook phase %d = %s, want %s", i, hookPhases[i], want[i])
		}
	}
}

func TestMachine_MidCycleCandidateDropped(t *testing.T) {
	m := NewMachine(evalReturning(90, 80, model.TierA, model.VetoSet{}, true), Config{})

	m.OnCandidate(testCandidate(), 1000)
	second := testCandidate()
	second.ExtremumIndex = 70
	m.OnCandidate(second, 1100)

	st := m.State()
	if st.Stats.CandidatesDetected != 2 {
		t.Errorf("CandidatesDetected = %d, want 2", st.Stats.CandidatesDetected)
	}
	if st.Candidate == nil || st.Candidate.ExtremumIndex != 60 {
		t.Error("the original candidate must survive")
	}
	if m.Violations() != 0 {
		t.Error("mid-cycle candidates are drops, not violations")
	}
}
