package model

// Tier classifies a confirmed setup by confluence strength.
type Tier string

const (
	TierA    Tier = "A"
	TierB    Tier = "B"
	TierSkip Tier = "SKIP"
)

// ContextScores are the higher-timeframe sub-scores, each 0–100.
type ContextScores struct {
	EMAAlignment        float64 `json:"ema_alignment"`
	OscillatorAgreement float64 `json:"oscillator_agreement"`
	MacroGate           float64 `json:"macro_gate"`
}

// MicroScores are the lower-timeframe sub-scores, each 0–100.
type MicroScores struct {
	Trigger5m   float64 `json:"trigger_5m"`
	Impulse1m   float64 `json:"impulse_1m"`
	TapeMicro   float64 `json:"tape_micro"`
	VetoHygiene float64 `json:"veto_hygiene"`
}

// ContextGroup is the weighted higher-timeframe confluence group.
type ContextGroup struct {
	Total  float64       `json:"total"`
	Scores ContextScores `json:"scores"`
}

// MicroGroup is the weighted lower-timeframe confluence group.
type MicroGroup struct {
	Total  float64     `json:"total"`
	Scores MicroScores `json:"scores"`
}

// FinalScore is the blended confluence result and its execution tier.
type FinalScore struct {
	FinalScore float64 `json:"final_score"`
	Tier       Tier    `json:"tier"`
}

// Confluence is the full multi-timeframe confluence record for one setup.
type Confluence struct {
	Context ContextGroup `json:"context"`
	Micro   MicroGroup   `json:"micro"`
	Final   FinalScore   `json:"final"`
}

// MTFPhase is a state of the per-instrument state machine.
type MTFPhase string

const (
	PhaseIdle       MTFPhase = "IDLE"
	PhaseCandidate  MTFPhase = "CANDIDATE"
	PhaseConfirming MTFPhase = "CONFIRMING"
	PhaseExecutable MTFPhase = "EXECUTABLE"
	PhaseRejected   MTFPhase = "REJECTED"
	PhaseExpired    MTFPhase = "EXPIRED"
)

// MTFStats counts state-machine outcomes over the session.
type MTFStats struct {
	CandidatesDetected int64 `json:"candidates_detected"`
	CandidatesExpired  int64 `json:"candidates_expired"`
	MicroConfirms      int64 `json:"micro_confirms"`
	MicroRejects       int64 `json:"micro_rejects"`
	Executions         int64 `json:"executions"`
	Vetoes             int64 `json:"vetoes"`
}

// MTFState is the externally visible state-machine record.
type MTFState struct {
	Phase     MTFPhase   `json:"state"`
	Candidate *Candidate `json:"candidate,omitempty"`
	EnteredAt int64      `json:"entered_at"`
	Stats     MTFStats   `json:"stats"`
}
