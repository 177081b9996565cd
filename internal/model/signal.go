package model

import "encoding/json"

// Side is the direction of a candidate or signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Candidate is a potential swing extremum that passed Stage 1 screening.
// It lives until Stage 2 confirms it, the confirm window closes, or the
// state machine rejects it.
type Candidate struct {
	ExtremumIndex       int     `json:"extremum_index"`
	Side                Side    `json:"side"`
	ExtremumPrice       float64 `json:"extremum_price"`
	DetectionEpoch      int64   `json:"detection_epoch"`
	WindowDeadlineEpoch int64   `json:"window_deadline_epoch"`
}

// Signal is a confirmed candidate with executable order parameters.
// Immutable once emitted.
type Signal struct {
	Candidate    Candidate `json:"candidate"`
	ConfirmIndex int       `json:"confirm_index"`
	ConfirmEpoch int64     `json:"confirm_epoch"`
	Side         Side      `json:"side"`
	Entry        float64   `json:"entry"`
	StopLoss     float64   `json:"stop_loss"`
	TP1          float64   `json:"tp1"`
	TP2          float64   `json:"tp2"`
	TP3          float64   `json:"tp3"`
	SizeTag      string    `json:"size_tag"`
	Attempts     int       `json:"attempts"`
	TrailRule    string    `json:"trail_rule"`
}

// Risk returns the R unit: distance between entry and stop.
func (s *Signal) Risk() float64 {
	r := s.Entry - s.StopLoss
	if r < 0 {
		r = -r
	}
	return r
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// MicroSnapshot is an atomic view of the microstructure state.
// Replaced wholesale on every update; never mutated after publication.
type MicroSnapshot struct {
	EpochMicros     int64   `json:"epoch_micros"`
	Mid             float64 `json:"mid"`
	Bid             float64 `json:"bid"`
	Ask             float64 `json:"ask"`
	SpreadBps       float64 `json:"spread_bps"`
	BidDepth        float64 `json:"bid_depth"`
	AskDepth        float64 `json:"ask_depth"`
	LadderImbalance float64 `json:"ladder_imbalance"`
	CVD             float64 `json:"cvd"`
	CVDSlope        float64 `json:"cvd_slope"`
	LastTradePrice  float64 `json:"last_trade_price"`
	Available       bool    `json:"available"`
}

// JSON returns the JSON-encoded snapshot.
func (m *MicroSnapshot) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}
