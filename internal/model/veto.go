package model

// VetoReason identifies one of the seven pre-flight checks.
// The names are part of the stable contract.
type VetoReason string

const (
	VetoDepth      VetoReason = "depth"
	VetoImbalance  VetoReason = "imbalance"
	VetoOBV        VetoReason = "obv"
	VetoKill       VetoReason = "kill"
	VetoSpread     VetoReason = "spread"
	VetoRSIExtreme VetoReason = "rsi_extreme"
	VetoLiqGap     VetoReason = "liq_gap"
)

// VetoCheck is the evidence for one veto reason: whether it fired, the
// observed value and the threshold it was compared against.
type VetoCheck struct {
	Hit       bool    `json:"hit"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// VetoSet is the fixed record of all seven veto checks.
// An empty set (no check hit) means the signal passes.
type VetoSet struct {
	Depth      VetoCheck `json:"depth"`
	Imbalance  VetoCheck `json:"imbalance"`
	OBV        VetoCheck `json:"obv"`
	Kill       VetoCheck `json:"kill"`
	Spread     VetoCheck `json:"spread"`
	RSIExtreme VetoCheck `json:"rsi_extreme"`
	LiqGap     VetoCheck `json:"liq_gap"`
}

// Empty reports whether no veto fired.
func (v *VetoSet) Empty() bool { return v.Count() == 0 }

// Count returns the number of fired vetoes.
func (v *VetoSet) Count() int {
	n := 0
	for _, c := range v.checks() {
		if c.check.Hit {
			n++
		}
	}
	return n
}

// Reasons returns the fired reasons in stable order.
func (v *VetoSet) Reasons() []VetoReason {
	var out []VetoReason
	for _, c := range v.checks() {
		if c.check.Hit {
			out = append(out, c.reason)
		}
	}
	return out
}

// Map projects the fired checks into a reason→value mapping.
// Used only at the transport edge.
func (v *VetoSet) Map() map[string]float64 {
	out := make(map[string]float64)
	for _, c := range v.checks() {
		if c.check.Hit {
			out[string(c.reason)] = c.check.Value
		}
	}
	return out
}

type reasonCheck struct {
	reason VetoReason
	check  VetoCheck
}

func (v *VetoSet) checks() []reasonCheck {
	return []reasonCheck{
		{VetoDepth, v.Depth},
		{VetoImbalance, v.Imbalance},
		{VetoOBV, v.OBV},
		{VetoKill, v.Kill},
		{VetoSpread, v.Spread},
		{VetoRSIExtreme, v.RSIExtreme},
		{VetoLiqGap, v.LiqGap},
	}
}
