package model

import "fmt"

// Timeframe is a bar width in seconds.
type Timeframe int64

const (
	TF1s  Timeframe = 1
	TF5s  Timeframe = 5
	TF1m  Timeframe = 60
	TF5m  Timeframe = 300
	TF15m Timeframe = 900
	TF1h  Timeframe = 3600
	TF4h  Timeframe = 14400
	TF1d  Timeframe = 86400
)

// AllTimeframes lists every supported timeframe, ascending.
var AllTimeframes = []Timeframe{TF1s, TF5s, TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}

// Seconds returns the bar width in seconds.
func (tf Timeframe) Seconds() int64 { return int64(tf) }

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	for _, t := range AllTimeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Bucket returns the bucket start epoch (seconds) for a timestamp in
// microseconds.
func (tf Timeframe) Bucket(epochMicros int64) int64 {
	sec := epochMicros / 1_000_000
	return sec - sec%int64(tf)
}

// Align returns the bucket start for an epoch already in seconds.
func (tf Timeframe) Align(epochSec int64) int64 {
	return epochSec - epochSec%int64(tf)
}

func (tf Timeframe) String() string {
	switch tf {
	case TF1s:
		return "1s"
	case TF5s:
		return "5s"
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF1h:
		return "1h"
	case TF4h:
		return "4h"
	case TF1d:
		return "1d"
	}
	return fmt.Sprintf("%ds", int64(tf))
}
