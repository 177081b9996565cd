// Package scalpcard projects a confirmed signal into an immutable execution
// sheet. Composition is a pure function of its inputs; once built, a card
// never changes with later micro updates.
package scalpcard

import (
	"math"

	"solswing/internal/model"
)

// Composer holds the static card fields.
type Composer struct {
	symbol    string
	orderPath string
	// SpreadBpsMax mirrors the veto spread ceiling for the spread_ok check.
	spreadBpsMax float64
}

// NewComposer creates a composer. orderPath is the fixed venue/route string
// carried verbatim onto every card.
func NewComposer(symbol, orderPath string, spreadBpsMax float64) *Composer {
	if spreadBpsMax <= 0 {
		spreadBpsMax = 10
	}
	return &Composer{symbol: symbol, orderPath: orderPath, spreadBpsMax: spreadBpsMax}
}

// Round4 rounds a price to 4 decimal places, the card-wide convention.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Compose builds a card from a confirmed signal, the veto evidence and the
// micro snapshot captured at composition time. regime labels the prevailing
// higher-timeframe read (the confluence tier in practice); confirm is the
// rendered Stage-2 predicate.
func (c *Composer) Compose(sig model.Signal, veto model.VetoSet, micro model.MicroSnapshot, regime, confirm string) model.ScalpCard {
	play := "LONG"
	if sig.Side == model.SideShort {
		play = "SHORT"
	}
	spreadOK := micro.Available && micro.SpreadBps < c.spreadBpsMax

	return model.ScalpCard{
		Symbol:    c.symbol,
		Play:      play,
		Regime:    regime,
		SizeTag:   sig.SizeTag,
		Entry:     Round4(sig.Entry),
		SL:        Round4(sig.StopLoss),
		TP1:       Round4(sig.TP1),
		TP2:       Round4(sig.TP2),
		TP3:       Round4(sig.TP3),
		TrailRule: sig.TrailRule,
		OrderPath: c.orderPath,
		Confirm:   confirm,
		Indices: model.CardIndices{
			ExtremumIdx: sig.Candidate.ExtremumIndex,
			ConfirmIdx:  sig.ConfirmIndex,
		},
		Checks: model.CardChecks{
			SpreadOK:  spreadOK,
			MicroVeto: veto,
		},
		Attempts: sig.Attempts,
	}
}
