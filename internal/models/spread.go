package models

import (
	"fmt"
	"time"
)

// SpreadType tags a matched multi-leg strategy.
type SpreadType string

const (
	// BoxSpread is a 4-leg synthetic loan on a cash-settled index.
	BoxSpread SpreadType = "box"
	// BullPutSpread is a defined-risk bullish put vertical.
	BullPutSpread SpreadType = "bull_put"
	// BearCallSpread is a defined-risk bearish call vertical.
	BearCallSpread SpreadType = "bear_call"
	// BullCallSpread is a defined-risk bullish call vertical.
	BullCallSpread SpreadType = "bull_call"
	// IronCondor is a bull put spread plus a bear call spread on the same
	// underlying and expiration.
	IronCondor SpreadType = "iron_condor"
	// Synthetic is a call/put pair at the same strike mimicking a stock
	// position. Its risk is unbounded.
	Synthetic SpreadType = "synthetic"
)

// Valid returns true if the SpreadType is one of the defined constants.
func (t SpreadType) Valid() bool {
	switch t {
	case BoxSpread, BullPutSpread, BearCallSpread, BullCallSpread, IronCondor, Synthetic:
		return true
	default:
		return false
	}
}

// SpreadGroup is an ordered set of 2 or 4 legs forming one strategy. All
// legs share account, ticker and expiration. A leg consumed into a group is
// removed from the matching pool and cannot appear in another group.
type SpreadGroup struct {
	Type SpreadType  `json:"type"`
	Legs []OptionLeg `json:"legs"`
}

// Account returns the owning account shared by all legs.
func (g SpreadGroup) Account() string { return g.Legs[0].Account }

// Ticker returns the underlying symbol shared by all legs.
func (g SpreadGroup) Ticker() string { return g.Legs[0].Ticker }

// Expiration returns the expiration shared by all legs.
func (g SpreadGroup) Expiration() time.Time { return g.Legs[0].Expiration }

// LowStrike returns the minimum strike across legs.
func (g SpreadGroup) LowStrike() float64 {
	low := g.Legs[0].Strike
	for _, leg := range g.Legs[1:] {
		if leg.Strike < low {
			low = leg.Strike
		}
	}
	return low
}

// HighStrike returns the maximum strike across legs.
func (g SpreadGroup) HighStrike() float64 {
	high := g.Legs[0].Strike
	for _, leg := range g.Legs[1:] {
		if leg.Strike > high {
			high = leg.Strike
		}
	}
	return high
}

// ContractCount returns the spread unit count: the maximum absolute count
// across legs.
func (g SpreadGroup) ContractCount() int {
	max := 0
	for _, leg := range g.Legs {
		n := leg.Count
		if n < 0 {
			n = -n
		}
		if n > max {
			max = n
		}
	}
	return max
}

// Multiplier returns the contract multiplier shared by the legs.
func (g SpreadGroup) Multiplier() float64 { return g.Legs[0].Multiplier }

// Validate checks the group's structural invariants.
func (g SpreadGroup) Validate() error {
	if !g.Type.Valid() {
		return fmt.Errorf("spread group: invalid type %q", g.Type)
	}
	if len(g.Legs) != 2 && len(g.Legs) != 4 {
		return fmt.Errorf("%s group: must have 2 or 4 legs, got %d", g.Type, len(g.Legs))
	}
	scope := g.Legs[0].GroupKey()
	for _, leg := range g.Legs {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("%s group: %w", g.Type, err)
		}
		if leg.GroupKey() != scope {
			return fmt.Errorf("%s group: legs cross account/ticker/expiration scope", g.Type)
		}
	}
	return nil
}

// NakedKind classifies an unmatched leg by sign of count and option type.
type NakedKind string

const (
	// ShortCall is a sold call with no matched partner leg.
	ShortCall NakedKind = "short_call"
	// LongCall is an owned call with no matched partner leg.
	LongCall NakedKind = "long_call"
	// ShortPut is a sold put with no matched partner leg.
	ShortPut NakedKind = "short_put"
	// LongPut is an owned put with no matched partner leg.
	LongPut NakedKind = "long_put"
)

// NakedPosition is a single leg left over after spread matching.
type NakedPosition struct {
	Kind NakedKind `json:"kind"`
	Leg  OptionLeg `json:"leg"`
}

// ClassifyNakedKind derives the NakedKind from a leg's type and count sign.
func ClassifyNakedKind(leg OptionLeg) NakedKind {
	switch {
	case leg.Type == Call && leg.Count < 0:
		return ShortCall
	case leg.Type == Call:
		return LongCall
	case leg.Count < 0:
		return ShortPut
	default:
		return LongPut
	}
}
