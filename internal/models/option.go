// Package models defines the option position data model shared by the
// ledger loader, the valuation engine and the reporting layer.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SharesPerContract is the standard equity option contract multiplier.
const SharesPerContract = 100.0

// OptionType identifies the side of an option contract.
type OptionType string

const (
	// Call is the right to buy the underlying at the strike.
	Call OptionType = "CALL"
	// Put is the right to sell the underlying at the strike.
	Put OptionType = "PUT"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// ParseOptionType parses a CALL/PUT token from an instrument description.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL":
		return Call, nil
	case "PUT":
		return Put, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// OptionLeg is a single option position: one row per
// account/ticker/expiration/strike/type, with a signed contract count.
// Positive Count is long (owns the right), negative is short (sold the
// obligation).
//
// Price fields are populated from external feeds before the engine runs.
// PriceKnown reports whether UnderlyingPrice was resolved; a leg without an
// underlying price cannot be valued and is excluded from spread matching.
// A missing option quote is tolerated and left at zero.
type OptionLeg struct {
	Account    string     `json:"account"`
	Ticker     string     `json:"ticker"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Count      int        `json:"count"`
	Multiplier float64    `json:"multiplier"`
	// IsIndex marks cash-settled index instruments (SPX, SMI) which use a
	// different exercise sign convention than physically settled equities.
	IsIndex bool `json:"is_index"`

	UnderlyingPrice float64 `json:"underlying_price"`
	PriceKnown      bool    `json:"price_known"`
	// Quote is the current mark price of the option itself, per share.
	Quote float64 `json:"quote"`
	// ContractPrice is the average opening price paid/received per share,
	// derived from ledger history.
	ContractPrice float64 `json:"contract_price"`
	// OpenedAt is the earliest ledger transaction date for this instrument,
	// zero when unknown. Used as the start of a box spread's loan term.
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Description renders the leg's instrument name in the ledger grammar:
// "<TICKER> <EXPIRATION> <STRIKE> <CALL|PUT>".
func (l OptionLeg) Description() string {
	return fmt.Sprintf("%s %s %s %s",
		l.Ticker, l.Expiration.Format("2006-01-02"), trimFloat(l.Strike), l.Type)
}

// Key identifies the unique position a leg belongs to. Duplicate legs with
// the same key are aggregated by summing Count before classification.
type Key struct {
	Account    string
	Ticker     string
	Type       OptionType
	Strike     float64
	Expiration time.Time
}

// Key returns the leg's aggregation key.
func (l OptionLeg) Key() Key {
	return Key{
		Account:    l.Account,
		Ticker:     l.Ticker,
		Type:       l.Type,
		Strike:     l.Strike,
		Expiration: l.Expiration,
	}
}

// GroupKey identifies the (account, ticker, expiration) scope a multi-leg
// strategy must be contained in.
type GroupKey struct {
	Account    string
	Ticker     string
	Expiration time.Time
}

// GroupKey returns the leg's strategy scope key.
func (l OptionLeg) GroupKey() GroupKey {
	return GroupKey{Account: l.Account, Ticker: l.Ticker, Expiration: l.Expiration}
}

// CostBasis is the signed total opening cost of the leg.
func (l OptionLeg) CostBasis() float64 {
	return l.ContractPrice * float64(l.Count) * l.Multiplier
}

// MarketValue is the signed current market value of the leg based on its
// quote. Zero when no quote is available.
func (l OptionLeg) MarketValue() float64 {
	return l.Quote * float64(l.Count) * l.Multiplier
}

// WithCount returns a copy of the leg with Count replaced. Used when a
// partially matched position is split into a spread portion and a remainder.
func (l OptionLeg) WithCount(count int) OptionLeg {
	l.Count = count
	return l
}

// Validate checks the leg invariants. A violation is a programmer error, not
// bad market data.
func (l OptionLeg) Validate() error {
	if l.Account == "" {
		return fmt.Errorf("leg %s: account is required", l.Description())
	}
	if l.Ticker == "" {
		return fmt.Errorf("option leg: ticker is required")
	}
	if !l.Type.Valid() {
		return fmt.Errorf("leg %s: invalid option type %q", l.Description(), l.Type)
	}
	if l.Strike <= 0 {
		return fmt.Errorf("leg %s: strike must be > 0", l.Description())
	}
	if l.Count == 0 {
		return fmt.Errorf("leg %s: count must be non-zero", l.Description())
	}
	if l.Multiplier <= 0 {
		return fmt.Errorf("leg %s: multiplier must be > 0", l.Description())
	}
	if l.Expiration.IsZero() {
		return fmt.Errorf("leg %s: expiration is required", l.Description())
	}
	return nil
}

// AggregateLegs merges legs sharing the same Key by summing their counts,
// preserving first-seen order. Legs whose counts cancel to zero are dropped.
func AggregateLegs(legs []OptionLeg) []OptionLeg {
	byKey := make(map[Key]int, len(legs))
	order := make([]Key, 0, len(legs))
	first := make(map[Key]OptionLeg, len(legs))
	for _, leg := range legs {
		k := leg.Key()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
			first[k] = leg
		}
		byKey[k] += leg.Count
	}
	out := make([]OptionLeg, 0, len(order))
	for _, k := range order {
		if byKey[k] == 0 {
			continue
		}
		leg := first[k]
		leg.Count = byKey[k]
		out = append(out, leg)
	}
	return out
}

// SortLegs orders legs by account, expiration, then instrument name,
// matching the ledger report order. Sorting is stable so aggregation order
// breaks remaining ties.
func SortLegs(legs []OptionLeg) []OptionLeg {
	sorted := make([]OptionLeg, len(legs))
	copy(sorted, legs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if !a.Expiration.Equal(b.Expiration) {
			return a.Expiration.Before(b.Expiration)
		}
		return a.Description() < b.Description()
	})
	return sorted
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
