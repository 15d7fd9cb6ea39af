// Package valuation computes per-leg economics from a resolved price
// snapshot. It is pure: prices arrive on the leg itself, never from an
// ambient cache.
package valuation

import (
	"math"

	"github.com/kdufour/optworth/internal/models"
	"github.com/kdufour/optworth/internal/util"
)

// priceTick is the increment per-share prices are quoted at.
const priceTick = 0.01

// LegValuation holds the derived valuation fields for a single leg.
type LegValuation struct {
	InTheMoney bool `json:"in_the_money"`
	// IntrinsicValue is the signed value of exercising today, zero when out
	// of the money.
	IntrinsicValue float64 `json:"intrinsic_value"`
	// ExerciseValue is the signed cash impact if the leg is exercised or
	// assigned today. For physically settled tickers this is the cash that
	// changes hands at the strike; for cash-settled index tickers it is the
	// settlement difference.
	ExerciseValue float64 `json:"exercise_value"`
	// NotionalValue is the unsigned exposure size: strike * |count| * multiplier.
	NotionalValue float64 `json:"notional_value"`
	// MinContractPrice is the minimum per-share price a rational holder
	// would accept, rounded up to the quote tick; zero when out of the
	// money.
	MinContractPrice float64 `json:"min_contract_price"`
	// MarketValue is quote * count * multiplier, zero when no quote exists.
	MarketValue float64 `json:"market_value"`
	// Value is the larger magnitude of IntrinsicValue and MarketValue with
	// the sign of the position: a position is worth at least its intrinsic
	// value even when quotes are stale or missing.
	Value float64 `json:"value"`
	// Profit is Value minus the leg's cost basis.
	Profit float64 `json:"profit"`
	// StockProfit is the profit relative to having held the underlying
	// instead, zero when out of the money. Reported for covered decisions
	// on physically settled legs.
	StockProfit float64 `json:"stock_profit"`
}

// Value computes the valuation for one leg. It fails with MissingPriceError
// when the leg's underlying price was not resolved; such legs are excluded
// from spread matching and reported as unvalued.
func Value(leg models.OptionLeg) (LegValuation, error) {
	if !leg.PriceKnown {
		return LegValuation{}, &models.MissingPriceError{
			Ticker:     leg.Ticker,
			Instrument: leg.Description(),
		}
	}

	v := LegValuation{}
	count := float64(leg.Count)
	spot := leg.UnderlyingPrice

	switch leg.Type {
	case models.Call:
		v.InTheMoney = leg.Strike < spot
	case models.Put:
		v.InTheMoney = leg.Strike > spot
	}

	if leg.IsIndex {
		// Cash settled: only the strike/spot difference moves.
		v.ExerciseValue = (leg.Strike - spot) * count * leg.Multiplier
		if leg.Type == models.Call {
			v.ExerciseValue = -v.ExerciseValue
		}
	} else {
		v.ExerciseValue = leg.Strike * count * leg.Multiplier
		if leg.Type == models.Call {
			v.ExerciseValue = -v.ExerciseValue
		}
		if leg.Type == models.Put && leg.Count < 0 {
			// A short put obligates buying shares at the strike no matter
			// what they are worth afterwards: worst-case full assignment.
			v.ExerciseValue = -math.Abs(leg.Strike * count * leg.Multiplier)
		}
	}

	if v.InTheMoney {
		switch leg.Type {
		case models.Call:
			v.IntrinsicValue = (spot - leg.Strike) * count * leg.Multiplier
		case models.Put:
			v.IntrinsicValue = (leg.Strike - spot) * count * leg.Multiplier
		}
		v.MinContractPrice = util.CeilToTick(v.IntrinsicValue/(count*leg.Multiplier), priceTick)
	}

	v.NotionalValue = leg.Strike * math.Abs(count) * leg.Multiplier
	v.MarketValue = leg.MarketValue()

	v.Value = math.Max(math.Abs(v.IntrinsicValue), math.Abs(v.MarketValue))
	if leg.Count < 0 {
		v.Value = -v.Value
	}
	v.Profit = v.Value - leg.CostBasis()

	if v.InTheMoney {
		v.StockProfit = math.Abs(count*leg.Multiplier*(leg.Strike+leg.ContractPrice)) -
			math.Abs(count*leg.Multiplier*spot)
		if (leg.Type == models.Put && leg.Count < 0) ||
			(leg.Type == models.Call && leg.Count > 0) {
			v.StockProfit = -v.StockProfit
		}
	}

	return v, nil
}
