package spreads

import (
	"fmt"
	"math"
	"time"

	"github.com/kdufour/optworth/internal/models"
	"github.com/kdufour/optworth/internal/util"
	"github.com/kdufour/optworth/internal/valuation"
)

const daysPerYear = 365.0

// markTick is the price increment half/double marks are quoted at.
const markTick = 0.01

// GroupValuation holds strategy-level metrics for a matched group.
type GroupValuation struct {
	LowStrike     float64 `json:"low_strike"`
	HighStrike    float64 `json:"high_strike"`
	ContractCount int     `json:"contract_count"`
	// CostBasis is the signed total opening cost across legs; negative for
	// net credit strategies.
	CostBasis float64 `json:"cost_basis"`
	// ContractPricePerShare is the summed per-share opening price across
	// legs, the per-spread price the position was opened at.
	ContractPricePerShare float64 `json:"contract_price_per_share"`
	// HalfMark and DoubleMark are the per-share prices at which the spread
	// has halved or doubled against its opening price.
	HalfMark   float64 `json:"half_mark"`
	DoubleMark float64 `json:"double_mark"`
	// ExerciseValueSum sums the exercise values of in-the-money legs.
	ExerciseValueSum float64 `json:"exercise_value_sum"`
	// AdjustedExerciseValue additionally prices a single out-of-the-money
	// leg at the current underlying, for assignment projections.
	AdjustedExerciseValue float64 `json:"adjusted_exercise_value"`
	IntrinsicSum          float64 `json:"intrinsic_sum"`
	// MarketValue sums per-leg values (each already floored at intrinsic).
	MarketValue float64 `json:"market_value"`
	// Profit is the larger-magnitude of intrinsic-based and market-based
	// profit, its own sign preserved.
	Profit float64 `json:"profit"`
	// Risk is the maximum possible loss. Meaningless when RiskUnbounded is
	// set (synthetics) and absent for box spreads, which report a loan APY
	// instead.
	Risk          float64 `json:"risk"`
	RiskUnbounded bool    `json:"risk_unbounded"`

	// Box spreads only.
	LoanTermDays int     `json:"loan_term_days,omitempty"`
	ImpliedAPY   float64 `json:"implied_apy,omitempty"`
	// LoanStart is the earliest ledger transaction date across legs when
	// known, otherwise the valuation date.
	LoanStart time.Time `json:"loan_start,omitempty"`

	// Iron condors only.
	LowPutStrike   float64 `json:"low_put_strike,omitempty"`
	HighPutStrike  float64 `json:"high_put_strike,omitempty"`
	LowCallStrike  float64 `json:"low_call_strike,omitempty"`
	HighCallStrike float64 `json:"high_call_strike,omitempty"`

	UnderlyingPrice float64 `json:"underlying_price"`
}

// ValueGroup computes strategy-level metrics for a matched group. All legs
// must carry resolved underlying prices.
func ValueGroup(g models.SpreadGroup, asOf time.Time) (GroupValuation, error) {
	if err := g.Validate(); err != nil {
		return GroupValuation{}, err
	}

	legVals := make([]valuation.LegValuation, len(g.Legs))
	for i, leg := range g.Legs {
		v, err := valuation.Value(leg)
		if err != nil {
			return GroupValuation{}, fmt.Errorf("valuing %s group: %w", g.Type, err)
		}
		legVals[i] = v
	}

	count := g.ContractCount()
	mult := g.Multiplier()
	gv := GroupValuation{
		LowStrike:       g.LowStrike(),
		HighStrike:      g.HighStrike(),
		ContractCount:   count,
		UnderlyingPrice: g.Legs[0].UnderlyingPrice,
	}

	for i, leg := range g.Legs {
		gv.CostBasis += leg.CostBasis()
		gv.ContractPricePerShare += leg.ContractPrice
		gv.IntrinsicSum += legVals[i].IntrinsicValue
		gv.MarketValue += legVals[i].Value
		if legVals[i].InTheMoney {
			gv.ExerciseValueSum += legVals[i].ExerciseValue
		}
	}
	gv.AdjustedExerciseValue = gv.ExerciseValueSum + otmLegExerciseValue(g, legVals)
	gv.HalfMark = util.RoundToTick(gv.CostBasis/float64(count)/mult/2, markTick)
	gv.DoubleMark = util.RoundToTick(gv.CostBasis/float64(count)/mult*2, markTick)

	intrinsicProfit := gv.ExerciseValueSum - gv.CostBasis
	marketProfit := gv.MarketValue - gv.CostBasis
	gv.Profit = largerMagnitude(intrinsicProfit, marketProfit)

	width := gv.HighStrike - gv.LowStrike
	switch g.Type {
	case models.BullPutSpread, models.BearCallSpread, models.BullCallSpread:
		gv.Risk = width*float64(count)*mult - gv.CostBasis
	case models.IronCondor:
		condorStrikes(g, &gv)
		gv.Risk = math.Max(sideRisk(g, models.Put), sideRisk(g, models.Call))
	case models.Synthetic:
		gv.RiskUnbounded = true
	case models.BoxSpread:
		gv.LoanStart = loanStart(g, asOf)
		gv.LoanTermDays = daysBetween(gv.LoanStart, g.Expiration())
		if gv.CostBasis != 0 && gv.LoanTermDays > 0 {
			gv.ImpliedAPY = (gv.ExerciseValueSum - gv.CostBasis) / gv.CostBasis /
				float64(gv.LoanTermDays) * daysPerYear
		}
	}

	return gv, nil
}

// otmLegExerciseValue prices a single out-of-the-money leg at the current
// underlying instead of its (zero-exercise) strike terms, keeping the sign
// of its exercise value. With zero or multiple OTM legs nothing is added.
func otmLegExerciseValue(g models.SpreadGroup, legVals []valuation.LegValuation) float64 {
	otm := -1
	for i, v := range legVals {
		if !v.InTheMoney {
			if otm >= 0 {
				return 0
			}
			otm = i
		}
	}
	if otm < 0 {
		return 0
	}
	leg := g.Legs[otm]
	ev := legVals[otm].ExerciseValue
	if ev == 0 {
		return 0
	}
	sign := ev / math.Abs(ev)
	return float64(leg.Count) * leg.Multiplier * leg.UnderlyingPrice * sign
}

// sideRisk computes the vertical-spread risk of one wing of an iron condor.
func sideRisk(g models.SpreadGroup, typ models.OptionType) float64 {
	low, high := math.Inf(1), math.Inf(-1)
	count := 0
	cost := 0.0
	mult := g.Multiplier()
	for _, leg := range g.Legs {
		if leg.Type != typ {
			continue
		}
		low = math.Min(low, leg.Strike)
		high = math.Max(high, leg.Strike)
		if n := absCount(leg); n > count {
			count = n
		}
		cost += leg.CostBasis()
	}
	if count == 0 {
		return 0
	}
	return (high-low)*float64(count)*mult - cost
}

func condorStrikes(g models.SpreadGroup, gv *GroupValuation) {
	gv.LowPutStrike, gv.HighPutStrike = math.Inf(1), math.Inf(-1)
	gv.LowCallStrike, gv.HighCallStrike = math.Inf(1), math.Inf(-1)
	for _, leg := range g.Legs {
		if leg.Type == models.Put {
			gv.LowPutStrike = math.Min(gv.LowPutStrike, leg.Strike)
			gv.HighPutStrike = math.Max(gv.HighPutStrike, leg.Strike)
		} else {
			gv.LowCallStrike = math.Min(gv.LowCallStrike, leg.Strike)
			gv.HighCallStrike = math.Max(gv.HighCallStrike, leg.Strike)
		}
	}
}

func loanStart(g models.SpreadGroup, asOf time.Time) time.Time {
	start := time.Time{}
	for _, leg := range g.Legs {
		if leg.OpenedAt.IsZero() {
			continue
		}
		if start.IsZero() || leg.OpenedAt.Before(start) {
			start = leg.OpenedAt
		}
	}
	if start.IsZero() {
		return asOf
	}
	return start
}

func daysBetween(from, to time.Time) int {
	days := int(to.UTC().Truncate(24*time.Hour).Sub(from.UTC().Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func largerMagnitude(a, b float64) float64 {
	if math.Abs(a) >= math.Abs(b) {
		return a
	}
	return b
}
