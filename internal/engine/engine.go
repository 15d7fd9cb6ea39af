// Package engine orchestrates one valuation run: aggregate the leg pool,
// split off unpriced legs, classify strategies, value them, and derive the
// per-account portfolio summaries. The engine is pure: legs arrive with
// prices already resolved, and the same pool always produces the same
// results.
package engine

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdufour/optworth/internal/models"
	"github.com/kdufour/optworth/internal/spreads"
	"github.com/kdufour/optworth/internal/valuation"
)

// ValuedGroup pairs a matched strategy with its valuation.
type ValuedGroup struct {
	Group     models.SpreadGroup     `json:"group"`
	Valuation spreads.GroupValuation `json:"valuation"`
}

// ValuedNaked pairs an unmatched leg with its per-leg valuation.
type ValuedNaked struct {
	Kind      models.NakedKind       `json:"kind"`
	Leg       models.OptionLeg       `json:"leg"`
	Valuation valuation.LegValuation `json:"valuation"`
}

// UnvaluedLeg is a leg excluded from classification, with the reason.
type UnvaluedLeg struct {
	Leg    models.OptionLeg `json:"leg"`
	Reason string           `json:"reason"`
}

// AccountSummary aggregates one brokerage account's option economics.
type AccountSummary struct {
	Account string `json:"account"`
	// OptionsValue counts index strategies at intrinsic value and
	// everything else at its market mark.
	OptionsValue float64 `json:"options_value"`
	// NotionalValue is the unsigned exposure: strike × |count| × multiplier
	// summed over every valued leg.
	NotionalValue float64 `json:"notional_value"`
	// ShortPutExposure is the cash needed if every physically settled short
	// put in the account is assigned.
	ShortPutExposure float64 `json:"short_put_exposure"`
}

// ExpirationValue is the cash impact of exercise/assignment of the
// in-the-money legs expiring on one date in one account.
type ExpirationValue struct {
	Account       string    `json:"account"`
	Expiration    time.Time `json:"expiration"`
	ExerciseValue float64   `json:"exercise_value"`
}

// AllResults is the complete outcome of one engine run.
type AllResults struct {
	AsOf time.Time `json:"as_of"`

	BoxSpreads      []ValuedGroup `json:"box_spreads"`
	BullPutSpreads  []ValuedGroup `json:"bull_put_spreads"`
	BearCallSpreads []ValuedGroup `json:"bear_call_spreads"`
	BullCallSpreads []ValuedGroup `json:"bull_call_spreads"`
	IronCondors     []ValuedGroup `json:"iron_condors"`
	Synthetics      []ValuedGroup `json:"synthetics"`
	Naked           []ValuedNaked `json:"naked"`
	Unvalued        []UnvaluedLeg `json:"unvalued"`

	// Errors are non-fatal diagnostics collected during the run.
	Errors []string `json:"errors,omitempty"`

	Summaries        []AccountSummary  `json:"summaries"`
	ExpirationValues []ExpirationValue `json:"expiration_values"`
}

// Groups returns every valued strategy across all types.
func (r *AllResults) Groups() []ValuedGroup {
	var out []ValuedGroup
	out = append(out, r.BoxSpreads...)
	out = append(out, r.BullPutSpreads...)
	out = append(out, r.BearCallSpreads...)
	out = append(out, r.BullCallSpreads...)
	out = append(out, r.IronCondors...)
	out = append(out, r.Synthetics...)
	return out
}

// Engine runs classification and valuation over a leg pool.
type Engine struct {
	log *logrus.Logger
}

// New creates an engine. A nil logger gets a default one.
func New(log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{log: log}
}

// Run executes one full valuation pass as of the given time. It never
// fails: malformed input surfaces in Unvalued and Errors, and legs with
// unresolved prices are reported rather than guessed at.
func (e *Engine) Run(asOf time.Time, legs []models.OptionLeg) AllResults {
	results := AllResults{AsOf: asOf.UTC()}

	pool := models.AggregateLegs(legs)
	priced := make([]models.OptionLeg, 0, len(pool))
	for _, leg := range pool {
		if err := leg.Validate(); err != nil {
			e.log.WithError(err).Warn("dropping invalid leg")
			results.Errors = append(results.Errors, err.Error())
			continue
		}
		if !leg.PriceKnown {
			results.Unvalued = append(results.Unvalued, UnvaluedLeg{
				Leg: leg,
				Reason: (&models.MissingPriceError{
					Ticker:     leg.Ticker,
					Instrument: leg.Description(),
				}).Error(),
			})
			continue
		}
		priced = append(priced, leg)
	}

	classified := spreads.Classify(priced)
	for _, err := range classified.Errors {
		e.log.WithError(err).Warn("classification diagnostic")
		results.Errors = append(results.Errors, err.Error())
	}

	for _, g := range classified.Groups() {
		gv, err := spreads.ValueGroup(g, asOf)
		if err != nil {
			e.log.WithError(err).WithField("type", g.Type).Warn("cannot value group")
			results.Errors = append(results.Errors, err.Error())
			for _, leg := range g.Legs {
				results.Unvalued = append(results.Unvalued, UnvaluedLeg{Leg: leg, Reason: err.Error()})
			}
			continue
		}
		vg := ValuedGroup{Group: g, Valuation: gv}
		switch g.Type {
		case models.BoxSpread:
			results.BoxSpreads = append(results.BoxSpreads, vg)
		case models.BullPutSpread:
			results.BullPutSpreads = append(results.BullPutSpreads, vg)
		case models.BearCallSpread:
			results.BearCallSpreads = append(results.BearCallSpreads, vg)
		case models.BullCallSpread:
			results.BullCallSpreads = append(results.BullCallSpreads, vg)
		case models.IronCondor:
			results.IronCondors = append(results.IronCondors, vg)
		case models.Synthetic:
			results.Synthetics = append(results.Synthetics, vg)
		}
	}

	for _, n := range classified.Naked {
		lv, err := valuation.Value(n.Leg)
		if err != nil {
			results.Unvalued = append(results.Unvalued, UnvaluedLeg{Leg: n.Leg, Reason: err.Error()})
			continue
		}
		results.Naked = append(results.Naked, ValuedNaked{Kind: n.Kind, Leg: n.Leg, Valuation: lv})
	}

	results.Summaries = e.summarize(&results)
	results.ExpirationValues = expirationValues(&results)
	return results
}

// groupSummaryValue is the value a strategy contributes to its account's
// options value: intrinsic for cash-settled index strategies, market mark
// for everything else.
func groupSummaryValue(vg ValuedGroup) float64 {
	if vg.Group.Legs[0].IsIndex {
		return vg.Valuation.IntrinsicSum
	}
	return vg.Valuation.MarketValue
}

func legNotional(leg models.OptionLeg) float64 {
	return leg.Strike * float64(absInt(leg.Count)) * leg.Multiplier
}

func (e *Engine) summarize(r *AllResults) []AccountSummary {
	byAccount := map[string]*AccountSummary{}
	get := func(account string) *AccountSummary {
		s, ok := byAccount[account]
		if !ok {
			s = &AccountSummary{Account: account}
			byAccount[account] = s
		}
		return s
	}

	for _, vg := range r.Groups() {
		s := get(vg.Group.Account())
		s.OptionsValue += groupSummaryValue(vg)
		for _, leg := range vg.Group.Legs {
			s.NotionalValue += legNotional(leg)
			s.ShortPutExposure += shortPutExposure(leg, vg.Group.Type)
		}
	}
	for _, n := range r.Naked {
		s := get(n.Leg.Account)
		s.OptionsValue += n.Valuation.Value
		s.NotionalValue += n.Valuation.NotionalValue
		s.ShortPutExposure += shortPutExposure(n.Leg, "")
	}

	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	out := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, *byAccount[account])
	}
	return out
}

// shortPutExposure is the assignment cash requirement of one leg. Index
// options settle in cash and box spread puts are fully hedged, so neither
// counts.
func shortPutExposure(leg models.OptionLeg, spreadType models.SpreadType) float64 {
	if leg.Type != models.Put || leg.Count >= 0 {
		return 0
	}
	if leg.IsIndex || spreadType == models.BoxSpread {
		return 0
	}
	return leg.Strike * float64(-leg.Count) * leg.Multiplier
}

// expirationValues sums the cash impact of exercise/assignment per account
// and expiration. Matched groups use their assignment-adjusted value:
// in-the-money legs at their exercise terms plus a lone out-of-the-money
// leg repriced at the current underlying, so a vertical assigned on one
// side still counts the share value its other side represents. Naked legs
// count their exercise value when in the money.
func expirationValues(r *AllResults) []ExpirationValue {
	type key struct {
		account    string
		expiration time.Time
	}
	sums := map[key]float64{}
	for _, vg := range r.Groups() {
		if v := vg.Valuation.AdjustedExerciseValue; v != 0 {
			sums[key{vg.Group.Account(), vg.Group.Expiration()}] += v
		}
	}
	for _, n := range r.Naked {
		if !n.Valuation.InTheMoney {
			continue
		}
		sums[key{n.Leg.Account, n.Leg.Expiration}] += n.Valuation.ExerciseValue
	}

	keys := make([]key, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].expiration.Before(keys[j].expiration)
	})
	out := make([]ExpirationValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, ExpirationValue{
			Account:       k.account,
			Expiration:    k.expiration,
			ExerciseValue: sums[k],
		})
	}
	return out
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
