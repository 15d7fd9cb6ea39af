// Package spreads reconstructs multi-leg option strategies from a flat pool
// of legs and values the matched groups.
//
// Matching is greedy and ordered: box spreads are extracted first, then bull
// put spreads, bear call spreads (merged into iron condors where both sides
// exist), bull call spreads and synthetics. Earlier rules consume legs
// before later rules run, so a leg that could belong to more than one shape
// is assigned deterministically. Every rule operates on an immutable pool
// snapshot and returns a smaller one.
package spreads

import (
	"math"
	"sort"

	"github.com/kdufour/optworth/internal/models"
)

// Result is the outcome of classifying a leg pool. Legs appear exactly once:
// either inside a group or as a naked position.
type Result struct {
	Boxes       []models.SpreadGroup
	BullPuts    []models.SpreadGroup
	BearCalls   []models.SpreadGroup
	BullCalls   []models.SpreadGroup
	IronCondors []models.SpreadGroup
	Synthetics  []models.SpreadGroup
	Naked       []models.NakedPosition
	// Errors collects per-leg diagnostics (ambiguous matches). The result
	// is always best-effort; errors never abort classification.
	Errors []error
}

// Groups returns every matched group across all strategy types.
func (r Result) Groups() []models.SpreadGroup {
	var all []models.SpreadGroup
	all = append(all, r.Boxes...)
	all = append(all, r.IronCondors...)
	all = append(all, r.BullPuts...)
	all = append(all, r.BearCalls...)
	all = append(all, r.BullCalls...)
	all = append(all, r.Synthetics...)
	return all
}

// LegCount returns the total number of legs accounted for, naked included.
func (r Result) LegCount() int {
	n := len(r.Naked)
	for _, g := range r.Groups() {
		n += len(g.Legs)
	}
	return n
}

// Classify groups the legs into canonical strategy shapes and classifies the
// remainder as naked positions. The input is not modified. Legs must already
// be aggregated (one leg per account/ticker/expiration/strike/type) and
// carry resolved underlying prices; unpriced legs are the caller's problem.
func Classify(legs []models.OptionLeg) Result {
	p := make(pool, len(legs))
	copy(p, legs)

	var res Result
	var errs []error

	res.Boxes, p, errs = matchBoxes(p, errs)
	res.BullPuts, p, errs = matchVerticals(p, bullPutRule, errs)
	res.BearCalls, p, errs = matchVerticals(p, bearCallRule, errs)
	res.IronCondors, res.BullPuts, res.BearCalls = mergeIronCondors(res.BullPuts, res.BearCalls)
	res.BullCalls, p, errs = matchVerticals(p, bullCallRule, errs)
	res.Synthetics, p, errs = matchSynthetics(p, errs)

	for _, leg := range p {
		res.Naked = append(res.Naked, models.NakedPosition{
			Kind: models.ClassifyNakedKind(leg),
			Leg:  leg,
		})
	}
	res.Errors = errs
	return res
}

// pool is an ordered snapshot of unconsumed legs. Matching never mutates a
// pool in place; consume returns the next snapshot.
type pool []models.OptionLeg

// consume removes unit spread contracts from the legs at idxs and returns
// the matched legs (counts scaled to ±unit) plus the shrunken pool. A leg
// with leftover contracts stays in the pool at its original position, so
// partial fills remain matchable by later rules.
func consume(p pool, idxs []int, unit int) ([]models.OptionLeg, pool) {
	matched := make([]models.OptionLeg, 0, len(idxs))
	taken := make(map[int]int, len(idxs))
	for _, idx := range idxs {
		leg := p[idx]
		signed := unit
		if leg.Count < 0 {
			signed = -unit
		}
		matched = append(matched, leg.WithCount(signed))
		taken[idx] = leg.Count - signed
	}
	next := make(pool, 0, len(p))
	for i, leg := range p {
		if rem, ok := taken[i]; ok {
			if rem == 0 {
				continue
			}
			leg = leg.WithCount(rem)
		}
		next = append(next, leg)
	}
	return matched, next
}

func indicesWhere(p pool, keep func(int, models.OptionLeg) bool) []int {
	var idxs []int
	for i, leg := range p {
		if keep(i, leg) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func absCount(leg models.OptionLeg) int {
	if leg.Count < 0 {
		return -leg.Count
	}
	return leg.Count
}

// selectPartner picks one candidate deterministically: smallest absolute
// count difference from the anchor first, then earliest pool position. The
// returned error is a diagnostic for the should-not-happen case of two
// candidates the rule cannot tell apart; the first is still chosen so the
// result stays deterministic.
func selectPartner(p pool, anchor models.OptionLeg, cands []int) (int, error) {
	if len(cands) == 0 {
		return -1, nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		di := abs(absCount(p[cands[i]]) - absCount(anchor))
		dj := abs(absCount(p[cands[j]]) - absCount(anchor))
		if di != dj {
			return di < dj
		}
		return cands[i] < cands[j]
	})
	if len(cands) > 1 {
		a, b := p[cands[0]], p[cands[1]]
		if a.Key() == b.Key() {
			// Duplicate keys should have been aggregated away.
			return cands[0], &models.AmbiguousMatchError{
				Anchor:     anchor.Description(),
				Candidates: []string{a.Description(), b.Description()},
			}
		}
	}
	return cands[0], nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func minUnit(legs ...models.OptionLeg) int {
	unit := math.MaxInt
	for _, leg := range legs {
		if n := absCount(leg); n < unit {
			unit = n
		}
	}
	return unit
}

// matchBoxes extracts box spreads: short call and long put at a low strike
// plus long call and short put at a higher strike, cash-settled index
// tickers only. When several higher strikes qualify the lowest is taken, so
// repeated scans stay deterministic.
func matchBoxes(p pool, errs []error) ([]models.SpreadGroup, pool, []error) {
	var groups []models.SpreadGroup
	for {
		matched := false
		for i, anchor := range p {
			if !anchor.IsIndex || anchor.Type != models.Call || anchor.Count >= 0 {
				continue
			}
			scope := anchor.GroupKey()
			inScope := func(leg models.OptionLeg) bool { return leg.GroupKey() == scope }

			lowPutIdx, err := selectPartner(p, anchor, indicesWhere(p, func(j int, leg models.OptionLeg) bool {
				return j != i && inScope(leg) && leg.Type == models.Put && leg.Count > 0 && leg.Strike == anchor.Strike
			}))
			if err != nil {
				errs = append(errs, err)
			}
			if lowPutIdx < 0 {
				continue
			}

			highStrike := boxHighStrike(p, i, anchor)
			if highStrike == 0 {
				continue
			}
			highCallIdx, err := selectPartner(p, anchor, indicesWhere(p, func(j int, leg models.OptionLeg) bool {
				return j != i && inScope(leg) && leg.Type == models.Call && leg.Count > 0 && leg.Strike == highStrike
			}))
			if err != nil {
				errs = append(errs, err)
			}
			highPutIdx, err := selectPartner(p, anchor, indicesWhere(p, func(j int, leg models.OptionLeg) bool {
				return j != i && inScope(leg) && leg.Type == models.Put && leg.Count < 0 && leg.Strike == highStrike
			}))
			if err != nil {
				errs = append(errs, err)
			}
			if highCallIdx < 0 || highPutIdx < 0 {
				continue
			}

			unit := minUnit(anchor, p[lowPutIdx], p[highCallIdx], p[highPutIdx])
			legs, next := consume(p, []int{i, lowPutIdx, highCallIdx, highPutIdx}, unit)
			groups = append(groups, models.SpreadGroup{Type: models.BoxSpread, Legs: legs})
			p = next
			matched = true
			break
		}
		if !matched {
			return groups, p, errs
		}
	}
}

// boxHighStrike returns the lowest strike above the anchor's that has both a
// long call and a short put in the anchor's scope, or 0 when none exists.
func boxHighStrike(p pool, anchorIdx int, anchor models.OptionLeg) float64 {
	scope := anchor.GroupKey()
	calls := map[float64]bool{}
	puts := map[float64]bool{}
	for j, leg := range p {
		if j == anchorIdx || leg.GroupKey() != scope || leg.Strike <= anchor.Strike {
			continue
		}
		if leg.Type == models.Call && leg.Count > 0 {
			calls[leg.Strike] = true
		}
		if leg.Type == models.Put && leg.Count < 0 {
			puts[leg.Strike] = true
		}
	}
	best := 0.0
	for strike := range calls {
		if puts[strike] && (best == 0 || strike < best) {
			best = strike
		}
	}
	return best
}

// verticalRule describes a two-leg same-type spread: the anchor leg at the
// lower strike and a partner of the opposite sign at a higher strike.
type verticalRule struct {
	typ        models.SpreadType
	legType    models.OptionType
	anchorLong bool
}

var (
	bullPutRule  = verticalRule{typ: models.BullPutSpread, legType: models.Put, anchorLong: true}
	bearCallRule = verticalRule{typ: models.BearCallSpread, legType: models.Call, anchorLong: false}
	bullCallRule = verticalRule{typ: models.BullCallSpread, legType: models.Call, anchorLong: true}
)

func matchVerticals(p pool, rule verticalRule, errs []error) ([]models.SpreadGroup, pool, []error) {
	var groups []models.SpreadGroup
	for {
		matched := false
		for i, anchor := range p {
			if anchor.Type != rule.legType {
				continue
			}
			if rule.anchorLong && anchor.Count <= 0 || !rule.anchorLong && anchor.Count >= 0 {
				continue
			}
			scope := anchor.GroupKey()
			partnerIdx, err := selectPartner(p, anchor, indicesWhere(p, func(j int, leg models.OptionLeg) bool {
				if j == i || leg.GroupKey() != scope || leg.Type != rule.legType {
					return false
				}
				if leg.Strike <= anchor.Strike {
					return false
				}
				// Partner takes the opposite side of the anchor.
				if rule.anchorLong {
					return leg.Count < 0
				}
				return leg.Count > 0
			}))
			if err != nil {
				errs = append(errs, err)
			}
			if partnerIdx < 0 {
				continue
			}

			unit := minUnit(anchor, p[partnerIdx])
			legs, next := consume(p, []int{i, partnerIdx}, unit)
			groups = append(groups, models.SpreadGroup{Type: rule.typ, Legs: legs})
			p = next
			matched = true
			break
		}
		if !matched {
			return groups, p, errs
		}
	}
}

// matchSynthetics pairs a call and a put at the same strike with opposite
// signs: long call + short put is a synthetic long, short call + long put a
// synthetic short. Index legs are skipped; on index tickers same-strike
// pairs belong to boxes.
func matchSynthetics(p pool, errs []error) ([]models.SpreadGroup, pool, []error) {
	var groups []models.SpreadGroup
	for {
		matched := false
		for i, anchor := range p {
			if anchor.Type != models.Call || anchor.IsIndex {
				continue
			}
			scope := anchor.GroupKey()
			wantShortPut := anchor.Count > 0
			partnerIdx, err := selectPartner(p, anchor, indicesWhere(p, func(j int, leg models.OptionLeg) bool {
				if j == i || leg.GroupKey() != scope || leg.Type != models.Put {
					return false
				}
				if leg.Strike != anchor.Strike {
					return false
				}
				if wantShortPut {
					return leg.Count < 0
				}
				return leg.Count > 0
			}))
			if err != nil {
				errs = append(errs, err)
			}
			if partnerIdx < 0 {
				continue
			}

			unit := minUnit(anchor, p[partnerIdx])
			legs, next := consume(p, []int{i, partnerIdx}, unit)
			groups = append(groups, models.SpreadGroup{Type: models.Synthetic, Legs: legs})
			p = next
			matched = true
			break
		}
		if !matched {
			return groups, p, errs
		}
	}
}

// mergeIronCondors combines a bull put spread and a bear call spread sharing
// the same account, ticker and expiration into one iron condor, with the
// call wing strictly above the put wing. Each vertical is consumed at most
// once; unmerged verticals are returned as-is.
func mergeIronCondors(bullPuts, bearCalls []models.SpreadGroup) (condors, remPuts, remCalls []models.SpreadGroup) {
	usedCall := make([]bool, len(bearCalls))
	for _, bp := range bullPuts {
		merged := false
		for j, bc := range bearCalls {
			if usedCall[j] {
				continue
			}
			if bp.Legs[0].GroupKey() != bc.Legs[0].GroupKey() {
				continue
			}
			if bc.LowStrike() <= bp.HighStrike() {
				continue
			}
			legs := make([]models.OptionLeg, 0, 4)
			legs = append(legs, bp.Legs...)
			legs = append(legs, bc.Legs...)
			condors = append(condors, models.SpreadGroup{Type: models.IronCondor, Legs: legs})
			usedCall[j] = true
			merged = true
			break
		}
		if !merged {
			remPuts = append(remPuts, bp)
		}
	}
	for j, bc := range bearCalls {
		if !usedCall[j] {
			remCalls = append(remCalls, bc)
		}
	}
	return condors, remPuts, remCalls
}
