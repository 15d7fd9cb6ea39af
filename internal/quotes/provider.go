// Package quotes fetches underlying and option prices for valuation.
// A Provider abstracts the market data source; the Tradier client is the
// real implementation, wrapped with retry and circuit breaker layers.
package quotes

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kdufour/optworth/internal/models"
)

// prefetchConcurrency bounds parallel market data requests.
const prefetchConcurrency = 4

// Provider serves the two prices valuation needs: the underlying spot and
// the per-share option premium. A missing price is reported as a
// *models.MissingPriceError so callers can distinguish "not quoted" from a
// transport failure.
type Provider interface {
	UnderlyingPrice(ctx context.Context, symbol string) (float64, error)
	OptionQuote(ctx context.Context, leg models.OptionLeg) (float64, error)
}

// Prefetch resolves prices for every leg and returns a copy with
// UnderlyingPrice, Quote, and PriceKnown filled in. Only an unresolved
// underlying disqualifies a leg from valuation: a contract the provider
// cannot quote keeps its spot and values at intrinsic with Quote zero.
// Errors are collected as diagnostics and never abort the batch.
func Prefetch(ctx context.Context, p Provider, legs []models.OptionLeg) ([]models.OptionLeg, []error) {
	out := make([]models.OptionLeg, len(legs))
	copy(out, legs)

	spots := fetchUnderlyings(ctx, p, legs)

	var mu sync.Mutex
	var errs []error
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for i := range out {
		i := i
		g.Go(func() error {
			leg := out[i]
			spot, spotErr := spots.get(leg.Ticker)
			quote, quoteErr := p.OptionQuote(ctx, leg)

			mu.Lock()
			defer mu.Unlock()
			if spotErr != nil {
				errs = append(errs, spotErr)
			}
			if quoteErr != nil {
				errs = append(errs, quoteErr)
				quote = 0
			}
			if spotErr != nil {
				return nil
			}
			leg.UnderlyingPrice = spot
			leg.Quote = quote
			leg.PriceKnown = true
			out[i] = leg
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

type spotTable struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
}

func (s *spotTable) get(symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[symbol]; ok {
		return 0, err
	}
	return s.prices[symbol], nil
}

// fetchUnderlyings resolves each distinct ticker's spot once.
func fetchUnderlyings(ctx context.Context, p Provider, legs []models.OptionLeg) *spotTable {
	seen := map[string]bool{}
	var tickers []string
	for _, leg := range legs {
		if !seen[leg.Ticker] {
			seen[leg.Ticker] = true
			tickers = append(tickers, leg.Ticker)
		}
	}
	sort.Strings(tickers)

	table := &spotTable{
		prices: make(map[string]float64, len(tickers)),
		errs:   make(map[string]error),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			price, err := p.UnderlyingPrice(ctx, ticker)
			table.mu.Lock()
			defer table.mu.Unlock()
			if err != nil {
				table.errs[ticker] = err
				return nil
			}
			table.prices[ticker] = price
			return nil
		})
	}
	_ = g.Wait()
	return table
}
