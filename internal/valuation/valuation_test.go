package valuation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdufour/optworth/internal/models"
)

func priced(ticker string, typ models.OptionType, strike float64, count int, spot float64) models.OptionLeg {
	return models.OptionLeg{
		Account:         "Interactive Brokers",
		Ticker:          ticker,
		Type:            typ,
		Strike:          strike,
		Expiration:      time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
		Count:           count,
		Multiplier:      models.SharesPerContract,
		UnderlyingPrice: spot,
		PriceKnown:      true,
	}
}

func TestValueMissingPrice(t *testing.T) {
	leg := priced("SPY", models.Call, 500, 1, 0)
	leg.PriceKnown = false
	_, err := Value(leg)
	require.Error(t, err)
	var mpe *models.MissingPriceError
	assert.True(t, errors.As(err, &mpe))
	assert.Equal(t, "SPY", mpe.Ticker)
}

func TestValueMoneyness(t *testing.T) {
	tests := []struct {
		name   string
		typ    models.OptionType
		strike float64
		spot   float64
		itm    bool
	}{
		{name: "call below spot ITM", typ: models.Call, strike: 450, spot: 500, itm: true},
		{name: "call above spot OTM", typ: models.Call, strike: 550, spot: 500},
		{name: "call at the money is OTM", typ: models.Call, strike: 500, spot: 500},
		{name: "put above spot ITM", typ: models.Put, strike: 550, spot: 500, itm: true},
		{name: "put below spot OTM", typ: models.Put, strike: 450, spot: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Value(priced("SPY", tt.typ, tt.strike, 1, tt.spot))
			require.NoError(t, err)
			assert.Equal(t, tt.itm, v.InTheMoney)
			if !tt.itm {
				assert.Zero(t, v.IntrinsicValue)
				assert.Zero(t, v.MinContractPrice)
			}
		})
	}
}

func TestValueIntrinsic(t *testing.T) {
	// Long ITM call: (spot-strike)*count*mult.
	v, err := Value(priced("SPY", models.Call, 450, 2, 500))
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, v.IntrinsicValue, 1e-9)
	assert.InDelta(t, 50.0, v.MinContractPrice, 1e-9)

	// Short ITM put: negative intrinsic, but min contract price stays the
	// per-share magnitude.
	v, err = Value(priced("SPY", models.Put, 550, -1, 500))
	require.NoError(t, err)
	assert.InDelta(t, -5000.0, v.IntrinsicValue, 1e-9)
	assert.InDelta(t, 50.0, v.MinContractPrice, 1e-9)
}

func TestMinContractPriceRoundsUpToTick(t *testing.T) {
	// Sub-cent intrinsic: the acceptable per-share price is the next tick.
	v, err := Value(priced("SPY", models.Call, 450, 1, 500.0049))
	require.NoError(t, err)
	assert.InDelta(t, 50.0049, v.IntrinsicValue/100, 1e-9)
	assert.InDelta(t, 50.01, v.MinContractPrice, 1e-9)
}

func TestExerciseValueEquity(t *testing.T) {
	// Long call: pay strike to receive stock.
	v, err := Value(priced("SPY", models.Call, 450, 1, 500))
	require.NoError(t, err)
	assert.InDelta(t, -45000.0, v.ExerciseValue, 1e-9)

	// Short call: receive strike for delivering stock.
	v, err = Value(priced("SPY", models.Call, 450, -1, 500))
	require.NoError(t, err)
	assert.InDelta(t, 45000.0, v.ExerciseValue, 1e-9)

	// Long put: receive strike for delivering stock.
	v, err = Value(priced("SPY", models.Put, 550, 1, 500))
	require.NoError(t, err)
	assert.InDelta(t, 55000.0, v.ExerciseValue, 1e-9)

	// Short put: worst-case full assignment cost, always negative.
	v, err = Value(priced("SPY", models.Put, 550, -2, 500))
	require.NoError(t, err)
	assert.InDelta(t, -110000.0, v.ExerciseValue, 1e-9)
}

func TestExerciseValueIndex(t *testing.T) {
	idx := func(typ models.OptionType, strike float64, count int) models.OptionLeg {
		leg := priced("SPX", typ, strike, count, 5000)
		leg.IsIndex = true
		return leg
	}

	// Short index call: settle (strike-spot) difference, sign flipped.
	v, err := Value(idx(models.Call, 4900, -1))
	require.NoError(t, err)
	assert.InDelta(t, -10000.0, v.ExerciseValue, 1e-9)

	// Short index put: cash settled, no worst-case override.
	v, err = Value(idx(models.Put, 5100, -1))
	require.NoError(t, err)
	assert.InDelta(t, -10000.0, v.ExerciseValue, 1e-9)

	// Long index put above spot.
	v, err = Value(idx(models.Put, 5100, 1))
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, v.ExerciseValue, 1e-9)
}

func TestNotionalValueUnsigned(t *testing.T) {
	v, err := Value(priced("SPY", models.Put, 450, -3, 500))
	require.NoError(t, err)
	assert.InDelta(t, 135000.0, v.NotionalValue, 1e-9)
}

func TestValuePrefersIntrinsicOverStaleQuote(t *testing.T) {
	leg := priced("SPY", models.Call, 450, 1, 500)
	leg.Quote = 10 // stale: intrinsic alone is 50/share
	leg.ContractPrice = 20
	v, err := Value(leg)
	require.NoError(t, err)
	assert.InDelta(t, 5000.0, v.Value, 1e-9)
	assert.InDelta(t, 3000.0, v.Profit, 1e-9)
}

func TestValueUsesQuoteWhenLarger(t *testing.T) {
	leg := priced("SPY", models.Call, 550, -2, 500) // OTM short call
	leg.Quote = 4.25
	leg.ContractPrice = 6.00
	v, err := Value(leg)
	require.NoError(t, err)
	assert.InDelta(t, -850.0, v.MarketValue, 1e-9)
	assert.InDelta(t, -850.0, v.Value, 1e-9)
	// Sold at 6.00, now worth 4.25: profit is the decay collected so far.
	assert.InDelta(t, 350.0, v.Profit, 1e-9)
}

func TestValueMissingQuoteTreatedAsZero(t *testing.T) {
	leg := priced("SPY", models.Call, 550, 1, 500) // OTM, no quote
	v, err := Value(leg)
	require.NoError(t, err)
	assert.Zero(t, v.MarketValue)
	assert.Zero(t, v.Value)
}

func TestStockProfit(t *testing.T) {
	// ITM short call: keeping the stock would have earned the spot move.
	leg := priced("SPY", models.Call, 450, -1, 500)
	leg.ContractPrice = 5
	v, err := Value(leg)
	require.NoError(t, err)
	// |−1*100*(450+5)| − |−1*100*500| = 45500 − 50000 = −4500.
	assert.InDelta(t, -4500.0, v.StockProfit, 1e-9)

	// OTM leg reports zero.
	leg = priced("SPY", models.Call, 550, -1, 500)
	v, err = Value(leg)
	require.NoError(t, err)
	assert.Zero(t, v.StockProfit)
}
