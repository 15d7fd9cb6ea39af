package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdufour/optworth/internal/models"
)

func testExpiration() time.Time {
	return time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)
}

func leg(account, ticker string, typ models.OptionType, strike float64, count int) models.OptionLeg {
	l := models.OptionLeg{
		Account:         account,
		Ticker:          ticker,
		Type:            typ,
		Strike:          strike,
		Expiration:      testExpiration(),
		Count:           count,
		Multiplier:      models.SharesPerContract,
		UnderlyingPrice: 500,
		PriceKnown:      true,
	}
	if ticker == "SPX" || ticker == "SMI" {
		l.IsIndex = true
		l.UnderlyingPrice = 5050
	}
	return l
}

func TestRunClassifiesAndValues(t *testing.T) {
	legs := []models.OptionLeg{
		// Box on SPX.
		leg("IB", "SPX", models.Call, 5000, -1),
		leg("IB", "SPX", models.Put, 5000, 1),
		leg("IB", "SPX", models.Call, 5100, 1),
		leg("IB", "SPX", models.Put, 5100, -1),
		// Bull put on SPY.
		leg("IB", "SPY", models.Put, 450, 1),
		leg("IB", "SPY", models.Put, 460, -1),
		// Naked short call in another account.
		leg("Schwab", "SPY", models.Call, 550, -2),
	}
	e := New(nil)
	results := e.Run(testExpiration().AddDate(-1, 0, 0), legs)

	require.Len(t, results.BoxSpreads, 1)
	require.Len(t, results.BullPutSpreads, 1)
	require.Len(t, results.Naked, 1)
	assert.Empty(t, results.Unvalued)
	assert.Empty(t, results.Errors)

	assert.Equal(t, models.ShortCall, results.Naked[0].Kind)
	assert.Equal(t, 5000.0, results.BoxSpreads[0].Valuation.LowStrike)
	assert.Equal(t, 365, results.BoxSpreads[0].Valuation.LoanTermDays)
}

func TestRunToleratesMissingPrices(t *testing.T) {
	unpriced := leg("IB", "SMI", models.Call, 11000, -3)
	unpriced.PriceKnown = false

	legs := []models.OptionLeg{
		leg("IB", "SPY", models.Put, 450, 1),
		leg("IB", "SPY", models.Put, 460, -1),
		unpriced,
	}
	results := New(nil).Run(testExpiration(), legs)

	// The priced pair still classifies; the unpriced leg is reported, not
	// guessed at.
	require.Len(t, results.BullPutSpreads, 1)
	require.Len(t, results.Unvalued, 1)
	assert.Equal(t, "SMI 2026-12-18 11000 CALL", results.Unvalued[0].Leg.Description())
	assert.Contains(t, results.Unvalued[0].Reason, "no underlying price")
}

func TestRunAggregatesDuplicateLegs(t *testing.T) {
	legs := []models.OptionLeg{
		leg("IB", "SPY", models.Put, 450, 1),
		leg("IB", "SPY", models.Put, 450, 1),
		leg("IB", "SPY", models.Put, 460, -2),
	}
	results := New(nil).Run(testExpiration(), legs)

	require.Len(t, results.BullPutSpreads, 1)
	assert.Equal(t, 2, results.BullPutSpreads[0].Valuation.ContractCount)
	assert.Empty(t, results.Naked)
}

func TestRunDropsInvalidLegs(t *testing.T) {
	bad := leg("IB", "SPY", models.Put, 0, 1)
	results := New(nil).Run(testExpiration(), []models.OptionLeg{bad})
	assert.Empty(t, results.Naked)
	require.Len(t, results.Errors, 1)
	assert.Contains(t, results.Errors[0], "strike")
}

func TestSummaries(t *testing.T) {
	short := leg("IB", "SPY", models.Put, 450, -2)
	short.Quote = 3.00
	long := leg("Schwab", "QQQ", models.Call, 400, 1)
	long.Quote = 35.00

	results := New(nil).Run(testExpiration(), []models.OptionLeg{short, long})
	require.Len(t, results.Summaries, 2)

	ib := results.Summaries[0]
	assert.Equal(t, "IB", ib.Account)
	// Short put: value −600, notional 450*2*100, exposure equals notional.
	assert.InDelta(t, -600, ib.OptionsValue, 1e-9)
	assert.InDelta(t, 90000, ib.NotionalValue, 1e-9)
	assert.InDelta(t, 90000, ib.ShortPutExposure, 1e-9)

	schwab := results.Summaries[1]
	assert.Equal(t, "Schwab", schwab.Account)
	// ITM long call: intrinsic 10000 beats the 3500 mark.
	assert.InDelta(t, 10000, schwab.OptionsValue, 1e-9)
	assert.Zero(t, schwab.ShortPutExposure)
}

func TestShortPutExposureSkipsIndexAndBoxes(t *testing.T) {
	legs := []models.OptionLeg{
		// Box on SPX: its short put never needs assignment cash.
		leg("IB", "SPX", models.Call, 5000, -1),
		leg("IB", "SPX", models.Put, 5000, 1),
		leg("IB", "SPX", models.Call, 5100, 1),
		leg("IB", "SPX", models.Put, 5100, -1),
		// Naked index short put: cash settled.
		leg("IB", "SMI", models.Put, 4000, -1),
	}
	results := New(nil).Run(testExpiration(), legs)
	require.Len(t, results.Summaries, 1)
	assert.Zero(t, results.Summaries[0].ShortPutExposure)
}

func TestExpirationValues(t *testing.T) {
	nearExp := leg("IB", "SPY", models.Put, 550, -1) // ITM short put
	farExp := leg("IB", "SPY", models.Call, 450, 1)  // ITM long call
	farExp.Expiration = testExpiration().AddDate(1, 0, 0)
	otm := leg("IB", "SPY", models.Call, 600, 1)

	results := New(nil).Run(testExpiration(), []models.OptionLeg{nearExp, farExp, otm})
	require.Len(t, results.ExpirationValues, 2)

	assert.Equal(t, testExpiration(), results.ExpirationValues[0].Expiration)
	// Assigned short put buys 100 shares at 550.
	assert.InDelta(t, -55000, results.ExpirationValues[0].ExerciseValue, 1e-9)
	// Exercised long call buys 100 shares at 450.
	assert.InDelta(t, -45000, results.ExpirationValues[1].ExerciseValue, 1e-9)
}

func TestExpirationValuesRepricesSpreadOTMLeg(t *testing.T) {
	// Bull put with only the short side in the money: assignment buys shares
	// at 550, and the projection credits their current worth at spot 500
	// through the repriced long leg.
	legs := []models.OptionLeg{
		leg("IB", "SPY", models.Put, 450, 1),  // OTM
		leg("IB", "SPY", models.Put, 550, -1), // ITM
	}
	results := New(nil).Run(testExpiration(), legs)
	require.Len(t, results.BullPutSpreads, 1)
	require.Len(t, results.ExpirationValues, 1)
	assert.InDelta(t, -5000, results.ExpirationValues[0].ExerciseValue, 1e-9)
}

func TestRunIsDeterministic(t *testing.T) {
	legs := []models.OptionLeg{
		leg("IB", "SPY", models.Put, 450, 2),
		leg("IB", "SPY", models.Put, 460, -2),
		leg("IB", "SPY", models.Call, 470, -1),
		leg("IB", "SPY", models.Call, 480, 1),
	}
	first := New(nil).Run(testExpiration(), legs)
	second := New(nil).Run(testExpiration(), legs)
	assert.Equal(t, first, second)
}
