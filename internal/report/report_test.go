package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdufour/optworth/internal/engine"
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
	if ticker == "SPX" {
		l.IsIndex = true
		l.UnderlyingPrice = 5050
	}
	return l
}

func sampleResults(t *testing.T) *engine.AllResults {
	t.Helper()
	legs := []models.OptionLeg{
		leg("IB", "SPX", models.Call, 5000, -1),
		leg("IB", "SPX", models.Put, 5000, 1),
		leg("IB", "SPX", models.Call, 5100, 1),
		leg("IB", "SPX", models.Put, 5100, -1),
		leg("IB", "SPY", models.Put, 450, 1),
		leg("IB", "SPY", models.Put, 460, -1),
		leg("Schwab", "SPY", models.Call, 550, -2),
	}
	unpriced := leg("IB", "AAPL", models.Put, 180, -1)
	unpriced.PriceKnown = false
	legs = append(legs, unpriced)

	results := engine.New(nil).Run(testExpiration().AddDate(-1, 0, 0), legs)
	require.NotEmpty(t, results.BoxSpreads)
	return &results
}

func TestRenderSections(t *testing.T) {
	out := Render(sampleResults(t))

	assert.Contains(t, out, "Options valuation as of 2025-12-18")
	assert.Contains(t, out, "Per account")
	assert.Contains(t, out, "Box spreads")
	assert.Contains(t, out, "Bull put spreads")
	assert.Contains(t, out, "Naked positions")
	assert.Contains(t, out, "Unvalued")
	assert.Contains(t, out, "AAPL 2026-12-18 180 PUT")
	assert.Contains(t, out, "no underlying price")

	// Empty sections are omitted entirely.
	assert.NotContains(t, out, "Iron condors")
	assert.NotContains(t, out, "Synthetics")
}

func TestRenderBoxLine(t *testing.T) {
	out := Render(sampleResults(t))
	assert.Contains(t, out, "1x SPX 2026-12-18 5000/5100 (IB)")
	assert.Contains(t, out, "(365 days)")
	assert.Contains(t, out, "implied APY")
}

func TestRenderEmptyRun(t *testing.T) {
	results := engine.New(nil).Run(testExpiration(), nil)
	out := Render(&results)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 1)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$1234.50", money(1234.5))
	assert.Equal(t, "-$600.00", money(-600))
	assert.Equal(t, "$0.00", money(0))
}

func TestStrike(t *testing.T) {
	assert.Equal(t, "5000", strike(5000))
	assert.Equal(t, "452.5", strike(452.5))
}

func TestStamp(t *testing.T) {
	stamped := Stamp("body\n", time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(stamped, "generated 2026-08-29T12:00:00Z\n"))
	assert.Contains(t, stamped, "body")
}
