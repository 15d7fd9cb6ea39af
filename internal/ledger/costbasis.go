package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kdufour/optworth/internal/models"
)

// enrichConcurrency bounds the parallel ledger invocations during cost
// basis enrichment; one ledger run per instrument, like the original
// thread-pooled version, but without unbounded process spawn.
const enrichConcurrency = 8

var multiSpace = regexp.MustCompile(`\s{2,}`)

// Enrich fills ContractPrice and OpenedAt on each leg from ledger history.
// Failures are collected per leg and never abort the batch.
func (c *Client) Enrich(ctx context.Context, legs []models.OptionLeg) ([]models.OptionLeg, []error) {
	enriched := make([]models.OptionLeg, len(legs))
	copy(enriched, legs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	errCh := make(chan error, len(legs))
	for i := range enriched {
		i := i
		g.Go(func() error {
			leg := enriched[i]
			total, earliest, err := c.instrumentHistory(ctx, leg.Account, leg.Description())
			if err != nil {
				errCh <- fmt.Errorf("cost basis for %s (%s): %w", leg.Description(), leg.Account, err)
				return nil
			}
			leg.ContractPrice = total / (float64(leg.Count) * leg.Multiplier)
			leg.OpenedAt = earliest
			enriched[i] = leg
			return nil
		})
	}
	_ = g.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return enriched, errs
}

// instrumentHistory totals the ledger cash flow (trades plus broker fees)
// for one instrument in one account and reports the earliest transaction
// date. Assignment entries are excluded: assignment is not an opening cost.
func (c *Client) instrumentHistory(ctx context.Context, account, instrument string) (float64, time.Time, error) {
	out, err := c.runner.Output(ctx,
		"print", "expr",
		fmt.Sprintf(`any(commodity == "\"%s\"" and account =~ /%s/)`, instrument, account),
		"--limit", `payee != "Options assignment"`,
	)
	if err != nil {
		return 0, time.Time{}, err
	}

	total := 0.0
	var earliest time.Time
	for _, entry := range splitEntries(out) {
		if date, ok := parseEntryDate(entry[0]); ok {
			if earliest.IsZero() || date.Before(earliest) {
				earliest = date
			}
		}
		total += c.entryTotal(entry, instrument)
	}
	return total, earliest, nil
}

// entryTotal sums one transaction's trade amounts for the instrument plus
// any broker fee posted after the trade line.
func (c *Client) entryTotal(entry []string, instrument string) float64 {
	total := 0.0
	afterTrade := false
	for _, line := range entry {
		if strings.Contains(line, "Expenses:Broker:Fees") && afterTrade {
			fields := strings.Fields(line)
			total += c.convertToUSD(strings.Join(fields[1:], " "))
			afterTrade = false
			continue
		}
		if !strings.Contains(line, instrument) {
			continue
		}
		if !strings.Contains(line, " CALL") && !strings.Contains(line, " PUT") {
			continue
		}
		// Posting shape: `Account   -1 "SPY ... PUT" @ $1.23`.
		parts := multiSpace.Split(strings.TrimLeft(line, " \t"), 2)
		if len(parts) != 2 {
			continue
		}
		tokens := strings.Fields(parts[1])
		if len(tokens) == 0 {
			continue
		}
		count, err := strconv.Atoi(tokens[0])
		if err != nil {
			continue
		}
		_, amount, found := strings.Cut(parts[1], "@")
		if !found {
			continue
		}
		total += c.convertToUSD(strings.TrimSpace(amount)) * float64(count)
		afterTrade = true
	}
	return total
}

// convertToUSD parses "$12.34" or "12.34 CHF" into USD. Unknown
// denominations count as zero.
func (c *Client) convertToUSD(amount string) float64 {
	amount = strings.TrimSpace(amount)
	switch {
	case strings.HasPrefix(amount, "$"):
		v, err := strconv.ParseFloat(strings.ReplaceAll(amount[1:], ",", ""), 64)
		if err != nil {
			return 0
		}
		return v
	case strings.HasSuffix(amount, " CHF"):
		v, err := strconv.ParseFloat(strings.Fields(amount)[0], 64)
		if err != nil {
			return 0
		}
		return v * c.cfg.CHFUSD
	default:
		return 0
	}
}

// splitEntries breaks `ledger print` output into transactions separated by
// blank lines.
func splitEntries(out string) [][]string {
	var entries [][]string
	var current []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				entries = append(entries, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		entries = append(entries, current)
	}
	return entries
}

var entryDateLayouts = []string{"2006/01/02", "2006-01-02"}

// parseEntryDate reads the date token that opens a ledger transaction,
// tolerating the `2024/01/05=2024/01/07` effective-date form.
func parseEntryDate(line string) (time.Time, bool) {
	token := strings.Fields(line)
	if len(token) == 0 {
		return time.Time{}, false
	}
	date, _, _ := strings.Cut(token[0], "=")
	for _, layout := range entryDateLayouts {
		if t, err := time.ParseInLocation(layout, date, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
