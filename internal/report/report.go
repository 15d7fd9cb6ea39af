// Package report renders an engine run as plain text. Rendering only: no
// I/O, no recomputation.
package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kdufour/optworth/internal/engine"
	"github.com/kdufour/optworth/internal/models"
)

const dateLayout = "2006-01-02"

// Render produces the full text report for one engine run.
func Render(r *engine.AllResults) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Options valuation as of %s\n", r.AsOf.Format(dateLayout))

	renderSummaries(&b, r.Summaries)
	renderGroups(&b, "Box spreads", r.BoxSpreads)
	renderGroups(&b, "Bull put spreads", r.BullPutSpreads)
	renderGroups(&b, "Bear call spreads", r.BearCallSpreads)
	renderGroups(&b, "Bull call spreads", r.BullCallSpreads)
	renderGroups(&b, "Iron condors", r.IronCondors)
	renderGroups(&b, "Synthetics", r.Synthetics)
	renderNaked(&b, r.Naked)
	renderExpirations(&b, r.ExpirationValues)
	renderUnvalued(&b, r.Unvalued)

	if len(r.Errors) > 0 {
		b.WriteString("\nDiagnostics\n")
		for _, msg := range r.Errors {
			fmt.Fprintf(&b, "  %s\n", msg)
		}
	}
	return b.String()
}

func renderSummaries(b *strings.Builder, summaries []engine.AccountSummary) {
	if len(summaries) == 0 {
		return
	}
	b.WriteString("\nPer account\n")
	w := tabwriter.NewWriter(b, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  account\tvalue\tnotional\tshort put exposure")
	for _, s := range summaries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			s.Account, money(s.OptionsValue), money(s.NotionalValue), money(s.ShortPutExposure))
	}
	_ = w.Flush()
}

func renderGroups(b *strings.Builder, title string, groups []engine.ValuedGroup) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, vg := range groups {
		b.WriteString(describeGroup(vg))
	}
}

// describeGroup renders one strategy as a headline plus indented economics.
func describeGroup(vg engine.ValuedGroup) string {
	g, v := vg.Group, vg.Valuation
	var b strings.Builder

	switch g.Type {
	case models.IronCondor:
		fmt.Fprintf(&b, "  %dx %s %s puts %s/%s calls %s/%s (%s)\n",
			v.ContractCount, g.Ticker(), g.Expiration().Format(dateLayout),
			strike(v.LowPutStrike), strike(v.HighPutStrike),
			strike(v.LowCallStrike), strike(v.HighCallStrike), g.Account())
	default:
		fmt.Fprintf(&b, "  %dx %s %s %s/%s (%s)\n",
			v.ContractCount, g.Ticker(), g.Expiration().Format(dateLayout),
			strike(v.LowStrike), strike(v.HighStrike), g.Account())
	}

	fmt.Fprintf(&b, "    cost basis %s  market %s  profit %s\n",
		money(v.CostBasis), money(v.MarketValue), money(v.Profit))

	switch {
	case g.Type == models.BoxSpread:
		fmt.Fprintf(&b, "    loan %s → %s (%d days)  exercise %s  implied APY %.2f%%\n",
			v.LoanStart.Format(dateLayout), g.Expiration().Format(dateLayout),
			v.LoanTermDays, money(v.ExerciseValueSum), v.ImpliedAPY*100)
	case v.RiskUnbounded:
		b.WriteString("    risk unbounded\n")
	default:
		fmt.Fprintf(&b, "    risk %s  half mark %.2f  double mark %.2f\n",
			money(v.Risk), v.HalfMark, v.DoubleMark)
	}
	return b.String()
}

func renderNaked(b *strings.Builder, naked []engine.ValuedNaked) {
	if len(naked) == 0 {
		return
	}
	b.WriteString("\nNaked positions\n")
	w := tabwriter.NewWriter(b, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  kind\tinstrument\tcount\taccount\tvalue\tprofit")
	for _, n := range naked {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\t%s\n",
			n.Kind, n.Leg.Description(), n.Leg.Count, n.Leg.Account,
			money(n.Valuation.Value), money(n.Valuation.Profit))
	}
	_ = w.Flush()
}

func renderExpirations(b *strings.Builder, values []engine.ExpirationValue) {
	if len(values) == 0 {
		return
	}
	b.WriteString("\nBalances after assignment\n")
	for _, v := range values {
		fmt.Fprintf(b, "  %s %s: %s\n",
			v.Account, v.Expiration.Format(dateLayout), money(v.ExerciseValue))
	}
}

func renderUnvalued(b *strings.Builder, unvalued []engine.UnvaluedLeg) {
	if len(unvalued) == 0 {
		return
	}
	b.WriteString("\nUnvalued\n")
	for _, u := range unvalued {
		fmt.Fprintf(b, "  %s x%d (%s): %s\n",
			u.Leg.Description(), u.Leg.Count, u.Leg.Account, u.Reason)
	}
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func strike(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Stamp prefixes a report with its generation time, for cached copies
// served later.
func Stamp(report string, generated time.Time) string {
	return fmt.Sprintf("generated %s\n%s", generated.UTC().Format(time.RFC3339), report)
}
