// Package ledger loads option positions and their historical cost out of a
// ledger-cli journal. The ledger binary is invoked through a Runner
// interface so tests can substitute canned output.
package ledger

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/kdufour/optworth/internal/models"
)

// optionCommodityPattern matches option instrument commodities in the
// journal, e.g. "SPY 2026-12-18 450 PUT".
const optionCommodityPattern = " (CALL|PUT)"

const expirationLayout = "2006-01-02"

// Runner executes the ledger binary and returns its stdout.
type Runner interface {
	Output(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs a real ledger binary against a journal file.
type ExecRunner struct {
	Binary string
	File   string
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-f", r.File}, args...)
	out, err := exec.CommandContext(ctx, r.Binary, full...).Output()
	if err != nil {
		return "", fmt.Errorf("running %s %s: %w", r.Binary, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Config holds instrument conventions the journal itself does not carry.
type Config struct {
	// IndexTickers are cash-settled index instruments (SPX, SMI).
	IndexTickers []string
	// Multipliers overrides the contract multiplier per ticker; unlisted
	// tickers use the standard 100 shares per contract.
	Multipliers map[string]float64
	// CHFSettledTickers have their multiplier and ledger amounts converted
	// from CHF at the CHFUSD rate.
	CHFSettledTickers []string
	// CHFUSD is the CHF→USD conversion rate.
	CHFUSD float64
}

func (c Config) isIndex(ticker string) bool {
	for _, t := range c.IndexTickers {
		if t == ticker {
			return true
		}
	}
	return false
}

func (c Config) isCHFSettled(ticker string) bool {
	for _, t := range c.CHFSettledTickers {
		if t == ticker {
			return true
		}
	}
	return false
}

func (c Config) multiplier(ticker string) float64 {
	m := models.SharesPerContract
	if override, ok := c.Multipliers[ticker]; ok {
		m = override
	}
	if c.isCHFSettled(ticker) {
		m *= c.CHFUSD
	}
	return m
}

// Client reads option legs and cost basis from the ledger journal.
type Client struct {
	runner Runner
	cfg    Config
	log    *logrus.Logger
}

// NewClient creates a ledger client.
func NewClient(runner Runner, cfg Config, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{runner: runner, cfg: cfg, log: log}
}

// Legs loads the current option balance per account as one leg per
// account/instrument. Malformed rows are dropped and returned as collected
// errors; only a ledger invocation failure aborts.
func (c *Client) Legs(ctx context.Context) ([]models.OptionLeg, []error, error) {
	out, err := c.runner.Output(ctx,
		"--limit", fmt.Sprintf("commodity=~/%s/", optionCommodityPattern),
		"bal", "--no-total", "--flat",
		"--balance-format", "%(partial_account)\n%(strip(T))\n",
	)
	if err != nil {
		return nil, nil, fmt.Errorf("loading option balances: %w", err)
	}

	var legs []models.OptionLeg
	var dropped []error
	account := ""
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if unicode.IsLetter(rune(line[0])) {
			// Account header: keep the leaf component.
			parts := strings.Split(strings.TrimSpace(line), ":")
			account = parts[len(parts)-1]
			continue
		}
		if account == "" {
			continue
		}
		leg, err := c.parseBalanceLine(account, strings.TrimSpace(line))
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed ledger row")
			dropped = append(dropped, err)
			continue
		}
		legs = append(legs, leg)
	}
	return models.SortLegs(models.AggregateLegs(legs)), dropped, nil
}

// parseBalanceLine parses one `<count> "<TICKER> <EXPIRATION> <STRIKE>
// <CALL|PUT>"` balance row.
func (c *Client) parseBalanceLine(account, line string) (models.OptionLeg, error) {
	malformed := func(reason string) error {
		return &models.MalformedLegError{Account: account, Raw: line, Reason: reason}
	}

	countStr, name, found := strings.Cut(line, " ")
	if !found {
		return models.OptionLeg{}, malformed("missing instrument name")
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return models.OptionLeg{}, malformed("bad contract count")
	}
	if count == 0 {
		return models.OptionLeg{}, malformed("zero contract count")
	}

	name = strings.Trim(strings.TrimSpace(name), `"`)
	fields := strings.Fields(name)
	if len(fields) != 4 {
		return models.OptionLeg{}, malformed("instrument must be TICKER EXPIRATION STRIKE CALL|PUT")
	}
	ticker := fields[0]
	expiration, err := time.ParseInLocation(expirationLayout, fields[1], time.UTC)
	if err != nil {
		return models.OptionLeg{}, malformed("bad expiration date")
	}
	strike, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || strike <= 0 {
		return models.OptionLeg{}, malformed("bad strike")
	}
	typ, err := models.ParseOptionType(fields[3])
	if err != nil {
		return models.OptionLeg{}, malformed("bad option type")
	}

	return models.OptionLeg{
		Account:    account,
		Ticker:     ticker,
		Type:       typ,
		Strike:     strike,
		Expiration: expiration,
		Count:      count,
		Multiplier: c.cfg.multiplier(ticker),
		IsIndex:    c.cfg.isIndex(ticker),
	}, nil
}
