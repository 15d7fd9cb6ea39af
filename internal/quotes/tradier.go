package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kdufour/optworth/internal/models"
)

// strikeMatchEpsilon is the tolerance for matching chain strikes against
// journal strikes.
const strikeMatchEpsilon = 1e-3

const expirationParamLayout = "2006-01-02"

// APIError is a non-2xx market data API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierClient fetches quotes and option chains from the Tradier market
// data API. Chains are cached per symbol and expiration for the lifetime
// of the client, so a refresh needs a fresh client.
type TradierClient struct {
	client  *http.Client
	apiKey  string
	baseURL string

	mu     sync.Mutex
	chains map[string][]ChainOption
}

var _ Provider = (*TradierClient)(nil)

// NewTradierClient creates a Tradier market data client. An empty baseURL
// selects the production endpoint, or the sandbox endpoint when sandbox is
// set.
func NewTradierClient(apiKey string, sandbox bool, baseURL string) *TradierClient {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	return &TradierClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		chains:  make(map[string][]ChainOption),
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (t *TradierClient) WithHTTPClient(c *http.Client) *TradierClient {
	if c != nil {
		t.client = c
	}
	return t
}

// Handle single-object vs array responses from Tradier.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// QuoteItem is one underlying quote from the Tradier API.
type QuoteItem struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// ChainOption is one contract from a Tradier option chain.
type ChainOption struct {
	Symbol     string  `json:"symbol"`
	OptionType string  `json:"option_type"`
	Strike     float64 `json:"strike"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Last       float64 `json:"last"`
}

type chainResponse struct {
	Options struct {
		Option singleOrArray[ChainOption] `json:"option"`
	} `json:"options"`
}

// UnderlyingPrice returns the last traded price for a symbol, falling back
// to the bid/ask mid when the last print is stale-zero.
func (t *TradierClient) UnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response quotesResponse
	if err := t.makeRequestCtx(ctx, endpoint, &response); err != nil {
		return 0, fmt.Errorf("quoting %s: %w", symbol, err)
	}
	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return 0, &models.MissingPriceError{Ticker: symbol, Instrument: symbol}
	}
	q := quotes[0]
	if q.Last > 0 {
		return q.Last, nil
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2, nil
	}
	return 0, &models.MissingPriceError{Ticker: symbol, Instrument: symbol}
}

// OptionQuote returns the per-share premium for a leg, preferring the
// bid/ask mid over the last print. A contract absent from the chain is a
// *models.MissingPriceError.
func (t *TradierClient) OptionQuote(ctx context.Context, leg models.OptionLeg) (float64, error) {
	chain, err := t.chain(ctx, leg.Ticker, leg.Expiration)
	if err != nil {
		return 0, err
	}
	wantType := strings.ToLower(string(leg.Type))
	for _, opt := range chain {
		if opt.OptionType != wantType {
			continue
		}
		if math.Abs(opt.Strike-leg.Strike) > strikeMatchEpsilon {
			continue
		}
		if opt.Bid > 0 && opt.Ask > 0 {
			return (opt.Bid + opt.Ask) / 2, nil
		}
		return opt.Last, nil
	}
	return 0, &models.MissingPriceError{Ticker: leg.Ticker, Instrument: leg.Description()}
}

func (t *TradierClient) chain(ctx context.Context, symbol string, expiration time.Time) ([]ChainOption, error) {
	key := symbol + "|" + expiration.Format(expirationParamLayout)
	t.mu.Lock()
	cached, ok := t.chains[key]
	t.mu.Unlock()
	if ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration.Format(expirationParamLayout))
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response chainResponse
	if err := t.makeRequestCtx(ctx, endpoint, &response); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			// Unknown symbols (foreign indexes) quote as missing, not failed.
			return nil, &models.MissingPriceError{Ticker: symbol, Instrument: symbol}
		}
		return nil, fmt.Errorf("loading %s chain: %w", symbol, err)
	}
	chain := []ChainOption(response.Options.Option)

	t.mu.Lock()
	t.chains[key] = chain
	t.mu.Unlock()
	return chain, nil
}

func (t *TradierClient) makeRequestCtx(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "optworth/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
