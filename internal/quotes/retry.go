package quotes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdufour/optworth/internal/models"
)

// RetryConfig controls transient-failure retries on market data calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig is tuned for a batch valuation run: a couple of quick
// retries, never minutes of stalling.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     15 * time.Second,
}

// RetryProvider retries transient provider failures with jittered
// exponential backoff. Missing prices and permanent API errors are
// returned immediately.
type RetryProvider struct {
	provider Provider
	log      *logrus.Logger
	config   RetryConfig
}

var _ Provider = (*RetryProvider)(nil)

// NewRetryProvider wraps a provider with retry behavior.
func NewRetryProvider(p Provider, log *logrus.Logger, config ...RetryConfig) *RetryProvider {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if log == nil {
		log = logrus.New()
	}
	return &RetryProvider{provider: p, log: log, config: cfg}
}

// UnderlyingPrice implements Provider.
func (r *RetryProvider) UnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	return retryCall(ctx, r, symbol, func() (float64, error) {
		return r.provider.UnderlyingPrice(ctx, symbol)
	})
}

// OptionQuote implements Provider.
func (r *RetryProvider) OptionQuote(ctx context.Context, leg models.OptionLeg) (float64, error) {
	return retryCall(ctx, r, leg.Description(), func() (float64, error) {
		return r.provider.OptionQuote(ctx, leg)
	})
}

func retryCall[T any](ctx context.Context, r *RetryProvider, what string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isTransientError(err) {
			return zero, err
		}
		if attempt == r.config.MaxRetries {
			break
		}
		r.log.WithError(err).WithField("instrument", what).
			Warnf("transient market data error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = r.nextBackoff(backoff)
		case <-ctx.Done():
			return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}
	return zero, fmt.Errorf("market data for %s failed after %d attempts: %w",
		what, r.config.MaxRetries+1, lastErr)
}

func (r *RetryProvider) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var missing *models.MissingPriceError
	if errors.As(err, &missing) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"rate limit",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
