package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/kdufour/optworth/internal/models"
)

// CircuitBreakerProvider wraps a Provider with circuit breaker
// functionality so a flapping market data API fails fast instead of
// stalling the whole valuation run.
type CircuitBreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

var _ Provider = (*CircuitBreakerProvider)(nil)

// BreakerSettings configures circuit breaker behavior.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerProvider wraps a provider with sensible defaults.
func NewCircuitBreakerProvider(p Provider, log *logrus.Logger) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(p, log, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerProviderWithSettings wraps a provider with custom
// breaker settings.
func NewCircuitBreakerProviderWithSettings(p Provider, log *logrus.Logger, settings BreakerSettings) *CircuitBreakerProvider {
	if log == nil {
		log = logrus.New()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}
	return &CircuitBreakerProvider{
		provider: p,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
// Missing prices are an answer, not a failure, so they pass through without
// counting against the breaker.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	var missing *models.MissingPriceError
	res, err := breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && errors.As(err, &missing) {
			return v, nil
		}
		return v, err
	})
	if missing != nil {
		return zero, missing
	}
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// UnderlyingPrice wraps the underlying provider call with the breaker.
func (c *CircuitBreakerProvider) UnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	return execBreaker(c.breaker, func() (float64, error) { return c.provider.UnderlyingPrice(ctx, symbol) })
}

// OptionQuote wraps the underlying provider call with the breaker.
func (c *CircuitBreakerProvider) OptionQuote(ctx context.Context, leg models.OptionLeg) (float64, error) {
	return execBreaker(c.breaker, func() (float64, error) { return c.provider.OptionQuote(ctx, leg) })
}
