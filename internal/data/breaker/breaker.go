// Package breaker wraps a MarketDataProvider with a circuit breaker. An open
// breaker converts every call into ErrProviderUnavailable so the backtest
// driver can abort cleanly instead of hammering a failing source.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/metrics"
)

// Settings tune the breaker trip behavior.
type Settings struct {
	MaxFailures uint32
	Cooldown    time.Duration
}

// Provider guards an inner provider behind a shared circuit breaker.
type Provider struct {
	inner     data.MarketDataProvider
	cb        *gobreaker.CircuitBreaker
	collector *metrics.Collector
	logger    zerolog.Logger
}

// New wraps inner with a circuit breaker.
func New(inner data.MarketDataProvider, s Settings) *Provider {
	p := &Provider{
		inner:  inner,
		logger: log.With().Str("component", "data_breaker").Logger(),
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market_data",
		Timeout: s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// per-request misses are not transport failures
			return err == nil || errors.Is(err, errs.ErrDataUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			if p.collector != nil {
				p.collector.RecordBreakerTransition(to.String())
			}
		},
	})
	return p
}

// WithMetrics attaches a collector that records request outcomes and state
// transitions. Call before first use.
func (p *Provider) WithMetrics(c *metrics.Collector) *Provider {
	p.collector = c
	return p
}

var _ data.MarketDataProvider = (*Provider)(nil)

func execute[T any](p *Provider, op string, fn func() (T, error)) (T, error) {
	var zero T
	started := time.Now()
	result, err := p.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if p.collector != nil {
		p.collector.RecordProviderRequest(op, time.Since(started), err)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: breaker open: %w", op, errs.ErrProviderUnavailable)
		}
		return zero, err
	}
	return result.(T), nil
}

func (p *Provider) Prices(ctx context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	return execute(p, "prices", func() (data.PriceSeries, error) {
		return p.inner.Prices(ctx, ticker, start, end)
	})
}

func (p *Provider) Fundamentals(ctx context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	return execute(p, "fundamentals", func() (data.FundamentalSnapshot, error) {
		return p.inner.Fundamentals(ctx, ticker, asOf)
	})
}

func (p *Provider) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	return execute(p, "market_caps", func() (map[string]float64, error) {
		return p.inner.MarketCaps(ctx, tickers, asOf)
	})
}

func (p *Provider) BenchmarkPrices(ctx context.Context, start, end time.Time) (data.PriceSeries, error) {
	return execute(p, "benchmark_prices", func() (data.PriceSeries, error) {
		return p.inner.BenchmarkPrices(ctx, start, end)
	})
}

func (p *Provider) CAPE(ctx context.Context, asOf time.Time) (float64, error) {
	return execute(p, "cape", func() (float64, error) {
		return p.inner.CAPE(ctx, asOf)
	})
}

func (p *Provider) FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]data.FFSeries, error) {
	return execute(p, "ff_factor_window", func() (map[string]data.FFSeries, error) {
		return p.inner.FFFactorWindow(ctx, end, months)
	})
}

func (p *Provider) IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	return execute(p, "index_history", func() (data.PriceSeries, error) {
		return p.inner.IndexHistory(ctx, symbol, end, lookbackDays)
	})
}

func (p *Provider) VIXStructure(ctx context.Context, asOf time.Time) (data.VIXStructure, error) {
	return execute(p, "vix_structure", func() (data.VIXStructure, error) {
		return p.inner.VIXStructure(ctx, asOf)
	})
}
