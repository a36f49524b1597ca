// Package ratelimit throttles calls to a MarketDataProvider with a shared
// token bucket. Intended for providers backed by remote HTTP sources.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/equityrun/internal/data"
)

// Provider applies a token-bucket limit ahead of every inner call.
type Provider struct {
	inner   data.MarketDataProvider
	limiter *rate.Limiter
}

// New wraps inner with a limiter of perSec tokens and the given burst.
func New(inner data.MarketDataProvider, perSec float64, burst int) *Provider {
	return &Provider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

var _ data.MarketDataProvider = (*Provider)(nil)

func (p *Provider) wait(ctx context.Context, op string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	return nil
}

func (p *Provider) Prices(ctx context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	if err := p.wait(ctx, "prices"); err != nil {
		return nil, err
	}
	return p.inner.Prices(ctx, ticker, start, end)
}

func (p *Provider) Fundamentals(ctx context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	if err := p.wait(ctx, "fundamentals"); err != nil {
		return data.FundamentalSnapshot{}, err
	}
	return p.inner.Fundamentals(ctx, ticker, asOf)
}

func (p *Provider) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	if err := p.wait(ctx, "market_caps"); err != nil {
		return nil, err
	}
	return p.inner.MarketCaps(ctx, tickers, asOf)
}

func (p *Provider) BenchmarkPrices(ctx context.Context, start, end time.Time) (data.PriceSeries, error) {
	if err := p.wait(ctx, "benchmark_prices"); err != nil {
		return nil, err
	}
	return p.inner.BenchmarkPrices(ctx, start, end)
}

func (p *Provider) CAPE(ctx context.Context, asOf time.Time) (float64, error) {
	if err := p.wait(ctx, "cape"); err != nil {
		return 0, err
	}
	return p.inner.CAPE(ctx, asOf)
}

func (p *Provider) FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]data.FFSeries, error) {
	if err := p.wait(ctx, "ff_factor_window"); err != nil {
		return nil, err
	}
	return p.inner.FFFactorWindow(ctx, end, months)
}

func (p *Provider) IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	if err := p.wait(ctx, "index_history"); err != nil {
		return nil, err
	}
	return p.inner.IndexHistory(ctx, symbol, end, lookbackDays)
}

func (p *Provider) VIXStructure(ctx context.Context, asOf time.Time) (data.VIXStructure, error) {
	if err := p.wait(ctx, "vix_structure"); err != nil {
		return data.VIXStructure{}, err
	}
	return p.inner.VIXStructure(ctx, asOf)
}
