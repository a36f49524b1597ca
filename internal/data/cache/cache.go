// Package cache provides a Redis read-through wrapper around any
// MarketDataProvider. Cache failures degrade to the inner provider; they are
// never surfaced to callers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/metrics"
)

// Provider caches inner provider responses in Redis with a fixed TTL.
type Provider struct {
	inner     data.MarketDataProvider
	client    *redis.Client
	ttl       time.Duration
	collector *metrics.Collector
	logger    zerolog.Logger
}

// New wraps inner with a Redis read-through cache.
func New(inner data.MarketDataProvider, client *redis.Client, ttl time.Duration) *Provider {
	return &Provider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: log.With().Str("component", "data_cache").Logger(),
	}
}

// WithMetrics attaches a collector that counts hits and misses per record
// kind. Call before first use; the provider is not safe to reconfigure
// concurrently.
func (p *Provider) WithMetrics(c *metrics.Collector) *Provider {
	p.collector = c
	return p
}

var _ data.MarketDataProvider = (*Provider)(nil)

const day = "2006-01-02"

// kind is the key segment before the first colon.
func (p *Provider) recordHit(key string) {
	if p.collector != nil {
		p.collector.RecordCacheHit(keyKind(key))
	}
}

func (p *Provider) recordMiss(key string) {
	if p.collector != nil {
		p.collector.RecordCacheMiss(keyKind(key))
	}
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// readThrough fetches key from Redis into dest, falling back to fill on miss
// and writing the filled value back with the configured TTL.
func readThrough[T any](ctx context.Context, p *Provider, key string, fill func() (T, error)) (T, error) {
	var zero T

	raw, err := p.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			p.recordHit(key)
			return cached, nil
		}
		p.logger.Warn().Str("key", key).Msg("dropping undecodable cache entry")
		p.client.Del(ctx, key)
	} else if err != redis.Nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling through")
	}
	p.recordMiss(key)

	value, err := fill()
	if err != nil {
		return zero, err
	}

	if encoded, err := json.Marshal(value); err == nil {
		if err := p.client.Set(ctx, key, encoded, p.ttl).Err(); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return value, nil
}

func (p *Provider) Prices(ctx context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	key := fmt.Sprintf("prices:%s:%s:%s", ticker, start.Format(day), end.Format(day))
	return readThrough(ctx, p, key, func() (data.PriceSeries, error) {
		return p.inner.Prices(ctx, ticker, start, end)
	})
}

func (p *Provider) Fundamentals(ctx context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	key := fmt.Sprintf("fundamentals:%s:%s", ticker, asOf.Format(day))
	return readThrough(ctx, p, key, func() (data.FundamentalSnapshot, error) {
		return p.inner.Fundamentals(ctx, ticker, asOf)
	})
}

func (p *Provider) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	// keyed by date and the full ticker list, so different ticker sets never
	// share an entry
	key := fmt.Sprintf("market_caps:%s:%s", asOf.Format(day), strings.Join(tickers, ","))
	return readThrough(ctx, p, key, func() (map[string]float64, error) {
		return p.inner.MarketCaps(ctx, tickers, asOf)
	})
}

func (p *Provider) BenchmarkPrices(ctx context.Context, start, end time.Time) (data.PriceSeries, error) {
	key := fmt.Sprintf("benchmark:%s:%s", start.Format(day), end.Format(day))
	return readThrough(ctx, p, key, func() (data.PriceSeries, error) {
		return p.inner.BenchmarkPrices(ctx, start, end)
	})
}

func (p *Provider) CAPE(ctx context.Context, asOf time.Time) (float64, error) {
	key := fmt.Sprintf("cape:%s", asOf.Format(day))
	return readThrough(ctx, p, key, func() (float64, error) {
		return p.inner.CAPE(ctx, asOf)
	})
}

func (p *Provider) FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]data.FFSeries, error) {
	key := fmt.Sprintf("ff:%s:%d", end.Format(day), months)
	return readThrough(ctx, p, key, func() (map[string]data.FFSeries, error) {
		return p.inner.FFFactorWindow(ctx, end, months)
	})
}

func (p *Provider) IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	key := fmt.Sprintf("index:%s:%s:%d", symbol, end.Format(day), lookbackDays)
	return readThrough(ctx, p, key, func() (data.PriceSeries, error) {
		return p.inner.IndexHistory(ctx, symbol, end, lookbackDays)
	})
}

func (p *Provider) VIXStructure(ctx context.Context, asOf time.Time) (data.VIXStructure, error) {
	key := fmt.Sprintf("vix:%s", asOf.Format(day))
	return readThrough(ctx, p, key, func() (data.VIXStructure, error) {
		return p.inner.VIXStructure(ctx, asOf)
	})
}
