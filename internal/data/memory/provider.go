// Package memory implements an in-memory MarketDataProvider backed by fixture
// maps. It is the reference implementation for tests and offline runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

// FundamentalRecord is a snapshot with its observation date.
type FundamentalRecord struct {
	ObservedAt time.Time
	Snapshot   data.FundamentalSnapshot
}

// CAPERecord is one CAPE observation.
type CAPERecord struct {
	ObservedAt time.Time
	Value      float64
}

// VIXRecord is one term-structure observation.
type VIXRecord struct {
	ObservedAt time.Time
	Structure  data.VIXStructure
}

// SharesRecord is one shares-outstanding observation used for market caps.
type SharesRecord struct {
	ObservedAt time.Time
	Shares     float64
}

// Provider serves fixture data with point-in-time truncation applied on
// every dated read. FFMonthly series carry no dates, so FFFactorWindow
// returns the trailing months of each series whatever the end date.
// All fixture slices must be sorted by observation date.
type Provider struct {
	PriceData     map[string]data.PriceSeries
	Fundamental   map[string][]FundamentalRecord
	SharesHistory map[string][]SharesRecord
	Benchmark     data.PriceSeries
	Indexes       map[string]data.PriceSeries
	CAPEHistory   []CAPERecord
	VIXHistory    []VIXRecord
	FFMonthly     map[string]data.FFSeries
}

// New returns an empty provider ready for fixture population.
func New() *Provider {
	return &Provider{
		PriceData:     make(map[string]data.PriceSeries),
		Fundamental:   make(map[string][]FundamentalRecord),
		SharesHistory: make(map[string][]SharesRecord),
		Indexes:       make(map[string]data.PriceSeries),
		FFMonthly:     make(map[string]data.FFSeries),
	}
}

var _ data.MarketDataProvider = (*Provider)(nil)

func (p *Provider) Prices(_ context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	series, ok := p.PriceData[ticker]
	if !ok {
		return nil, fmt.Errorf("prices %s: %w", ticker, errs.ErrDataUnavailable)
	}
	series = series.Truncate(end)
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(start) })
	series = series[idx:]
	if len(series) == 0 {
		return nil, fmt.Errorf("prices %s: empty window: %w", ticker, errs.ErrDataUnavailable)
	}
	return series, nil
}

func (p *Provider) Fundamentals(_ context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	recs, ok := p.Fundamental[ticker]
	if !ok || len(recs) == 0 {
		return data.FundamentalSnapshot{}, fmt.Errorf("fundamentals %s: %w", ticker, errs.ErrDataUnavailable)
	}
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].ObservedAt.After(asOf) })
	if idx == 0 {
		return data.FundamentalSnapshot{}, fmt.Errorf("fundamentals %s: nothing observable by %s: %w",
			ticker, asOf.Format("2006-01-02"), errs.ErrDataUnavailable)
	}
	return recs[idx-1].Snapshot, nil
}

func (p *Provider) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		shares, ok := p.sharesAt(t, asOf)
		if !ok {
			continue
		}
		series, ok := p.PriceData[t]
		if !ok {
			continue
		}
		px := series.CloseOnOrBefore(asOf)
		if data.IsMissing(px) {
			continue
		}
		out[t] = shares * px
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("market caps: %w", errs.ErrDataUnavailable)
	}
	return out, nil
}

func (p *Provider) sharesAt(ticker string, asOf time.Time) (float64, bool) {
	recs := p.SharesHistory[ticker]
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].ObservedAt.After(asOf) })
	if idx == 0 {
		// fall back to the latest fundamentals snapshot
		snap, err := p.Fundamentals(context.Background(), ticker, asOf)
		if err != nil || data.IsMissing(snap.SharesOutstanding) {
			return 0, false
		}
		return snap.SharesOutstanding, true
	}
	return recs[idx-1].Shares, true
}

func (p *Provider) BenchmarkPrices(_ context.Context, start, end time.Time) (data.PriceSeries, error) {
	if len(p.Benchmark) == 0 {
		return nil, fmt.Errorf("benchmark: %w", errs.ErrProviderUnavailable)
	}
	series := p.Benchmark.Truncate(end)
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(start) })
	series = series[idx:]
	if len(series) == 0 {
		return nil, fmt.Errorf("benchmark: empty window: %w", errs.ErrDataUnavailable)
	}
	return series, nil
}

func (p *Provider) CAPE(_ context.Context, asOf time.Time) (float64, error) {
	idx := sort.Search(len(p.CAPEHistory), func(i int) bool { return p.CAPEHistory[i].ObservedAt.After(asOf) })
	if idx == 0 {
		return 0, fmt.Errorf("cape: %w", errs.ErrDataUnavailable)
	}
	return p.CAPEHistory[idx-1].Value, nil
}

func (p *Provider) FFFactorWindow(_ context.Context, _ time.Time, months int) (map[string]data.FFSeries, error) {
	if len(p.FFMonthly) == 0 {
		return nil, fmt.Errorf("ff factors: %w", errs.ErrDataUnavailable)
	}
	out := make(map[string]data.FFSeries, len(p.FFMonthly))
	for name, s := range p.FFMonthly {
		monthly := s.Monthly
		if len(monthly) > months {
			monthly = monthly[len(monthly)-months:]
		}
		out[name] = data.FFSeries{Monthly: monthly, HistMean: s.HistMean, HistStd: s.HistStd}
	}
	return out, nil
}

func (p *Provider) IndexHistory(_ context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	series, ok := p.Indexes[symbol]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", symbol, errs.ErrDataUnavailable)
	}
	series = series.Truncate(end)
	if len(series) > lookbackDays {
		series = series[len(series)-lookbackDays:]
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("index %s: empty window: %w", symbol, errs.ErrDataUnavailable)
	}
	return series, nil
}

func (p *Provider) VIXStructure(_ context.Context, asOf time.Time) (data.VIXStructure, error) {
	idx := sort.Search(len(p.VIXHistory), func(i int) bool { return p.VIXHistory[i].ObservedAt.After(asOf) })
	if idx == 0 {
		return data.VIXStructure{}, fmt.Errorf("vix structure: %w", errs.ErrDataUnavailable)
	}
	return p.VIXHistory[idx-1].Structure, nil
}
