// Package data defines the market data provider contract the engine consumes
// and the point-in-time types that flow across it.
package data

import (
	"context"
	"math"
	"sort"
	"time"
)

// Missing is the sentinel for an absent numeric field.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v carries the missing sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// PricePoint is one adjusted close observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered sequence of adjusted closes with strictly
// increasing dates.
type PriceSeries []PricePoint

// Len returns the number of observations.
func (s PriceSeries) Len() int { return len(s) }

// Last returns the final observation. Callers must check Len first.
func (s PriceSeries) Last() PricePoint { return s[len(s)-1] }

// First returns the initial observation. Callers must check Len first.
func (s PriceSeries) First() PricePoint { return s[0] }

// CloseOnOrBefore returns the last close observed on or before d, or the
// missing sentinel when no such observation exists.
func (s PriceSeries) CloseOnOrBefore(d time.Time) float64 {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Date.After(d) })
	if idx == 0 {
		return Missing()
	}
	return s[idx-1].Close
}

// Truncate returns the prefix of the series with dates on or before d.
func (s PriceSeries) Truncate(d time.Time) PriceSeries {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Date.After(d) })
	return s[:idx]
}

// Returns computes simple period returns between consecutive observations.
func (s PriceSeries) Returns() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, s[i].Close/prev-1)
	}
	return out
}

// FundamentalSnapshot holds the most recent as-of values for a ticker.
// Absent fields carry the missing sentinel.
type FundamentalSnapshot struct {
	FreeCashFlowTTM    float64 `json:"fcf_ttm"`
	EBITTTM            float64 `json:"ebit_ttm"`
	RevenueTTM         float64 `json:"revenue_ttm"`
	GrossProfitTTM     float64 `json:"gross_profit_ttm"`
	TotalAssets        float64 `json:"total_assets"`
	CurrentLiabilities float64 `json:"current_liabilities"`
	SharesOutstanding  float64 `json:"shares_outstanding"`
}

// EmptySnapshot returns a snapshot with every field missing.
func EmptySnapshot() FundamentalSnapshot {
	return FundamentalSnapshot{
		FreeCashFlowTTM:    Missing(),
		EBITTTM:            Missing(),
		RevenueTTM:         Missing(),
		GrossProfitTTM:     Missing(),
		TotalAssets:        Missing(),
		CurrentLiabilities: Missing(),
		SharesOutstanding:  Missing(),
	}
}

// VIXStructure holds the three-point volatility term structure at a date.
type VIXStructure struct {
	VIX9D  float64 `json:"vix9d"`
	VIX30D float64 `json:"vix30d"`
	VIX3M  float64 `json:"vix3m"`
}

// Complete reports whether all three legs are present.
func (v VIXStructure) Complete() bool {
	return !IsMissing(v.VIX9D) && !IsMissing(v.VIX30D) && !IsMissing(v.VIX3M)
}

// FFSeries carries a trailing window of monthly factor returns together with
// the full-history mean and standard deviation supplied by the source.
type FFSeries struct {
	Monthly  []float64 `json:"monthly"`
	HistMean float64   `json:"hist_mean"`
	HistStd  float64   `json:"hist_std"`
}

// Fama-French factor names recognized by FFFactorWindow.
const (
	FFHML   = "HML"
	FFRMW   = "RMW"
	FFSMB   = "SMB"
	FFMktRF = "Mkt-RF"
)

// MinPriceRows is the minimum price history required before a series is
// usable for factor computation.
const MinPriceRows = 252

// MarketDataProvider supplies point-in-time prices, fundamentals, and macro
// series. Every operation is bounded by an as-of or end date; conforming
// implementations never return records observed after that bound.
//
// Per-request misses are reported as errs.ErrDataUnavailable. Transport-level
// failure is errs.ErrProviderUnavailable.
type MarketDataProvider interface {
	// Prices returns the adjusted close series for ticker over [start, end].
	Prices(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error)

	// Fundamentals returns the most recent snapshot observable by asOf.
	Fundamentals(ctx context.Context, ticker string, asOf time.Time) (FundamentalSnapshot, error)

	// MarketCaps returns point-in-time market capitalizations for tickers.
	MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error)

	// BenchmarkPrices returns the benchmark adjusted close series.
	BenchmarkPrices(ctx context.Context, start, end time.Time) (PriceSeries, error)

	// CAPE returns the Shiller CAPE observable by asOf.
	CAPE(ctx context.Context, asOf time.Time) (float64, error)

	// FFFactorWindow returns trailing monthly factor returns ending at or
	// before end, keyed by factor name.
	FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]FFSeries, error)

	// IndexHistory returns the index close series ending at or before end.
	IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (PriceSeries, error)

	// VIXStructure returns the volatility term structure observable at asOf.
	VIXStructure(ctx context.Context, asOf time.Time) (VIXStructure, error)
}
