package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

// realizeReturn computes the book's return over (from, to] using the weights
// set at from. Cash earns zero; a ticker with no usable prices contributes
// flat.
func (d *Driver) realizeReturn(ctx context.Context, held Entry, from, to time.Time) (float64, error) {
	var total float64
	for ticker, weight := range held.Weights {
		if weight == 0 {
			continue
		}
		series, err := d.provider.Prices(ctx, ticker, from.AddDate(0, 0, -7), to)
		if err != nil {
			d.logger.Debug().Err(err).Str("ticker", ticker).Msg("Prices unavailable for return realization")
			continue
		}
		open := series.CloseOnOrBefore(from)
		close := series.CloseOnOrBefore(to)
		if data.IsMissing(open) || data.IsMissing(close) || open == 0 {
			continue
		}
		total += weight * (close/open - 1)
	}
	return total, nil
}

// benchmarkReturn computes the benchmark return over (from, to].
func (d *Driver) benchmarkReturn(ctx context.Context, from, to time.Time) (float64, error) {
	series, err := d.provider.BenchmarkPrices(ctx, from.AddDate(0, 0, -7), to)
	if err != nil {
		return 0, fmt.Errorf("benchmark over %s..%s: %w", from.Format("2006-01-02"), to.Format("2006-01-02"), errs.ErrProviderUnavailable)
	}
	open := series.CloseOnOrBefore(from)
	close := series.CloseOnOrBefore(to)
	if data.IsMissing(open) || data.IsMissing(close) || open == 0 {
		return 0, nil
	}
	return close/open - 1, nil
}

func (d *Driver) skip(result *Result, asOf time.Time, reason string) {
	d.logger.Warn().Time("as_of", asOf).Str("reason", reason).Msg("Rebalance skipped")
	result.Diagnostics.Skipped = append(result.Diagnostics.Skipped, SkippedDate{Date: asOf, Reason: reason})
}

// carryForward re-books the previous weights under the new date, or nothing
// when no prior entry exists.
func (d *Driver) carryForward(result *Result, asOf time.Time, note string) *Entry {
	prev, ok := result.Ledger.Last()
	if !ok {
		return nil
	}
	weights := make(map[string]float64, len(prev.Weights))
	for t, w := range prev.Weights {
		weights[t] = w
	}
	return &Entry{
		Date:           asOf,
		Weights:        weights,
		Regime:         prev.Regime,
		Exposure:       prev.Exposure,
		ExpectedReturn: prev.ExpectedReturn,
		Volatility:     prev.Volatility,
		Sharpe:         prev.Sharpe,
		Note:           note,
	}
}

func dropCapless(optSet []string, series map[string]data.PriceSeries, caps map[string]float64, asOf time.Time, result *Result) ([]string, map[string]data.PriceSeries) {
	kept := optSet[:0]
	for _, t := range optSet {
		if c, ok := caps[t]; !ok || c <= 0 || math.IsNaN(c) {
			delete(series, t)
			result.Diagnostics.Dropped = append(result.Diagnostics.Dropped,
				DroppedTicker{Date: asOf, Ticker: t, Reason: errs.ErrDataUnavailable.Error()})
			continue
		}
		kept = append(kept, t)
	}
	return kept, series
}

func turnoverBetween(prev, next map[string]float64) float64 {
	var t float64
	seen := make(map[string]bool, len(prev)+len(next))
	for ticker, w := range next {
		t += math.Abs(w - prev[ticker])
		seen[ticker] = true
	}
	for ticker, w := range prev {
		if !seen[ticker] {
			t += math.Abs(w)
		}
	}
	return t
}
