// Package pit enforces point-in-time discipline around a MarketDataProvider.
// The trap wrapper fails any read that asks past the active bound and any
// response that leaks records dated after the requested horizon.
package pit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
)

// Violation records one point-in-time breach observed by the trap.
type Violation struct {
	Op     string
	Detail string
	At     time.Time
}

// Trap wraps an inner provider and verifies every read against a movable
// as-of bound. A zero bound disables request checking; response checking
// against the requested horizon is always on.
type Trap struct {
	inner data.MarketDataProvider

	mu         sync.Mutex
	bound      time.Time
	violations []Violation
}

// NewTrap wraps inner with point-in-time enforcement.
func NewTrap(inner data.MarketDataProvider) *Trap {
	return &Trap{inner: inner}
}

var _ data.MarketDataProvider = (*Trap)(nil)

// SetBound moves the active as-of bound. Reads asking past the bound fail.
func (t *Trap) SetBound(d time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = d
}

// Violations returns every breach recorded so far.
func (t *Trap) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Violation, len(t.violations))
	copy(out, t.violations)
	return out
}

func (t *Trap) record(op, detail string, at time.Time) error {
	t.mu.Lock()
	t.violations = append(t.violations, Violation{Op: op, Detail: detail, At: at})
	t.mu.Unlock()
	return fmt.Errorf("point-in-time violation in %s: %s", op, detail)
}

func (t *Trap) checkRequest(op string, horizon time.Time) error {
	t.mu.Lock()
	bound := t.bound
	t.mu.Unlock()
	if bound.IsZero() || !horizon.After(bound) {
		return nil
	}
	return t.record(op, fmt.Sprintf("requested horizon %s past bound %s",
		horizon.Format("2006-01-02"), bound.Format("2006-01-02")), horizon)
}

func (t *Trap) checkSeries(op string, horizon time.Time, s data.PriceSeries) error {
	for _, pt := range s {
		if pt.Date.After(horizon) {
			return t.record(op, fmt.Sprintf("record dated %s past horizon %s",
				pt.Date.Format("2006-01-02"), horizon.Format("2006-01-02")), pt.Date)
		}
	}
	return nil
}

func (t *Trap) Prices(ctx context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	if err := t.checkRequest("prices", end); err != nil {
		return nil, err
	}
	s, err := t.inner.Prices(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	if err := t.checkSeries("prices", end, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Trap) Fundamentals(ctx context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	if err := t.checkRequest("fundamentals", asOf); err != nil {
		return data.FundamentalSnapshot{}, err
	}
	return t.inner.Fundamentals(ctx, ticker, asOf)
}

func (t *Trap) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	if err := t.checkRequest("market_caps", asOf); err != nil {
		return nil, err
	}
	return t.inner.MarketCaps(ctx, tickers, asOf)
}

func (t *Trap) BenchmarkPrices(ctx context.Context, start, end time.Time) (data.PriceSeries, error) {
	if err := t.checkRequest("benchmark_prices", end); err != nil {
		return nil, err
	}
	s, err := t.inner.BenchmarkPrices(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if err := t.checkSeries("benchmark_prices", end, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Trap) CAPE(ctx context.Context, asOf time.Time) (float64, error) {
	if err := t.checkRequest("cape", asOf); err != nil {
		return 0, err
	}
	return t.inner.CAPE(ctx, asOf)
}

func (t *Trap) FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]data.FFSeries, error) {
	if err := t.checkRequest("ff_factor_window", end); err != nil {
		return nil, err
	}
	return t.inner.FFFactorWindow(ctx, end, months)
}

func (t *Trap) IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	if err := t.checkRequest("index_history", end); err != nil {
		return nil, err
	}
	s, err := t.inner.IndexHistory(ctx, symbol, end, lookbackDays)
	if err != nil {
		return nil, err
	}
	if err := t.checkSeries("index_history", end, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Trap) VIXStructure(ctx context.Context, asOf time.Time) (data.VIXStructure, error) {
	if err := t.checkRequest("vix_structure", asOf); err != nil {
		return data.VIXStructure{}, err
	}
	return t.inner.VIXStructure(ctx, asOf)
}
