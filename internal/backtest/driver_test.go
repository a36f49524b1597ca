package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/data/memory"
	"github.com/sawpanic/equityrun/internal/data/pit"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/universe"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dailySeries produces one close per calendar day with compound drift.
func dailySeries(start, end time.Time, base, dailyDrift float64) data.PriceSeries {
	var out data.PriceSeries
	px := base
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, data.PricePoint{Date: d, Close: px})
		px *= 1 + dailyDrift
	}
	return out
}

type tickerSpec struct {
	ticker string
	sector string
	base   float64
	drift  float64
	fcf    float64
}

// fixture builds a provider and resolver for a five-ticker universe with
// full price, fundamental, and benchmark coverage over 2021-2023.
func fixture(specs []tickerSpec) (*memory.Provider, universe.Resolver) {
	start, end := day(2021, 1, 1), day(2023, 12, 31)
	p := memory.New()
	p.Benchmark = dailySeries(start, end, 400, 0.0002)

	members := make([]universe.Membership, 0, len(specs))
	for _, s := range specs {
		p.PriceData[s.ticker] = dailySeries(start, end, s.base, s.drift)
		p.Fundamental[s.ticker] = []memory.FundamentalRecord{{
			ObservedAt: day(2021, 3, 1),
			Snapshot: data.FundamentalSnapshot{
				FreeCashFlowTTM:    s.fcf,
				EBITTTM:            s.fcf * 1.2,
				RevenueTTM:         s.fcf * 10,
				GrossProfitTTM:     s.fcf * 4,
				TotalAssets:        s.fcf * 20,
				CurrentLiabilities: s.fcf * 2,
				SharesOutstanding:  1_000_000,
			},
		}}
		members = append(members, universe.Membership{
			Ticker:  s.ticker,
			Sector:  s.sector,
			AddedAt: day(2015, 1, 1),
		})
	}
	return p, universe.NewStaticResolver(members, p)
}

func fiveTickers() []tickerSpec {
	return []tickerSpec{
		{"AAA", universe.SectorTechnology, 100, 0.0008, 5e8},
		{"BBB", universe.SectorHealthcare, 80, 0.0004, 4e8},
		{"CCC", universe.SectorFinancials, 60, 0.0002, 3e8},
		{"DDD", universe.SectorEnergy, 40, -0.0001, 2e8},
		{"EEE", universe.SectorIndustrials, 20, -0.0004, 1e8},
	}
}

func TestRebalanceDatesMonthly(t *testing.T) {
	dates := RebalanceDates(nil, day(2023, 1, 31), day(2023, 2, 28), config.FrequencyMonthly)
	want := []time.Time{day(2023, 1, 31), day(2023, 2, 28)}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v, want %v", dates, want)
	}
	for i := range want {
		if !dates[i].Equal(want[i]) {
			t.Errorf("dates[%d] = %v, want %v", i, dates[i], want[i])
		}
	}
}

func TestRebalanceDatesQuarterly(t *testing.T) {
	dates := RebalanceDates(nil, day(2022, 1, 1), day(2022, 12, 31), config.FrequencyQuarterly)
	if len(dates) != 4 {
		t.Fatalf("want 4 quarter ends, got %v", dates)
	}
	if !dates[0].Equal(day(2022, 3, 31)) || !dates[3].Equal(day(2022, 12, 31)) {
		t.Errorf("quarter ends = %v", dates)
	}
}

func TestRebalanceDatesSnapToTradingDay(t *testing.T) {
	// benchmark has no data on the calendar month end
	benchmark := data.PriceSeries{
		{Date: day(2023, 1, 27), Close: 400},
		{Date: day(2023, 1, 30), Close: 401},
	}
	dates := RebalanceDates(benchmark, day(2023, 1, 1), day(2023, 1, 31), config.FrequencyMonthly)
	if len(dates) != 1 || !dates[0].Equal(day(2023, 1, 30)) {
		t.Errorf("dates = %v, want [2023-01-30]", dates)
	}
}

func TestTwoDateMonthlyRun(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	cfg := config.Default()
	d, err := New(cfg, resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := d.Run(context.Background(), day(2023, 1, 31), day(2023, 2, 28))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Ledger.Entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(result.Ledger.Entries))
	}

	first := result.Ledger.Entries[0]
	var sum float64
	for ticker, w := range first.Weights {
		if w < -1e-9 {
			t.Errorf("long-only weight %s = %v", ticker, w)
		}
		if !containsTicker(fiveTickers(), ticker) {
			t.Errorf("weight on %s outside the universe", ticker)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("weights sum = %v, want 1.0", sum)
	}

	// period return must equal the weighted sum of per-ticker returns
	var want float64
	for ticker, w := range first.Weights {
		series := provider.PriceData[ticker]
		open := series.CloseOnOrBefore(day(2023, 1, 31))
		close := series.CloseOnOrBefore(day(2023, 2, 28))
		want += w * (close/open - 1)
	}
	if math.Abs(result.Metrics.TotalReturn-want) > 1e-9 {
		t.Errorf("total return = %v, want %v", result.Metrics.TotalReturn, want)
	}
	if result.Metrics.Periods != 1 {
		t.Errorf("periods = %d, want 1", result.Metrics.Periods)
	}
}

func TestRunSnapsRebalanceToTradingDay(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	// drop the January month end from the benchmark so it is not a trading day
	var trimmed data.PriceSeries
	for _, pt := range provider.Benchmark {
		if !pt.Date.Equal(day(2023, 1, 31)) {
			trimmed = append(trimmed, pt)
		}
	}
	provider.Benchmark = trimmed

	d, err := New(config.Default(), resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := d.Run(context.Background(), day(2023, 1, 30), day(2023, 2, 28))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Ledger.Entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(result.Ledger.Entries))
	}
	if !result.Ledger.Entries[0].Date.Equal(day(2023, 1, 30)) {
		t.Errorf("first rebalance = %v, want snapped 2023-01-30", result.Ledger.Entries[0].Date)
	}
	if !result.Ledger.Entries[1].Date.Equal(day(2023, 2, 28)) {
		t.Errorf("second rebalance = %v, want 2023-02-28", result.Ledger.Entries[1].Date)
	}
}

func containsTicker(specs []tickerSpec, ticker string) bool {
	for _, s := range specs {
		if s.ticker == ticker {
			return true
		}
	}
	return false
}

func TestRegimeRiskOffScalesExposure(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	// vix backwardation forces RiskOff under the combined method
	provider.VIXHistory = []memory.VIXRecord{{
		ObservedAt: day(2023, 1, 15),
		Structure:  data.VIXStructure{VIX9D: 30, VIX30D: 24, VIX3M: 22},
	}}

	cfg := config.Default()
	cfg.Regime.UseAdjustment = true
	d, err := New(cfg, resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := d.Run(context.Background(), day(2023, 1, 31), day(2023, 2, 28))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entry := result.Ledger.Entries[0]
	if entry.Regime != "risk_off" {
		t.Fatalf("regime = %q, want risk_off", entry.Regime)
	}
	if entry.Exposure != 0.50 {
		t.Errorf("exposure = %v, want 0.50", entry.Exposure)
	}
	if equity := entry.Equity(); math.Abs(equity-0.50) > 1e-6 {
		t.Errorf("equity = %v, want 0.50 with cash 0.50", equity)
	}
}

func TestQuarterlyRunNeverReadsPastAsOf(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	trap := pit.NewTrap(provider)

	cfg := config.Default()
	cfg.Backtest.Frequency = config.FrequencyQuarterly
	d, err := New(cfg, resolver, trap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := d.Run(context.Background(), day(2022, 3, 31), day(2023, 12, 31))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := trap.Violations(); len(v) != 0 {
		t.Errorf("point-in-time violations: %v", v)
	}
	if len(result.Ledger.Entries) == 0 {
		t.Error("quarterly run produced no ledger entries")
	}
}

func TestSmallUniverseSkips(t *testing.T) {
	provider, resolver := fixture(fiveTickers()[:3])
	d, err := New(config.Default(), resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := d.Run(context.Background(), day(2023, 1, 31), day(2023, 2, 28))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Ledger.Entries) != 0 {
		t.Errorf("undersized universe should book nothing, got %d entries", len(result.Ledger.Entries))
	}
	if len(result.Diagnostics.Skipped) != 2 {
		t.Errorf("skipped = %v, want both dates", result.Diagnostics.Skipped)
	}
}

func TestMissingBenchmarkAborts(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	provider.Benchmark = nil
	d, err := New(config.Default(), resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Run(context.Background(), day(2023, 1, 31), day(2023, 2, 28))
	if !errors.Is(err, errs.ErrProviderUnavailable) {
		t.Errorf("missing benchmark: got %v", err)
	}
}

func TestCancellationReturnsPartialLedger(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	d, err := New(config.Default(), resolver, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := d.Run(ctx, day(2023, 1, 31), day(2023, 2, 28))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Diagnostics.Cancelled {
		t.Error("cancelled run should be flagged")
	}
	if len(result.Ledger.Entries) != 0 {
		t.Errorf("pre-cancelled run booked %d entries", len(result.Ledger.Entries))
	}
}

func TestInvalidConfigRefusesToStart(t *testing.T) {
	provider, resolver := fixture(fiveTickers())
	cfg := config.Default()
	cfg.Factors.ValueWeight = 0.9
	if _, err := New(cfg, resolver, provider); !errors.Is(err, errs.ErrConfigurationInvalid) {
		t.Errorf("invalid config: got %v", err)
	}
}

func TestTurnoverBetween(t *testing.T) {
	prev := map[string]float64{"AAA": 0.6, "BBB": 0.4}
	next := map[string]float64{"AAA": 0.5, "CCC": 0.5}
	if got := turnoverBetween(prev, next); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("turnover = %v, want 1.0", got)
	}
}
