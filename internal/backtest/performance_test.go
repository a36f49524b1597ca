package backtest

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/config"
)

func TestComputeMetricsBasics(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, 0.00}
	m := ComputeMetrics(returns, nil, config.FrequencyMonthly, 0)

	wantTotal := 1.02*0.99*1.03 - 1
	if math.Abs(m.TotalReturn-wantTotal) > 1e-12 {
		t.Errorf("total return = %v, want %v", m.TotalReturn, wantTotal)
	}
	if m.Periods != 4 {
		t.Errorf("periods = %d, want 4", m.Periods)
	}
	if math.Abs(m.WinRate-0.5) > 1e-12 {
		t.Errorf("win rate = %v, want 0.5 (zero return is not a win)", m.WinRate)
	}
	if math.Abs(m.AvgWin-0.025) > 1e-12 {
		t.Errorf("avg win = %v, want 0.025", m.AvgWin)
	}
	if math.Abs(m.AvgLoss-(-0.01)) > 1e-12 {
		t.Errorf("avg loss = %v, want -0.01", m.AvgLoss)
	}
	if math.Abs(m.ProfitFactor-5.0) > 1e-12 {
		t.Errorf("profit factor = %v, want 5", m.ProfitFactor)
	}
}

func TestComputeMetricsDrawdown(t *testing.T) {
	returns := []float64{0.10, -0.20, 0.05}
	m := ComputeMetrics(returns, nil, config.FrequencyMonthly, 0)
	if math.Abs(m.MaxDrawdown-(-0.20)) > 1e-9 {
		t.Errorf("max drawdown = %v, want -0.20", m.MaxDrawdown)
	}
	if m.Calmar == 0 {
		t.Error("calmar should be set when a drawdown exists")
	}
}

func TestComputeMetricsBeta(t *testing.T) {
	// portfolio is exactly 2x the benchmark
	benchmark := []float64{0.01, -0.02, 0.03, 0.01, -0.01}
	returns := make([]float64, len(benchmark))
	for i, b := range benchmark {
		returns[i] = 2 * b
	}
	m := ComputeMetrics(returns, benchmark, config.FrequencyMonthly, 0)
	if math.Abs(m.Beta-2.0) > 1e-9 {
		t.Errorf("beta = %v, want 2.0", m.Beta)
	}
	if math.Abs(m.Alpha) > 1e-9 {
		t.Errorf("alpha = %v, want 0 for a pure leveraged clone", m.Alpha)
	}
}

func TestComputeMetricsAnnualization(t *testing.T) {
	returns := []float64{0.01, 0.01, 0.01, 0.01}
	monthly := ComputeMetrics(returns, nil, config.FrequencyMonthly, 0)
	quarterly := ComputeMetrics(returns, nil, config.FrequencyQuarterly, 0)
	if monthly.CAGR <= quarterly.CAGR {
		t.Errorf("four monthly periods compound faster per year than four quarterly: %v vs %v",
			monthly.CAGR, quarterly.CAGR)
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, nil, config.FrequencyMonthly, 0.04)
	if m.Periods != 0 || m.TotalReturn != 0 || m.Sharpe != 0 {
		t.Errorf("empty series should produce zero metrics, got %+v", m)
	}
}

func TestLedgerWriteCSV(t *testing.T) {
	var l Ledger
	l.append(Entry{
		Date:     time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
		Weights:  map[string]float64{"BBB": 0.4, "AAA": 0.6},
		Regime:   "risk_on",
		Exposure: 1.0,
		Sharpe:   1.25,
	})

	var buf bytes.Buffer
	if err := l.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "date,ticker,weight") {
		t.Errorf("header = %q", lines[0])
	}
	// tickers are emitted in sorted order
	if !strings.Contains(lines[1], "AAA") || !strings.Contains(lines[2], "BBB") {
		t.Errorf("rows out of order: %v", lines[1:])
	}
	if !strings.Contains(lines[1], "2023-01-31") || !strings.Contains(lines[1], "risk_on") {
		t.Errorf("row content: %q", lines[1])
	}
}
