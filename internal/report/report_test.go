package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/backtest"
)

func sampleResult() backtest.Result {
	var result backtest.Result
	result.Ledger.Entries = []backtest.Entry{{
		Date:     time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
		Weights:  map[string]float64{"AAA": 0.6, "BBB": 0.4},
		Regime:   "risk_on",
		Exposure: 1.0,
		Sharpe:   1.1,
	}}
	result.Metrics = backtest.Metrics{
		Periods:     12,
		TotalReturn: 0.15,
		CAGR:        0.15,
		Sharpe:      1.1,
		MaxDrawdown: -0.08,
	}
	result.Diagnostics.Skipped = []backtest.SkippedDate{{
		Date:   time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
		Reason: "insufficient universe",
	}}
	return result
}

func TestSummaryContent(t *testing.T) {
	s := NewWriter().Summary(sampleResult())
	for _, want := range []string{"Total Return", "15.00%", "risk_on", "AAA", "1 skipped", "2023-03-31"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	if err := NewWriter().WriteArtifacts(dir, sampleResult()); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}

	for _, name := range []string{"ledger.csv", "metrics.json", "diagnostics.json"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(raw) == 0 {
			t.Errorf("%s is empty", name)
		}
	}

	ledger, _ := os.ReadFile(filepath.Join(dir, "ledger.csv"))
	if !strings.Contains(string(ledger), "AAA") {
		t.Error("ledger csv missing holdings")
	}
}
