// Package report renders backtest results for humans and writes the run
// artifacts to disk. The core never prints; everything user-visible flows
// through here.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/backtest"
)

// Writer renders and persists run results.
type Writer struct {
	logger zerolog.Logger
}

// NewWriter builds a report writer.
func NewWriter() *Writer {
	return &Writer{logger: log.With().Str("component", "report").Logger()}
}

// Summary renders the terminal metrics and run diagnostics as text.
func (w *Writer) Summary(result backtest.Result) string {
	var b strings.Builder
	m := result.Metrics

	fmt.Fprintf(&b, "Backtest: %d rebalances, %d periods\n", len(result.Ledger.Entries), m.Periods)
	fmt.Fprintf(&b, "  Total Return    %9.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(&b, "  CAGR            %9.2f%%\n", m.CAGR*100)
	fmt.Fprintf(&b, "  Volatility      %9.2f%%\n", m.Volatility*100)
	fmt.Fprintf(&b, "  Sharpe          %9.2f\n", m.Sharpe)
	fmt.Fprintf(&b, "  Sortino         %9.2f\n", m.Sortino)
	fmt.Fprintf(&b, "  Calmar          %9.2f\n", m.Calmar)
	fmt.Fprintf(&b, "  Max Drawdown    %9.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(&b, "  Win Rate        %9.2f%%\n", m.WinRate*100)
	fmt.Fprintf(&b, "  Profit Factor   %9.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "  Alpha / Beta    %9.2f%% / %.2f\n", m.Alpha*100, m.Beta)

	if last, ok := result.Ledger.Last(); ok {
		fmt.Fprintf(&b, "\nFinal book (%s, regime %s, exposure %.2f):\n",
			last.Date.Format("2006-01-02"), orDash(last.Regime), last.Exposure)
		for _, t := range sortedTickers(last.Weights) {
			fmt.Fprintf(&b, "  %-8s %7.2f%%\n", t, last.Weights[t]*100)
		}
	}

	d := result.Diagnostics
	if len(d.Skipped)+len(d.Dropped)+len(d.Retries) > 0 {
		fmt.Fprintf(&b, "\nDiagnostics: %d skipped, %d dropped, %d retries\n",
			len(d.Skipped), len(d.Dropped), len(d.Retries))
		for _, s := range d.Skipped {
			fmt.Fprintf(&b, "  skipped %s: %s\n", s.Date.Format("2006-01-02"), s.Reason)
		}
	}
	if d.Cancelled {
		b.WriteString("\nRun cancelled; ledger is partial.\n")
	}
	return b.String()
}

// WriteArtifacts persists the ledger CSV and the metrics and diagnostics
// JSON records under dir.
func (w *Writer) WriteArtifacts(dir string, result backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}

	ledgerPath := filepath.Join(dir, "ledger.csv")
	f, err := os.Create(ledgerPath)
	if err != nil {
		return fmt.Errorf("ledger file: %w", err)
	}
	defer f.Close()
	if err := result.Ledger.WriteCSV(f); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, "metrics.json"), result.Metrics); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "diagnostics.json"), result.Diagnostics); err != nil {
		return err
	}

	w.logger.Info().Str("dir", dir).Msg("Run artifacts written")
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sortedTickers(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for t := range weights {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
