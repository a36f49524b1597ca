package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// Entry is one rebalance record. Immutable once appended.
type Entry struct {
	Date           time.Time          `json:"date"`
	Weights        map[string]float64 `json:"weights"`
	Regime         string             `json:"regime"`
	Exposure       float64            `json:"exposure"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	Note           string             `json:"note,omitempty"`
}

// Equity returns the invested fraction of the book.
func (e Entry) Equity() float64 {
	var sum float64
	for _, w := range e.Weights {
		sum += w
	}
	return sum
}

// Ledger is the append-only record of a backtest run.
type Ledger struct {
	Entries []Entry `json:"entries"`
}

func (l *Ledger) append(e Entry) {
	l.Entries = append(l.Entries, e)
}

// Last returns the most recent entry.
func (l *Ledger) Last() (Entry, bool) {
	if len(l.Entries) == 0 {
		return Entry{}, false
	}
	return l.Entries[len(l.Entries)-1], true
}

// WriteCSV emits one row per (date, ticker) holding.
func (l *Ledger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"date", "ticker", "weight", "regime", "exposure", "expected_return", "volatility", "sharpe"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("ledger csv: %w", err)
	}

	for _, e := range l.Entries {
		tickers := make([]string, 0, len(e.Weights))
		for t := range e.Weights {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			row := []string{
				e.Date.Format("2006-01-02"),
				t,
				strconv.FormatFloat(e.Weights[t], 'f', 6, 64),
				e.Regime,
				strconv.FormatFloat(e.Exposure, 'f', 2, 64),
				strconv.FormatFloat(e.ExpectedReturn, 'f', 6, 64),
				strconv.FormatFloat(e.Volatility, 'f', 6, 64),
				strconv.FormatFloat(e.Sharpe, 'f', 4, 64),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("ledger csv: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
