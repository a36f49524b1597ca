package backtest

import (
	"time"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
)

// RebalanceDates returns the period-end dates in [start, end], each snapped
// back to the nearest benchmark trading day.
func RebalanceDates(benchmark data.PriceSeries, start, end time.Time, freq config.Frequency) []time.Time {
	var out []time.Time
	seen := make(map[time.Time]bool)

	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		if freq == config.FrequencyQuarterly && cursor.Month()%3 != 0 {
			cursor = cursor.AddDate(0, 1, 0)
			continue
		}
		monthEnd := cursor.AddDate(0, 1, -1)
		if monthEnd.After(end) {
			monthEnd = end
		}

		d := monthEnd
		if trimmed := benchmark.Truncate(monthEnd); trimmed.Len() > 0 {
			d = trimmed.Last().Date
		}
		if !d.Before(start) && !d.After(end) && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return out
}
