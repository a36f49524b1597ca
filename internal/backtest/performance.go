package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/equityrun/internal/config"
)

// Metrics is the terminal performance record of a run.
type Metrics struct {
	Periods      int     `json:"periods"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	Calmar       float64 `json:"calmar"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
}

func periodsPerYear(freq config.Frequency) float64 {
	if freq == config.FrequencyQuarterly {
		return 4
	}
	return 12
}

// ComputeMetrics reduces the per-period portfolio and benchmark returns to
// the terminal metrics. benchmark may be shorter than returns; alpha and beta
// are computed over the overlapping prefix.
func ComputeMetrics(returns, benchmark []float64, freq config.Frequency, riskFree float64) Metrics {
	m := Metrics{Periods: len(returns)}
	if len(returns) == 0 {
		return m
	}
	ppy := periodsPerYear(freq)

	growth := 1.0
	peak := 1.0
	var wins, losses []float64
	for _, r := range returns {
		growth *= 1 + r
		if growth > peak {
			peak = growth
		}
		if dd := growth/peak - 1; dd < m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, r)
		}
	}
	m.TotalReturn = growth - 1

	years := float64(len(returns)) / ppy
	if years > 0 && growth > 0 {
		m.CAGR = math.Pow(growth, 1/years) - 1
	}

	mean := stat.Mean(returns, nil)
	if len(returns) > 1 {
		m.Volatility = stat.StdDev(returns, nil) * math.Sqrt(ppy)
	}
	if m.Volatility > 0 {
		m.Sharpe = (mean*ppy - riskFree) / m.Volatility
	}

	if dd := downsideDeviation(returns) * math.Sqrt(ppy); dd > 0 {
		m.Sortino = (mean*ppy - riskFree) / dd
	}
	if m.MaxDrawdown < 0 {
		m.Calmar = m.CAGR / math.Abs(m.MaxDrawdown)
	}

	m.WinRate = float64(len(wins)) / float64(len(returns))
	if len(wins) > 0 {
		m.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		m.AvgLoss = stat.Mean(losses, nil)
	}
	var winSum, lossSum float64
	for _, w := range wins {
		winSum += w
	}
	for _, l := range losses {
		lossSum += -l
	}
	if lossSum > 0 {
		m.ProfitFactor = winSum / lossSum
	}

	if n := min(len(returns), len(benchmark)); n > 1 {
		r := returns[:n]
		b := benchmark[:n]
		if bVar := stat.Variance(b, nil); bVar > 0 {
			m.Beta = stat.Covariance(r, b, nil) / bVar
		}
		rfPeriod := riskFree / ppy
		m.Alpha = (stat.Mean(r, nil) - rfPeriod - m.Beta*(stat.Mean(b, nil)-rfPeriod)) * ppy
	}
	return m
}

func downsideDeviation(returns []float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}
