// Package risk estimates return covariance matrices with a shrinkage
// fallback for ill-conditioned samples.
package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// minEigenTolerance is the PSD threshold below which shrinkage kicks in.
const minEigenTolerance = 1e-8

// AlignedReturns intersects the dates of every series and computes daily
// returns over the shared calendar, ordered as in tickers. Fails when fewer
// than two shared dates remain.
func AlignedReturns(series map[string]data.PriceSeries, tickers []string) ([][]float64, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("aligned returns: %w", errs.ErrEmptyOptimizationSet)
	}

	counts := make(map[time.Time]int)
	for _, t := range tickers {
		for _, pt := range series[t] {
			counts[pt.Date] = counts[pt.Date] + 1
		}
	}
	var shared []time.Time
	for d, c := range counts {
		if c == len(tickers) {
			shared = append(shared, d)
		}
	}
	if len(shared) < 2 {
		return nil, fmt.Errorf("aligned returns: %d shared dates: %w", len(shared), errs.ErrInsufficientData)
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Before(shared[j]) })

	out := make([][]float64, len(tickers))
	for i, t := range tickers {
		closes := make(map[time.Time]float64, len(series[t]))
		for _, pt := range series[t] {
			closes[pt.Date] = pt.Close
		}
		rets := make([]float64, len(shared)-1)
		for k := 1; k < len(shared); k++ {
			prev := closes[shared[k-1]]
			if prev == 0 {
				rets[k-1] = 0
				continue
			}
			rets[k-1] = closes[shared[k]]/prev - 1
		}
		out[i] = rets
	}
	return out, nil
}

// SampleCovariance computes the annualized sample covariance of per-asset
// daily return series of equal length.
func SampleCovariance(returns [][]float64) *mat.SymDense {
	n := len(returns)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(returns[i], returns[j], nil)
			cov.SetSym(i, j, c*TradingDaysPerYear)
		}
	}
	return cov
}

// MinEigenvalue returns the smallest eigenvalue of a symmetric matrix.
func MinEigenvalue(s *mat.SymDense) float64 {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return math.Inf(-1)
	}
	values := eig.Values(nil)
	min := math.Inf(1)
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	return min
}

// LedoitWolf shrinks the sample covariance toward a scaled identity target
// with the analytically optimal intensity, then annualizes.
func LedoitWolf(returns [][]float64) *mat.SymDense {
	n := len(returns)
	t := len(returns[0])

	means := make([]float64, n)
	for i := range returns {
		means[i] = stat.Mean(returns[i], nil)
	}

	// daily sample covariance, population normalization
	sample := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for k := 0; k < t; k++ {
				sum += (returns[i][k] - means[i]) * (returns[j][k] - means[j])
			}
			sample.Set(i, j, sum/float64(t))
		}
	}

	// target: mu * I with mu the average variance
	var mu float64
	for i := 0; i < n; i++ {
		mu += sample.At(i, i)
	}
	mu /= float64(n)

	// squared distance between sample and target
	var d2 float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diff := sample.At(i, j)
			if i == j {
				diff -= mu
			}
			d2 += diff * diff
		}
	}
	d2 /= float64(n)

	// estimation error of the sample covariance
	var b2bar float64
	for k := 0; k < t; k++ {
		var norm float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				xij := (returns[i][k] - means[i]) * (returns[j][k] - means[j])
				diff := xij - sample.At(i, j)
				norm += diff * diff
			}
		}
		b2bar += norm / float64(n)
	}
	b2bar /= float64(t * t)
	b2 := math.Min(b2bar, d2)

	shrinkage := 0.0
	if d2 > 0 {
		shrinkage = b2 / d2
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			target := 0.0
			if i == j {
				target = mu
			}
			v := shrinkage*target + (1-shrinkage)*sample.At(i, j)
			out.SetSym(i, j, v*TradingDaysPerYear)
		}
	}
	return out
}

// Estimate returns an annualized covariance that is safe to optimize over.
// The sample estimate is used when well-conditioned; otherwise the
// Ledoit-Wolf estimator is substituted. Shrunk reports which path was taken.
func Estimate(returns [][]float64) (cov *mat.SymDense, shrunk bool, err error) {
	if len(returns) == 0 {
		return nil, false, fmt.Errorf("covariance: %w", errs.ErrEmptyOptimizationSet)
	}
	for _, r := range returns {
		if len(r) < 2 {
			return nil, false, fmt.Errorf("covariance: %w", errs.ErrInsufficientData)
		}
	}

	cov = SampleCovariance(returns)
	if MinEigenvalue(cov) >= minEigenTolerance {
		return cov, false, nil
	}

	cov = LedoitWolf(returns)
	if MinEigenvalue(cov) < -minEigenTolerance {
		return nil, true, fmt.Errorf("covariance after shrinkage: %w", errs.ErrCovarianceIllConditioned)
	}
	return cov, true, nil
}
