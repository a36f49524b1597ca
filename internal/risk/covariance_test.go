package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

func seriesFrom(start time.Time, closes []float64) data.PriceSeries {
	out := make(data.PriceSeries, len(closes))
	for i, c := range closes {
		out[i] = data.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestAlignedReturnsIntersectsDates(t *testing.T) {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]data.PriceSeries{
		"AAA": seriesFrom(start, []float64{100, 101, 102, 103}),
		// BBB is missing the second date
		"BBB": {
			{Date: start, Close: 50},
			{Date: start.AddDate(0, 0, 2), Close: 51},
			{Date: start.AddDate(0, 0, 3), Close: 52},
		},
	}

	rets, err := AlignedReturns(series, []string{"AAA", "BBB"})
	if err != nil {
		t.Fatalf("AlignedReturns: %v", err)
	}
	if len(rets) != 2 || len(rets[0]) != 2 {
		t.Fatalf("want 2 assets x 2 returns over 3 shared dates, got %dx%d", len(rets), len(rets[0]))
	}
	// AAA over shared dates 100 -> 102 -> 103
	if math.Abs(rets[0][0]-0.02) > 1e-12 {
		t.Errorf("first AAA return = %v, want 0.02", rets[0][0])
	}
}

func TestAlignedReturnsInsufficientOverlap(t *testing.T) {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]data.PriceSeries{
		"AAA": seriesFrom(start, []float64{100, 101}),
		"BBB": seriesFrom(start.AddDate(0, 1, 0), []float64{50, 51}),
	}
	_, err := AlignedReturns(series, []string{"AAA", "BBB"})
	if !errors.Is(err, errs.ErrInsufficientData) {
		t.Errorf("disjoint calendars should be ErrInsufficientData, got %v", err)
	}

	_, err = AlignedReturns(series, nil)
	if !errors.Is(err, errs.ErrEmptyOptimizationSet) {
		t.Errorf("no tickers should be ErrEmptyOptimizationSet, got %v", err)
	}
}

func TestSampleCovarianceAnnualizes(t *testing.T) {
	returns := [][]float64{
		{0.01, -0.01, 0.02, -0.02},
		{0.01, -0.01, 0.02, -0.02},
	}
	cov := SampleCovariance(returns)
	daily := cov.At(0, 0) / TradingDaysPerYear
	if math.Abs(cov.At(0, 0)-cov.At(0, 1)) > 1e-12 {
		t.Errorf("identical series should have var == cov: %v vs %v", cov.At(0, 0), cov.At(0, 1))
	}
	if daily <= 0 {
		t.Errorf("daily variance = %v, want positive", daily)
	}
}

func TestEstimateWellConditioned(t *testing.T) {
	// independent-ish series with distinct variation
	returns := [][]float64{
		{0.010, -0.012, 0.007, -0.003, 0.004, -0.008, 0.011, -0.002},
		{-0.004, 0.009, -0.006, 0.012, -0.010, 0.003, -0.007, 0.005},
	}
	cov, shrunk, err := Estimate(returns)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if shrunk {
		t.Error("well-conditioned sample should not shrink")
	}
	if MinEigenvalue(cov) < minEigenTolerance {
		t.Errorf("min eigenvalue = %v, want >= %v", MinEigenvalue(cov), minEigenTolerance)
	}
}

func TestEstimateShrinksSingularSample(t *testing.T) {
	// three assets, two observations: rank-deficient sample covariance
	returns := [][]float64{
		{0.01, -0.01},
		{0.02, -0.02},
		{0.005, -0.005},
	}
	cov, shrunk, err := Estimate(returns)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !shrunk {
		t.Error("rank-deficient sample should take the shrinkage path")
	}
	if MinEigenvalue(cov) < -minEigenTolerance {
		t.Errorf("shrunk covariance still indefinite: min eig %v", MinEigenvalue(cov))
	}
}

func TestEstimateRejectsDegenerateInput(t *testing.T) {
	if _, _, err := Estimate(nil); !errors.Is(err, errs.ErrEmptyOptimizationSet) {
		t.Errorf("nil returns: got %v", err)
	}
	if _, _, err := Estimate([][]float64{{0.01}}); !errors.Is(err, errs.ErrInsufficientData) {
		t.Errorf("single observation: got %v", err)
	}
}

func TestLedoitWolfPullsTowardDiagonal(t *testing.T) {
	returns := [][]float64{
		{0.01, -0.01, 0.02, -0.02, 0.015},
		{0.01, -0.01, 0.02, -0.02, 0.015},
	}
	sample := SampleCovariance(returns)
	shrunk := LedoitWolf(returns)
	// perfectly correlated inputs: shrinkage must reduce the off-diagonal
	if math.Abs(shrunk.At(0, 1)) >= math.Abs(sample.At(0, 1)) {
		t.Errorf("off-diagonal not shrunk: sample %v, shrunk %v", sample.At(0, 1), shrunk.At(0, 1))
	}
}
