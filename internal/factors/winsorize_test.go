package factors

import (
	"math"
	"testing"
)

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	cases := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 3},
		{1, 5},
		{0.25, 2},
	}
	for _, tc := range cases {
		if got := Quantile(values, tc.q); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Quantile(%v) = %v, want %v", tc.q, got, tc.want)
		}
	}
	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Error("empty input should yield NaN")
	}
}

func TestWinsorizeClipsTails(t *testing.T) {
	values := make([]float64, 101)
	for i := range values {
		values[i] = float64(i)
	}
	values[100] = 1000 // outlier

	out := Winsorize(values, 0.01, 0.99)
	hi := Quantile(values, 0.99)
	if out[100] != hi {
		t.Errorf("outlier clipped to %v, want %v", out[100], hi)
	}
	if out[50] != 50 {
		t.Errorf("interior value changed: %v", out[50])
	}
}

func TestWinsorizeIdempotent(t *testing.T) {
	values := []float64{-50, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 200}
	once := Winsorize(values, 0.01, 0.99)
	twice := Winsorize(once, 0.01, 0.99)
	for i := range once {
		if math.Abs(once[i]-twice[i]) > 1e-12 {
			t.Fatalf("winsorize not idempotent at %d: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestWinsorizeSkipsMissing(t *testing.T) {
	values := []float64{1, math.NaN(), 3}
	out := Winsorize(values, 0.01, 0.99)
	if !math.IsNaN(out[1]) {
		t.Error("missing entry should stay missing")
	}
}

func TestZScoresClip(t *testing.T) {
	values := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 1000}
	z, _ := ZScores(values, 3)
	for _, v := range z {
		if math.Abs(v) > 3 {
			t.Fatalf("z %v exceeds clip", v)
		}
	}
}

func TestZScoresZeroStd(t *testing.T) {
	values := []float64{5, 5, 5, 5}
	z, stats := ZScores(values, 3)
	for _, v := range z {
		if v != 0 {
			t.Fatalf("constant column must score zero, got %v", v)
		}
	}
	if stats.Mean != 5 {
		t.Errorf("mean = %v, want 5", stats.Mean)
	}
}

func TestZScoresMissingToZero(t *testing.T) {
	values := []float64{1, math.NaN(), 3}
	z, _ := ZScores(values, 3)
	if z[1] != 0 {
		t.Errorf("missing entry should score 0, got %v", z[1])
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{3, 1, math.NaN(), 2}); got != 2 {
		t.Errorf("median = %v, want 2", got)
	}
	if !math.IsNaN(Median([]float64{math.NaN()})) {
		t.Error("all-missing median should be NaN")
	}
}
