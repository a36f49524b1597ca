package blacklitterman

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
)

func diagCov(vars ...float64) *mat.SymDense {
	n := len(vars)
	cov := mat.NewSymDense(n, nil)
	for i, v := range vars {
		cov.SetSym(i, i, v)
	}
	return cov
}

func model() *Model {
	return New(config.Default().Optimizer)
}

func TestConfidenceTable(t *testing.T) {
	cases := []struct {
		d    float64
		want float64
	}{
		{0.0, 0.80},
		{0.49, 0.80},
		{0.5, 0.60},
		{0.99, 0.60},
		{1.0, 0.40},
		{1.49, 0.40},
		{1.5, 0.20},
		{3.0, 0.20},
	}
	for _, tc := range cases {
		if got := confidenceFor(tc.d); got != tc.want {
			t.Errorf("confidenceFor(%v) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestBuildPriorEquilibrium(t *testing.T) {
	m := model() // risk aversion 2.5
	cov := diagCov(0.04, 0.09)
	caps := map[string]float64{"AAA": 100, "BBB": 100}

	prior, err := m.BuildPrior([]string{"AAA", "BBB"}, caps, cov, false, 1.0)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	// pi_i = delta * Sigma_ii * w_i for a diagonal covariance
	want := []float64{2.5 * 0.04 * 0.5, 2.5 * 0.09 * 0.5}
	for i, w := range want {
		if math.Abs(prior.Equilibrium[i]-w) > 1e-12 {
			t.Errorf("pi[%d] = %v, want %v", i, prior.Equilibrium[i], w)
		}
	}
	if prior.MarketWeights[0] != 0.5 || prior.MarketWeights[1] != 0.5 {
		t.Errorf("market weights = %v, want equal", prior.MarketWeights)
	}
}

func TestBuildPriorMacroScalar(t *testing.T) {
	m := model()
	cov := diagCov(0.04)
	caps := map[string]float64{"AAA": 1}

	neutral, err := m.BuildPrior([]string{"AAA"}, caps, cov, false, 1.0)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	damped, err := m.BuildPrior([]string{"AAA"}, caps, cov, false, 0.70)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	if math.Abs(damped.Equilibrium[0]-0.70*neutral.Equilibrium[0]) > 1e-12 {
		t.Errorf("macro scalar not applied: %v vs %v", damped.Equilibrium[0], neutral.Equilibrium[0])
	}
}

func TestBuildPriorErrors(t *testing.T) {
	m := model()
	if _, err := m.BuildPrior(nil, nil, nil, false, 1); !errors.Is(err, errs.ErrEmptyOptimizationSet) {
		t.Errorf("empty set: got %v", err)
	}
	caps := map[string]float64{"AAA": 0}
	if _, err := m.BuildPrior([]string{"AAA"}, caps, diagCov(0.04), false, 1); !errors.Is(err, errs.ErrDataUnavailable) {
		t.Errorf("zero cap: got %v", err)
	}
}

func TestBuildViewsScalesByVolAndAlpha(t *testing.T) {
	m := model() // alpha scalar 0.02
	cov := diagCov(0.04, 0.09)
	caps := map[string]float64{"AAA": 1, "BBB": 1}
	prior, err := m.BuildPrior([]string{"AAA", "BBB"}, caps, cov, false, 1)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}

	scores := factors.Scores{ByTicker: map[string]factors.TickerScore{
		"AAA": {Ticker: "AAA", ZValue: 1, ZQuality: 1, ZMomentum: 1, Total: 1.0},
		"BBB": {Ticker: "BBB", ZValue: 2, ZQuality: -2, ZMomentum: 0, Total: -0.5},
	}}
	views := m.BuildViews(prior, scores)

	// q = z_total * sqrt(Sigma_ii) * alpha
	if math.Abs(views[0].Q-1.0*0.2*0.02) > 1e-12 {
		t.Errorf("AAA q = %v, want %v", views[0].Q, 1.0*0.2*0.02)
	}
	if math.Abs(views[1].Q-(-0.5)*0.3*0.02) > 1e-12 {
		t.Errorf("BBB q = %v, want %v", views[1].Q, -0.5*0.3*0.02)
	}
	// perfect agreement vs wide spread
	if views[0].Confidence != 0.80 {
		t.Errorf("AAA confidence = %v, want 0.80", views[0].Confidence)
	}
	if views[1].Confidence != 0.20 {
		t.Errorf("BBB confidence = %v, want 0.20", views[1].Confidence)
	}
}

func TestBuildViewsUnscoredTickerIsNeutral(t *testing.T) {
	m := model()
	prior, err := m.BuildPrior([]string{"AAA"}, map[string]float64{"AAA": 1}, diagCov(0.04), false, 1)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	views := m.BuildViews(prior, factors.Scores{ByTicker: map[string]factors.TickerScore{}})
	if views[0].Q != 0 || views[0].Confidence != minConfidence {
		t.Errorf("unscored ticker view = %+v, want neutral", views[0])
	}
}

// With a diagonal covariance and identity view matrix the update reduces to
// mu_i = (1-c)*pi_i + c*q_i, which pins down the Idzorek weighting exactly.
func TestBlendConfidenceWeighting(t *testing.T) {
	m := model()
	cov := diagCov(0.04, 0.09)
	caps := map[string]float64{"AAA": 1, "BBB": 1}
	prior, err := m.BuildPrior([]string{"AAA", "BBB"}, caps, cov, false, 1)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}

	views := []View{
		{Ticker: "AAA", Q: 0.10, Confidence: 0.80},
		{Ticker: "BBB", Q: -0.05, Confidence: 0.20},
	}
	post, err := m.Blend(prior, views)
	if err != nil {
		t.Fatalf("Blend: %v", err)
	}

	for i, v := range views {
		want := (1-v.Confidence)*prior.Equilibrium[i] + v.Confidence*v.Q
		if math.Abs(post.Mean[i]-want) > 1e-9 {
			t.Errorf("mean[%d] = %v, want %v", i, post.Mean[i], want)
		}
	}
}

func TestBlendPosteriorCovariance(t *testing.T) {
	m := model()
	cov := diagCov(0.04)
	prior, err := m.BuildPrior([]string{"AAA"}, map[string]float64{"AAA": 1}, cov, false, 1)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	post, err := m.Blend(prior, []View{{Ticker: "AAA", Q: 0.08, Confidence: 0.60}})
	if err != nil {
		t.Fatalf("Blend: %v", err)
	}
	// Sigma_post = Sigma + tau*Sigma*(1-c) for one asset
	want := 0.04 + tau*0.04*(1-0.60)
	if math.Abs(post.Cov.At(0, 0)-want) > 1e-12 {
		t.Errorf("posterior variance = %v, want %v", post.Cov.At(0, 0), want)
	}
	if post.Cov.At(0, 0) <= prior.Cov.At(0, 0) {
		t.Error("posterior variance should exceed the prior variance")
	}
}

func TestBlendDeterministic(t *testing.T) {
	m := model()
	cov := mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.09})
	caps := map[string]float64{"AAA": 300, "BBB": 100}
	scores := factors.Scores{ByTicker: map[string]factors.TickerScore{
		"AAA": {Ticker: "AAA", ZValue: 0.5, ZQuality: 1.5, ZMomentum: -0.5, Total: 0.6},
		"BBB": {Ticker: "BBB", ZValue: -1, ZQuality: -1, ZMomentum: -1, Total: -1},
	}}

	first, err := m.Run([]string{"AAA", "BBB"}, caps, cov, false, 1, scores)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := m.Run([]string{"AAA", "BBB"}, caps, cov, false, 1, scores)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range first.Mean {
		if first.Mean[i] != second.Mean[i] {
			t.Errorf("mean[%d] differs across runs: %v vs %v", i, first.Mean[i], second.Mean[i])
		}
	}
	if !mat.Equal(first.Cov, second.Cov) {
		t.Error("posterior covariance differs across runs")
	}
}

func TestBlendViewCountMismatch(t *testing.T) {
	m := model()
	prior, err := m.BuildPrior([]string{"AAA"}, map[string]float64{"AAA": 1}, diagCov(0.04), false, 1)
	if err != nil {
		t.Fatalf("BuildPrior: %v", err)
	}
	if _, err := m.Blend(prior, nil); err == nil {
		t.Error("mismatched view count should fail")
	}
}
