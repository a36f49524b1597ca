package optimizer

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
)

func problem3() Problem {
	cov := mat.NewSymDense(3, []float64{
		0.04, 0.002, 0.001,
		0.002, 0.09, 0.003,
		0.001, 0.003, 0.16,
	})
	return Problem{
		Tickers: []string{"AAA", "BBB", "CCC"},
		Mean:    []float64{0.08, 0.06, 0.05},
		Cov:     cov,
		SectorOf: map[string]string{
			"AAA": "technology",
			"BBB": "financials",
			"CCC": "energy",
		},
	}
}

func scoresFor(totals map[string]float64) factors.Scores {
	by := make(map[string]factors.TickerScore, len(totals))
	for t, z := range totals {
		by[t] = factors.TickerScore{Ticker: t, Total: z}
	}
	return factors.Scores{ByTicker: by}
}

func optimizerWith(mutate func(*config.OptimizerConfig)) *Optimizer {
	cfg := config.Default().Optimizer
	cfg.WeightMax = 0.60
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestMaxSharpeBudgetAndBounds(t *testing.T) {
	o := optimizerWith(nil)
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if math.Abs(w.Net()-1.0) > 1e-6 {
		t.Errorf("net = %v, want 1.0", w.Net())
	}
	for ticker, weight := range w.ByTicker {
		if weight < -1e-9 || weight > 0.60+1e-6 {
			t.Errorf("weight %s = %v outside [0, 0.60]", ticker, weight)
		}
	}
}

func TestMaxSharpeFavorsBestRatio(t *testing.T) {
	o := optimizerWith(nil)
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	// AAA has the highest mean and the lowest variance
	if w.ByTicker["AAA"] <= w.ByTicker["CCC"] {
		t.Errorf("AAA %v should dominate CCC %v", w.ByTicker["AAA"], w.ByTicker["CCC"])
	}
}

func TestMinVariancePrefersLowVol(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) { c.Objective = config.ObjectiveMinVariance })
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if w.ByTicker["AAA"] <= w.ByTicker["CCC"] {
		t.Errorf("min variance should favor AAA (var 0.04) over CCC (var 0.16): %v vs %v",
			w.ByTicker["AAA"], w.ByTicker["CCC"])
	}
}

func TestQuadraticUtilitySolves(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) { c.Objective = config.ObjectiveMaxQuadraticUtility })
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if math.Abs(w.Net()-1.0) > 1e-6 {
		t.Errorf("net = %v, want 1.0", w.Net())
	}
}

func TestEfficientRiskRespectsVolCeiling(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) {
		c.Objective = config.ObjectiveEfficientRisk
		c.TargetVol = 0.25
	})
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if w.Volatility > 0.25+0.02 {
		t.Errorf("volatility %v exceeds target 0.25", w.Volatility)
	}
}

func TestEfficientReturnMeetsFloor(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) {
		c.Objective = config.ObjectiveEfficientReturn
		c.TargetReturn = 0.065
	})
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if w.ExpectedReturn < 0.065-0.005 {
		t.Errorf("expected return %v misses target 0.065", w.ExpectedReturn)
	}
}

func TestSectorCapBindsGross(t *testing.T) {
	p := problem3()
	p.SectorOf = map[string]string{"AAA": "technology", "BBB": "technology", "CCC": "technology"}
	o := optimizerWith(func(c *config.OptimizerConfig) { c.SectorCap = 2.0 })
	w, err := o.Solve(p, factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	var techGross float64
	for _, weight := range w.ByTicker {
		techGross += math.Abs(weight)
	}
	if techGross > 2.0+1e-6 {
		t.Errorf("tech gross %v exceeds cap", techGross)
	}
}

func TestSolveDeterministic(t *testing.T) {
	o := optimizerWith(nil)
	first, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	second, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for t2, w := range first.ByTicker {
		if second.ByTicker[t2] != w {
			t.Errorf("weight %s differs across runs: %v vs %v", t2, w, second.ByTicker[t2])
		}
	}
}

func TestInfeasibleBudget(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) { c.WeightMax = 0.10 })
	_, err := o.Solve(problem3(), factors.Scores{})
	if !errors.Is(err, errs.ErrSolverInfeasible) {
		t.Errorf("3 x 0.10 cannot reach budget 1.0: got %v", err)
	}
}

func TestEmptyProblem(t *testing.T) {
	o := optimizerWith(nil)
	_, err := o.Solve(Problem{}, factors.Scores{})
	if !errors.Is(err, errs.ErrEmptyOptimizationSet) {
		t.Errorf("empty problem: got %v", err)
	}
}

func TestSharpeFloorWarns(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) { c.MinTargetSharpe = 50 })
	w, err := o.Solve(problem3(), factors.Scores{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(w.Warnings) == 0 {
		t.Error("unreachable sharpe floor should attach a warning")
	}
}

func TestPartitionBySign(t *testing.T) {
	scores := scoresFor(map[string]float64{"AAA": 1.2, "BBB": -0.4, "CCC": 0})
	long, short := partitionBySign([]string{"AAA", "BBB", "CCC"}, scores)
	if len(long) != 2 || len(short) != 1 || short[0] != "BBB" {
		t.Errorf("partition = %v / %v", long, short)
	}
}

func TestLongShortExposures(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) {
		c.Mode = config.ModeLongShort
		c.LongExposure = 1.3
		c.ShortExposure = 0.3
		c.WeightMax = 0.80
		c.SectorCap = 2.0
	})
	scores := scoresFor(map[string]float64{"AAA": 1.0, "BBB": 0.5, "CCC": -1.0})
	w, err := o.Solve(problem3(), scores)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if math.Abs(w.Gross()-1.6) > 1e-6 {
		t.Errorf("gross = %v, want 1.6", w.Gross())
	}
	if math.Abs(w.Net()-1.0) > 1e-6 {
		t.Errorf("net = %v, want 1.0", w.Net())
	}
	if w.ByTicker["CCC"] >= 0 {
		t.Errorf("CCC should be short, got %v", w.ByTicker["CCC"])
	}
}

func TestLongShortNoNegativesFails(t *testing.T) {
	o := optimizerWith(func(c *config.OptimizerConfig) {
		c.Mode = config.ModeLongShort
		c.LongExposure = 1.3
		c.ShortExposure = 0.3
	})
	scores := scoresFor(map[string]float64{"AAA": -1, "BBB": -1, "CCC": -1})
	if _, err := o.Solve(problem3(), scores); !errors.Is(err, errs.ErrSolverInfeasible) {
		t.Errorf("all-negative scores leave no long leg: got %v", err)
	}
}
