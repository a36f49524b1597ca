// Package optimizer solves the constrained portfolio problem over a
// Black-Litterman posterior. Constraints are enforced with a penalty method
// so every objective runs through the same gradient-based solver.
package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/sawpanic/equityrun/internal/blacklitterman"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
)

const (
	penaltyWeight = 1000.0

	// ridge added to the quadratic term so face-degenerate solutions resolve
	// to the interior point deterministically
	epsRidge = 1e-8

	// sharpeFloorSlack is how far below the floor a solution may land before
	// the warning path engages.
	sharpeFloorSlack = 0.95
)

// Problem is one optimization instance in fixed ticker order.
type Problem struct {
	Tickers  []string
	Mean     []float64
	Cov      *mat.SymDense
	SectorOf map[string]string
}

// Weights is the solved portfolio with its headline statistics.
type Weights struct {
	ByTicker       map[string]float64 `json:"by_ticker"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// Tickers returns the held tickers sorted for stable iteration.
func (w Weights) Tickers() []string {
	out := make([]string, 0, len(w.ByTicker))
	for t := range w.ByTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Gross returns the sum of absolute weights.
func (w Weights) Gross() float64 {
	var g float64
	for _, v := range w.ByTicker {
		g += math.Abs(v)
	}
	return g
}

// Net returns the signed sum of weights.
func (w Weights) Net() float64 {
	var n float64
	for _, v := range w.ByTicker {
		n += v
	}
	return n
}

// Optimizer runs the configured objective over posterior inputs.
type Optimizer struct {
	cfg    config.OptimizerConfig
	logger zerolog.Logger
}

// New builds an optimizer.
func New(cfg config.OptimizerConfig) *Optimizer {
	return &Optimizer{
		cfg:    cfg,
		logger: log.With().Str("component", "optimizer").Logger(),
	}
}

// ProblemFrom adapts a posterior and sector map into a solver problem.
func ProblemFrom(post blacklitterman.Posterior, sectorOf map[string]string) Problem {
	return Problem{
		Tickers:  post.Tickers,
		Mean:     post.Mean,
		Cov:      post.Cov,
		SectorOf: sectorOf,
	}
}

// Solve dispatches on the configured mode and objective.
func (o *Optimizer) Solve(p Problem, scores factors.Scores) (Weights, error) {
	if len(p.Tickers) == 0 {
		return Weights{}, fmt.Errorf("optimize: %w", errs.ErrEmptyOptimizationSet)
	}
	if o.cfg.Mode == config.ModeLongShort {
		return o.solveLongShort(p, scores)
	}
	return o.solveObjective(p, o.cfg.Objective, 1.0)
}

func (o *Optimizer) solveObjective(p Problem, objective config.Objective, budget float64) (Weights, error) {
	if err := o.feasible(len(p.Tickers), budget); err != nil {
		return Weights{}, err
	}

	spec := objectiveSpec{kind: objective, riskFree: o.cfg.RiskFreeRate, riskAversion: o.cfg.RiskAversion}
	switch objective {
	case config.ObjectiveEfficientRisk:
		spec.targetVol = o.cfg.TargetVol
	case config.ObjectiveEfficientReturn:
		spec.targetReturn = o.cfg.TargetReturn
	}

	x, err := o.minimize(p, spec, budget, uniformStart(len(p.Tickers), budget))
	if err != nil {
		return Weights{}, err
	}
	result := o.finalize(p, x, budget)

	if objective == config.ObjectiveMaxSharpe && o.cfg.MinTargetSharpe > 0 {
		result = o.enforceSharpeFloor(p, spec, budget, result)
	}

	o.logger.Debug().
		Str("objective", string(objective)).
		Int("assets", len(p.Tickers)).
		Float64("sharpe", result.Sharpe).
		Float64("volatility", result.Volatility).
		Msg("Portfolio solved")
	return result, nil
}

// enforceSharpeFloor retries once from a perturbed start when the solution
// lands below the configured floor, then returns the better of the two with
// a warning.
func (o *Optimizer) enforceSharpeFloor(p Problem, spec objectiveSpec, budget float64, first Weights) Weights {
	floor := sharpeFloorSlack * o.cfg.MinTargetSharpe
	if first.Sharpe >= floor {
		return first
	}

	o.logger.Warn().
		Float64("sharpe", first.Sharpe).
		Float64("floor", o.cfg.MinTargetSharpe).
		Msg("Sharpe below target floor, retrying from alternate start")

	start := tiltedStart(p.Mean, budget, o.cfg.WeightMin, o.cfg.WeightMax)
	x, err := o.minimize(p, spec, budget, start)
	if err == nil {
		if retry := o.finalize(p, x, budget); retry.Sharpe > first.Sharpe {
			first = retry
		}
	}
	if first.Sharpe < floor {
		first.Warnings = append(first.Warnings, fmt.Sprintf(
			"sharpe %.3f below target floor %.3f", first.Sharpe, o.cfg.MinTargetSharpe))
	}
	return first
}

// solveLongShort partitions the set by composite score sign, solves each leg
// with its own budget, and nets the two books.
func (o *Optimizer) solveLongShort(p Problem, scores factors.Scores) (Weights, error) {
	long, short := partitionBySign(p.Tickers, scores)
	if len(long) == 0 {
		return Weights{}, fmt.Errorf("long/short: no positive-score tickers: %w", errs.ErrSolverInfeasible)
	}

	longLeg, err := o.solveLeg(p, long, p.Mean, o.cfg.LongExposure)
	if err != nil {
		return Weights{}, fmt.Errorf("long leg: %w", err)
	}

	combined := Weights{ByTicker: make(map[string]float64, len(p.Tickers))}
	for t, w := range longLeg.ByTicker {
		combined.ByTicker[t] = w
	}

	if o.cfg.ShortExposure > 0 && len(short) > 0 {
		negated := make([]float64, len(p.Mean))
		for i, m := range p.Mean {
			negated[i] = -m
		}
		shortLeg, err := o.solveLeg(p, short, negated, o.cfg.ShortExposure)
		if err != nil {
			return Weights{}, fmt.Errorf("short leg: %w", err)
		}
		for t, w := range shortLeg.ByTicker {
			combined.ByTicker[t] = -w
		}
	}

	o.fillStats(p, &combined)
	o.logger.Debug().
		Int("long", len(long)).
		Int("short", len(short)).
		Float64("gross", combined.Gross()).
		Float64("net", combined.Net()).
		Msg("Long/short portfolio solved")
	return combined, nil
}

// solveLeg restricts the problem to a subset, with the sector cap scaled to
// the leg's share of gross exposure so the combined book still honors it.
func (o *Optimizer) solveLeg(p Problem, subset []string, mean []float64, budget float64) (Weights, error) {
	index := make(map[string]int, len(p.Tickers))
	for i, t := range p.Tickers {
		index[t] = i
	}

	sub := Problem{
		Tickers:  subset,
		Mean:     make([]float64, len(subset)),
		Cov:      mat.NewSymDense(len(subset), nil),
		SectorOf: p.SectorOf,
	}
	for i, t := range subset {
		sub.Mean[i] = mean[index[t]]
		for j := i; j < len(subset); j++ {
			sub.Cov.SetSym(i, j, p.Cov.At(index[t], index[subset[j]]))
		}
	}

	gross := o.cfg.LongExposure + o.cfg.ShortExposure
	legCfg := o.cfg
	legCfg.SectorCap = o.cfg.SectorCap * budget / gross
	leg := &Optimizer{cfg: legCfg, logger: o.logger}
	return leg.solveObjective(sub, config.ObjectiveMaxSharpe, budget)
}

func partitionBySign(tickers []string, scores factors.Scores) (long, short []string) {
	for _, t := range tickers {
		if sc, ok := scores.Get(t); ok && sc.Total < 0 {
			short = append(short, t)
			continue
		}
		long = append(long, t)
	}
	return long, short
}

// feasible rejects budgets the per-ticker bounds cannot reach.
func (o *Optimizer) feasible(n int, budget float64) error {
	if float64(n)*o.cfg.WeightMax < budget-1e-9 {
		return fmt.Errorf("budget %.2f exceeds %d x weight_max %.2f: %w",
			budget, n, o.cfg.WeightMax, errs.ErrSolverInfeasible)
	}
	if float64(n)*o.cfg.WeightMin > budget+1e-9 {
		return fmt.Errorf("budget %.2f below %d x weight_min %.2f: %w",
			budget, n, o.cfg.WeightMin, errs.ErrSolverInfeasible)
	}
	return nil
}

// finalize projects, scales to the budget, and computes headline statistics.
func (o *Optimizer) finalize(p Problem, x []float64, budget float64) Weights {
	proj := o.projectToBounds(x)
	var sum float64
	for _, w := range proj {
		sum += w
	}
	scale := budget / math.Max(sum, 1e-10)

	out := Weights{ByTicker: make(map[string]float64, len(p.Tickers))}
	for i, t := range p.Tickers {
		out.ByTicker[t] = math.Max(0, proj[i]*scale)
	}
	o.fillStats(p, &out)
	return out
}

func (o *Optimizer) fillStats(p Problem, w *Weights) {
	x := make([]float64, len(p.Tickers))
	for i, t := range p.Tickers {
		x[i] = w.ByTicker[t]
	}
	ret := dot(p.Mean, x)
	variance := quadForm(p.Cov, x)
	w.ExpectedReturn = ret
	w.Volatility = math.Sqrt(math.Max(variance, 0))
	if w.Volatility > 0 {
		w.Sharpe = (ret - o.cfg.RiskFreeRate) / w.Volatility
	}
}

func (o *Optimizer) projectToBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(o.cfg.WeightMin, math.Min(o.cfg.WeightMax, x[i]))
	}
	return proj
}

func uniformStart(n int, budget float64) []float64 {
	start := make([]float64, n)
	for i := range start {
		start[i] = budget / float64(n)
	}
	return start
}

// tiltedStart biases the initial point toward the higher-mean assets.
func tiltedStart(mean []float64, budget, lo, hi float64) []float64 {
	n := len(mean)
	start := make([]float64, n)
	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(a, b int) bool { return mean[ranked[a]] > mean[ranked[b]] })

	remaining := budget
	for _, i := range ranked {
		w := math.Min(hi, remaining)
		start[i] = math.Max(lo, w)
		remaining -= start[i]
		if remaining <= 0 {
			break
		}
	}
	return start
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func quadForm(cov *mat.SymDense, x []float64) float64 {
	var v float64
	for i := range x {
		for j := range x {
			v += x[i] * x[j] * cov.At(i, j)
		}
		v += epsRidge * x[i] * x[i]
	}
	return v
}

// minimize runs the penalty-method problem through BFGS, falling back to
// Nelder-Mead when the gradient path does not converge.
func (o *Optimizer) minimize(p Problem, spec objectiveSpec, budget float64, initial []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			proj := o.projectToBounds(x)
			return spec.value(proj, p.Mean, p.Cov) + o.penalty(proj, p, budget) + spec.constraintPenalty(proj, p.Mean, p.Cov)
		},
		Grad: func(grad, x []float64) {
			proj := o.projectToBounds(x)
			spec.gradient(grad, proj, p.Mean, p.Cov)
			o.addPenaltyGradient(grad, proj, p, budget)
			spec.addConstraintGradient(grad, proj, p.Mean, p.Cov)
		},
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("solver: %v: %w", err, errs.ErrOptimizationFailed)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("solver status %v: %w", result.Status, errs.ErrOptimizationFailed)
		}
	}
	return result.X, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	default:
		return false
	}
}

// penalty covers the budget equality and the per-sector gross cap.
func (o *Optimizer) penalty(x []float64, p Problem, budget float64) float64 {
	var sum float64
	for _, w := range x {
		sum += w
	}
	pen := penaltyWeight * (sum - budget) * (sum - budget)

	for _, gross := range sectorGross(x, p) {
		if gross > o.cfg.SectorCap {
			over := gross - o.cfg.SectorCap
			pen += penaltyWeight * over * over
		}
	}
	return pen
}

func (o *Optimizer) addPenaltyGradient(grad, x []float64, p Problem, budget float64) {
	var sum float64
	for _, w := range x {
		sum += w
	}
	for i := range grad {
		grad[i] += 2 * penaltyWeight * (sum - budget)
	}

	weights := sectorGross(x, p)
	for i, t := range p.Tickers {
		sector := p.SectorOf[t]
		if gross := weights[sector]; gross > o.cfg.SectorCap {
			grad[i] += 2 * penaltyWeight * (gross - o.cfg.SectorCap) * sign(x[i])
		}
	}
}

func sectorGross(x []float64, p Problem) map[string]float64 {
	weights := make(map[string]float64)
	for i, t := range p.Tickers {
		weights[p.SectorOf[t]] += math.Abs(x[i])
	}
	return weights
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
