// Package backtest walks a factor strategy forward through time, one
// rebalance date at a time, and reduces the result to a ledger plus terminal
// metrics. The driver is single-threaded and deterministic for a given
// provider.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/equityrun/internal/blacklitterman"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
	"github.com/sawpanic/equityrun/internal/ffregime"
	"github.com/sawpanic/equityrun/internal/macro"
	"github.com/sawpanic/equityrun/internal/optimizer"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/universe"
)

// covLookbackDays is the calendar span fetched for the trailing two-year
// covariance window.
const covLookbackDays = 730

// boundSetter is implemented by providers that enforce a read horizon; the
// driver advances it to each rebalance date before touching data.
type boundSetter interface {
	SetBound(time.Time)
}

// SkippedDate records one rebalance that produced no new weights.
type SkippedDate struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// DroppedTicker records one ticker excluded from one rebalance.
type DroppedTicker struct {
	Date   time.Time `json:"date"`
	Ticker string    `json:"ticker"`
	Reason string    `json:"reason"`
}

// Diagnostics enumerates everything that went sideways without aborting.
type Diagnostics struct {
	RunID     string          `json:"run_id"`
	Skipped   []SkippedDate   `json:"skipped,omitempty"`
	Dropped   []DroppedTicker `json:"dropped,omitempty"`
	Retries   []time.Time     `json:"retries,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// Result is the structured output of one run.
type Result struct {
	Ledger      Ledger      `json:"ledger"`
	Metrics     Metrics     `json:"metrics"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Driver owns the per-rebalance state machine and the growing ledger.
type Driver struct {
	cfg      config.Config
	resolver universe.Resolver
	provider data.MarketDataProvider

	engine  *factors.Engine
	macro   *macro.Adjuster
	regimes *regime.Detector
	model   *blacklitterman.Model
	opt     *optimizer.Optimizer

	logger zerolog.Logger
}

// New wires a driver from the run configuration. The factor-regime adjuster
// is attached only when enabled.
func New(cfg config.Config, resolver universe.Resolver, provider data.MarketDataProvider) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var adjuster factors.RegimeAdjuster
	if cfg.Factors.UseFactorRegimes {
		adjuster = ffregime.New(provider, cfg.Factors)
	}

	return &Driver{
		cfg:      cfg,
		resolver: resolver,
		provider: provider,
		engine:   factors.New(provider, cfg.Factors, adjuster),
		macro:    macro.New(provider, cfg.Macro),
		regimes:  regime.New(provider, cfg.Regime),
		model:    blacklitterman.New(cfg.Optimizer),
		opt:      optimizer.New(cfg.Optimizer),
		logger:   log.With().Str("component", "backtest").Logger(),
	}, nil
}

// Run walks the rebalance calendar from start to end. Cancellation is
// honored between dates; the ledger up to the last completed date is
// returned either way.
func (d *Driver) Run(ctx context.Context, start, end time.Time) (Result, error) {
	var result Result
	result.Diagnostics.RunID = uuid.NewString()

	// The benchmark doubles as the trading calendar, so it is fetched over
	// the whole window before the read bound engages.
	calendar, err := d.provider.BenchmarkPrices(ctx, start.AddDate(0, 0, -30), end)
	if err != nil {
		return result, fmt.Errorf("benchmark probe: %w", errs.ErrProviderUnavailable)
	}
	if setter, ok := d.provider.(boundSetter); ok {
		setter.SetBound(start)
	}

	dates := RebalanceDates(calendar, start, end, d.cfg.Backtest.Frequency)
	d.logger.Info().
		Str("run_id", result.Diagnostics.RunID).
		Time("start", start).
		Time("end", end).
		Int("rebalances", len(dates)).
		Msg("Backtest starting")

	var (
		returns    []float64
		benchmarks []float64
		prevDate   time.Time
		pendingFee float64
	)

	for _, rebalance := range dates {
		if ctx.Err() != nil {
			result.Diagnostics.Cancelled = true
			break
		}
		if setter, ok := d.provider.(boundSetter); ok {
			setter.SetBound(rebalance)
		}

		if prev, ok := result.Ledger.Last(); ok {
			r, err := d.realizeReturn(ctx, prev, prevDate, rebalance)
			if err != nil {
				return result, err
			}
			returns = append(returns, r-pendingFee)
			pendingFee = 0

			b, err := d.benchmarkReturn(ctx, prevDate, rebalance)
			if err != nil {
				return result, err
			}
			benchmarks = append(benchmarks, b)
		}

		entry, turnover, err := d.rebalanceAt(ctx, rebalance, &result)
		if err != nil {
			return result, err
		}
		if entry != nil {
			pendingFee = turnover * d.cfg.Backtest.SlippageBps / 10_000
			result.Ledger.append(*entry)
		}
		prevDate = rebalance
	}

	result.Metrics = ComputeMetrics(returns, benchmarks, d.cfg.Backtest.Frequency, d.cfg.Optimizer.RiskFreeRate)
	d.logger.Info().
		Int("entries", len(result.Ledger.Entries)).
		Int("skipped", len(result.Diagnostics.Skipped)).
		Float64("total_return", result.Metrics.TotalReturn).
		Msg("Backtest finished")
	return result, nil
}

// rebalanceAt runs the full per-date pipeline. A nil entry with nil error
// means the date was skipped; failures that carry prior weights forward
// return an entry flagged in its note.
func (d *Driver) rebalanceAt(ctx context.Context, asOf time.Time, result *Result) (*Entry, float64, error) {
	u, err := d.resolver.Resolve(ctx, asOf)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve universe at %s: %w", asOf.Format("2006-01-02"), err)
	}
	if len(u.Members) < d.cfg.Backtest.MinUniverse {
		d.skip(result, asOf, errs.ErrInsufficientUniverse.Error())
		return d.carryForward(result, asOf, "insufficient_universe"), 0, nil
	}

	scores, err := d.engine.Score(ctx, u, asOf)
	if err != nil {
		d.skip(result, asOf, err.Error())
		return d.carryForward(result, asOf, "scoring_failed"), 0, nil
	}

	optSet, series := d.selectOptimizationSet(ctx, asOf, scores, result)
	if len(optSet) < d.cfg.Backtest.MinUniverse {
		d.skip(result, asOf, errs.ErrInsufficientUniverse.Error())
		return d.carryForward(result, asOf, "insufficient_universe"), 0, nil
	}

	caps, err := d.provider.MarketCaps(ctx, optSet, asOf)
	if err != nil {
		d.skip(result, asOf, err.Error())
		return d.carryForward(result, asOf, "caps_unavailable"), 0, nil
	}
	optSet, series = dropCapless(optSet, series, caps, asOf, result)
	if len(optSet) < d.cfg.Backtest.MinUniverse {
		d.skip(result, asOf, errs.ErrInsufficientUniverse.Error())
		return d.carryForward(result, asOf, "insufficient_universe"), 0, nil
	}

	weights, err := d.solve(ctx, asOf, optSet, series, caps, scores, u, result)
	if err != nil {
		d.logger.Warn().Err(err).Time("as_of", asOf).Msg("Optimization failed, carrying prior weights")
		d.skip(result, asOf, errs.ErrOptimizationFailed.Error())
		return d.carryForward(result, asOf, "optimization_failed"), 0, nil
	}

	entry := Entry{
		Date:           asOf,
		Weights:        weights.ByTicker,
		Exposure:       1.0,
		ExpectedReturn: weights.ExpectedReturn,
		Volatility:     weights.Volatility,
		Sharpe:         weights.Sharpe,
	}

	if d.cfg.Regime.UseAdjustment {
		res, err := d.regimes.Classify(ctx, asOf, d.cfg.Regime.Method)
		if err != nil {
			return nil, 0, err
		}
		entry.Regime = res.Regime.String()
		entry.Exposure = regime.Exposure(res.Regime, d.cfg.Regime)
		for t := range entry.Weights {
			entry.Weights[t] *= entry.Exposure
		}
	}

	var turnover float64
	prevWeights := map[string]float64{}
	if prev, ok := result.Ledger.Last(); ok {
		prevWeights = prev.Weights
	}
	turnover = turnoverBetween(prevWeights, entry.Weights)

	return &entry, turnover, nil
}

// selectOptimizationSet ranks the scored tickers, drops the flagged ones,
// takes the top N, and fetches the trailing price window for each survivor.
func (d *Driver) selectOptimizationSet(ctx context.Context, asOf time.Time, scores factors.Scores, result *Result) ([]string, map[string]data.PriceSeries) {
	ranked := scores.TopN(len(scores.ByTicker))

	var optSet []string
	series := make(map[string]data.PriceSeries)
	for _, t := range ranked {
		if len(optSet) == d.cfg.Backtest.TopN {
			break
		}
		sc, _ := scores.Get(t)
		if sc.InsufficientData {
			result.Diagnostics.Dropped = append(result.Diagnostics.Dropped,
				DroppedTicker{Date: asOf, Ticker: t, Reason: errs.ErrInsufficientData.Error()})
			continue
		}
		s, err := d.provider.Prices(ctx, t, asOf.AddDate(0, 0, -covLookbackDays), asOf)
		if err != nil || s.Len() < data.MinPriceRows {
			result.Diagnostics.Dropped = append(result.Diagnostics.Dropped,
				DroppedTicker{Date: asOf, Ticker: t, Reason: errs.ErrDataUnavailable.Error()})
			continue
		}
		optSet = append(optSet, t)
		series[t] = s
	}
	return optSet, series
}

// solve estimates the covariance, builds the posterior, and runs the
// optimizer. A conditioning or solver failure earns one retry with forced
// shrinkage and a relaxed Sharpe floor.
func (d *Driver) solve(ctx context.Context, asOf time.Time, optSet []string, series map[string]data.PriceSeries, caps map[string]float64, scores factors.Scores, u universe.Universe, result *Result) (optimizer.Weights, error) {
	rets, err := risk.AlignedReturns(series, optSet)
	if err != nil {
		return optimizer.Weights{}, err
	}

	scalar := 1.0
	if d.cfg.Macro.UseMacro {
		scalar = d.macro.Scalar(ctx, asOf)
	}

	attempt := func(cov *mat.SymDense, shrunk bool, opt *optimizer.Optimizer) (optimizer.Weights, error) {
		post, err := d.model.Run(optSet, caps, cov, shrunk, scalar, scores)
		if err != nil {
			return optimizer.Weights{}, err
		}
		return opt.Solve(optimizer.ProblemFrom(post, u.SectorOf()), scores)
	}

	cov, shrunk, err := risk.Estimate(rets)
	if err == nil {
		w, solveErr := attempt(cov, shrunk, d.opt)
		if solveErr == nil {
			return w, nil
		}
		err = solveErr
	}

	// retry: forced shrinkage, floor relaxed
	result.Diagnostics.Retries = append(result.Diagnostics.Retries, asOf)
	d.logger.Warn().Err(err).Time("as_of", asOf).Msg("Solver retry with forced shrinkage")
	relaxed := d.cfg.Optimizer
	relaxed.MinTargetSharpe = 0
	return attempt(risk.LedoitWolf(rets), true, optimizer.New(relaxed))
}
