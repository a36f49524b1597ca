package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/blacklitterman"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
	"github.com/sawpanic/equityrun/internal/ffregime"
	"github.com/sawpanic/equityrun/internal/macro"
	"github.com/sawpanic/equityrun/internal/optimizer"
	"github.com/sawpanic/equityrun/internal/risk"
)

const priceLookbackDays = 730

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Construct a portfolio at a single as-of date",
		Long:  "Scores the universe, blends factor views into the equilibrium prior, and solves for constrained weights. With --budget the weights are converted into whole-share counts.",
		RunE:  runOptimize,
	}
	cmd.Flags().String("date", "", "As-of date (YYYY-MM-DD, required)")
	cmd.Flags().Float64("budget", 0, "Cash budget for discrete share allocation (0 skips allocation)")
	cmd.Flags().String("objective", "", "Override optimizer objective (max_sharpe|min_variance|max_quadratic_utility|efficient_risk|efficient_return)")
	cmd.MarkFlagRequired("date")
	return cmd
}

func runOptimize(cmd *cobra.Command, args []string) error {
	dateStr, _ := cmd.Flags().GetString("date")
	budget, _ := cmd.Flags().GetFloat64("budget")

	asOf, err := parseDay(dateStr)
	if err != nil {
		return err
	}

	s, err := buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if obj, _ := cmd.Flags().GetString("objective"); obj != "" {
		s.cfg.Optimizer.Objective = config.Objective(obj)
		if err := s.cfg.Validate(); err != nil {
			return err
		}
	}

	began := time.Now()
	weights, series, err := solveAt(cmd.Context(), s, asOf)
	if err != nil {
		return err
	}
	s.collector.ObserveSolve(time.Since(began))
	s.collector.SetPortfolio("", weights.Gross(), weights.Sharpe)

	fmt.Printf("Portfolio as of %s (objective %s, mode %s)\n",
		asOf.Format("2006-01-02"), s.cfg.Optimizer.Objective, s.cfg.Optimizer.Mode)
	fmt.Printf("  Expected Return %8.2f%%\n", weights.ExpectedReturn*100)
	fmt.Printf("  Volatility      %8.2f%%\n", weights.Volatility*100)
	fmt.Printf("  Sharpe          %8.2f\n\n", weights.Sharpe)
	for _, t := range weights.Tickers() {
		fmt.Printf("  %-8s %8.2f%%\n", t, weights.ByTicker[t]*100)
	}
	for _, warning := range weights.Warnings {
		fmt.Printf("\n  warning: %s\n", warning)
	}

	if budget > 0 {
		return printAllocation(weights, series, asOf, budget)
	}
	return nil
}

// solveAt is the one-shot version of a backtest rebalance: score, rank,
// estimate risk, blend, and solve.
func solveAt(ctx context.Context, s *stack, asOf time.Time) (optimizer.Weights, map[string]data.PriceSeries, error) {
	u, err := s.resolver.Resolve(ctx, asOf)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}
	if len(u.Members) < s.cfg.Backtest.MinUniverse {
		return optimizer.Weights{}, nil, fmt.Errorf("%d members at %s: %w",
			len(u.Members), asOf.Format("2006-01-02"), errs.ErrInsufficientUniverse)
	}
	s.collector.SetUniverseSize(len(u.Members))

	var adjuster factors.RegimeAdjuster
	if s.cfg.Factors.UseFactorRegimes {
		adjuster = ffregime.New(s.provider, s.cfg.Factors)
	}
	engine := factors.New(s.provider, s.cfg.Factors, adjuster)
	scores, err := engine.Score(ctx, u, asOf)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}

	var optSet []string
	series := make(map[string]data.PriceSeries)
	for _, t := range scores.TopN(len(scores.ByTicker)) {
		if len(optSet) == s.cfg.Backtest.TopN {
			break
		}
		sc, _ := scores.Get(t)
		if sc.InsufficientData {
			continue
		}
		px, err := s.provider.Prices(ctx, t, asOf.AddDate(0, 0, -priceLookbackDays), asOf)
		if err != nil || px.Len() < data.MinPriceRows {
			continue
		}
		optSet = append(optSet, t)
		series[t] = px
	}
	if len(optSet) < s.cfg.Backtest.MinUniverse {
		return optimizer.Weights{}, nil, errs.ErrInsufficientUniverse
	}

	caps, err := s.provider.MarketCaps(ctx, optSet, asOf)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}

	rets, err := risk.AlignedReturns(series, optSet)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}
	cov, shrunk, err := risk.Estimate(rets)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}

	scalar := 1.0
	if s.cfg.Macro.UseMacro {
		scalar = macro.New(s.provider, s.cfg.Macro).Scalar(ctx, asOf)
	}

	post, err := blacklitterman.New(s.cfg.Optimizer).Run(optSet, caps, cov, shrunk, scalar, scores)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}

	weights, err := optimizer.New(s.cfg.Optimizer).Solve(optimizer.ProblemFrom(post, u.SectorOf()), scores)
	if err != nil {
		return optimizer.Weights{}, nil, err
	}
	return weights, series, nil
}

func printAllocation(w optimizer.Weights, series map[string]data.PriceSeries, asOf time.Time, budget float64) error {
	prices := make(map[string]float64, len(series))
	for t, px := range series {
		prices[t] = px.CloseOnOrBefore(asOf)
	}
	alloc, err := optimizer.Allocate(w, prices, budget)
	if err != nil {
		return err
	}

	tickers := make([]string, 0, len(alloc.Shares))
	for t := range alloc.Shares {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	fmt.Printf("\nAllocation for %.2f:\n", budget)
	for _, t := range tickers {
		fmt.Printf("  %-8s %8d @ %10.2f\n", t, alloc.Shares[t], prices[t])
	}
	fmt.Printf("  invested %.2f, leftover %.2f\n", alloc.Invested, alloc.Leftover)
	return nil
}
