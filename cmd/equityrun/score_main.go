package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/factors"
	"github.com/sawpanic/equityrun/internal/ffregime"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score the universe at a single as-of date",
		Long:  "Resolves the universe, computes standardized value, quality, and momentum factors, and prints the composite ranking.",
		RunE:  runScore,
	}
	cmd.Flags().String("date", "", "As-of date (YYYY-MM-DD, required)")
	cmd.Flags().Int("top", 25, "Number of ranked tickers to print")
	cmd.MarkFlagRequired("date")
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	dateStr, _ := cmd.Flags().GetString("date")
	top, _ := cmd.Flags().GetInt("top")

	asOf, err := parseDay(dateStr)
	if err != nil {
		return err
	}

	s, err := buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.resolver.Resolve(cmd.Context(), asOf)
	if err != nil {
		return err
	}
	s.collector.SetUniverseSize(len(u.Members))

	var adjuster factors.RegimeAdjuster
	if s.cfg.Factors.UseFactorRegimes {
		adjuster = ffregime.New(s.provider, s.cfg.Factors)
	}
	engine := factors.New(s.provider, s.cfg.Factors, adjuster)

	scores, err := engine.Score(cmd.Context(), u, asOf)
	if err != nil {
		return err
	}

	fmt.Printf("Scores as of %s (%d tickers, tilts v=%.2f q=%.2f m=%.2f)\n\n",
		asOf.Format("2006-01-02"), len(scores.ByTicker),
		scores.Tilts.Value, scores.Tilts.Quality, scores.Tilts.Momentum)
	fmt.Printf("%-8s %9s %9s %9s %9s  %s\n", "TICKER", "TOTAL", "VALUE", "QUALITY", "MOMENTUM", "FLAGS")
	for _, t := range scores.TopN(top) {
		sc, _ := scores.Get(t)
		flag := ""
		if sc.InsufficientData {
			flag = "insufficient_data"
		}
		fmt.Printf("%-8s %9.3f %9.3f %9.3f %9.3f  %s\n",
			sc.Ticker, sc.Total, sc.ZValue, sc.ZQuality, sc.ZMomentum, flag)
	}
	return nil
}
