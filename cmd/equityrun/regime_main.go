package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/regime"
)

func newRegimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Classify the market regime at a date",
		Long:  "Runs the configured regime method (sma, vix, or combined) and prints the classification with its signal breakdown.",
		RunE:  runRegime,
	}
	cmd.Flags().String("date", "", "As-of date (YYYY-MM-DD, required)")
	cmd.MarkFlagRequired("date")
	return cmd
}

func runRegime(cmd *cobra.Command, args []string) error {
	dateStr, _ := cmd.Flags().GetString("date")
	asOf, err := parseDay(dateStr)
	if err != nil {
		return err
	}

	s, err := buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	detector := regime.New(s.provider, s.cfg.Regime)
	res, err := detector.Classify(cmd.Context(), asOf, s.cfg.Regime.Method)
	if err != nil {
		return err
	}

	exposure := regime.Exposure(res.Regime, s.cfg.Regime)
	fmt.Printf("Regime at %s: %s (method %s, exposure %.2f)\n",
		asOf.Format("2006-01-02"), res.Regime, res.Method, exposure)
	if res.Close > 0 {
		fmt.Printf("  %s close %.2f vs 200d SMA %.2f\n", s.cfg.Regime.IndexSymbol, res.Close, res.SMA)
	}

	names := make([]string, 0, len(res.Signals))
	for name := range res.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %s\n", name, res.Signals[name])
	}
	return nil
}
