package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "equityrun"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Systematic equity portfolio construction and backtesting",
		Version: version,
		Long: `equityrun builds factor-scored, Black-Litterman blended equity portfolios
and replays them point-in-time over historical rebalance calendars.`,
	}

	// accept --log_level style spellings from older scripts
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", "", "Path to yaml config (defaults apply when omitted)")
	rootCmd.PersistentFlags().String("universe", "config/universe.yaml", "Path to universe membership file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
		zerolog.SetGlobalLevel(parsed)
		return nil
	}

	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newOptimizeCmd())
	rootCmd.AddCommand(newRegimeCmd())
	rootCmd.AddCommand(newHealthCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func parseDay(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD: %w", s, err)
	}
	return d, nil
}
