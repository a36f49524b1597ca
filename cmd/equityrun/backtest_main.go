package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/backtest"
	"github.com/sawpanic/equityrun/internal/config"
	ilog "github.com/sawpanic/equityrun/internal/log"
	"github.com/sawpanic/equityrun/internal/report"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over a historical window",
		Long:  "Walks the rebalance calendar from --start to --end, booking a portfolio at each date and realizing returns point-in-time.",
		RunE:  runBacktest,
	}
	cmd.Flags().String("start", "", "First rebalance date (YYYY-MM-DD, required)")
	cmd.Flags().String("end", "", "Last rebalance date (YYYY-MM-DD, required)")
	cmd.Flags().String("out", "artifacts", "Directory for ledger and metrics artifacts")
	cmd.Flags().Bool("progress", true, "Show progress indicator")
	cmd.Flags().String("frequency", "", "Override rebalance frequency (monthly|quarterly)")
	cmd.Flags().Int("top-n", 0, "Override optimization set size")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func runBacktest(cmd *cobra.Command, args []string) error {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	outDir, _ := cmd.Flags().GetString("out")

	start, err := parseDay(startStr)
	if err != nil {
		return err
	}
	end, err := parseDay(endStr)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("end %s precedes start %s", endStr, startStr)
	}

	progCfg := ilog.DefaultProgressConfig()
	if show, _ := cmd.Flags().GetBool("progress"); !show {
		progCfg = ilog.QuietProgressConfig()
	}
	stages := ilog.NewStageLogger("backtest", []string{"connect", "run", "report"}, progCfg)

	stages.StartStage("connect")
	s, err := buildStack(cmd)
	if err != nil {
		stages.Fail(err.Error())
		return err
	}
	defer s.Close()
	stages.CompleteStage()

	if freq, _ := cmd.Flags().GetString("frequency"); freq != "" {
		s.cfg.Backtest.Frequency = config.Frequency(freq)
	}
	if topN, _ := cmd.Flags().GetInt("top-n"); topN > 0 {
		s.cfg.Backtest.TopN = topN
	}

	stages.StartStage("run")
	d, err := backtest.New(s.cfg, s.resolver, s.provider)
	if err != nil {
		stages.Fail(err.Error())
		return err
	}
	began := time.Now()
	result, err := d.Run(cmd.Context(), start, end)
	if err != nil {
		stages.Fail(err.Error())
		return err
	}
	s.collector.ObserveRun(time.Since(began))
	for _, skipped := range result.Diagnostics.Skipped {
		s.collector.RecordRebalance(skipped.Date, "skipped")
	}
	for _, entry := range result.Ledger.Entries {
		s.collector.RecordRebalance(entry.Date, "booked")
	}
	if last, ok := result.Ledger.Last(); ok {
		s.collector.SetPortfolio(last.Regime, last.Equity(), last.Sharpe)
	}
	stages.CompleteStage()

	stages.StartStage("report")
	writer := report.NewWriter()
	if err := writer.WriteArtifacts(outDir, result); err != nil {
		stages.Fail(err.Error())
		return err
	}
	stages.Finish()

	fmt.Print(writer.Summary(result))
	return nil
}
