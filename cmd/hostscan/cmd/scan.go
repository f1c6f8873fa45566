package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/internal/controller"
	"github.com/psantana5/hostscan/internal/observe"
	"github.com/psantana5/hostscan/internal/report"
	"github.com/psantana5/hostscan/pkg/models"
)

var (
	scanMaxConcurrency int
	scanChecks         []string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a tier of host checks",
	Long: `Runs every check of the selected tier and reports the scored findings.

Failed or timed out checks are reported but do not change the exit code; only
configuration errors and unknown check ids exit non-zero.

Examples:
  hostscan scan --tier quick
  hostscan scan --tier deep --format html --out report.html
  hostscan scan --checks disk.free_space,system.uptime --sequential`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("tier", "standard", "scan tier: quick, standard, deep")
	scanCmd.Flags().Bool("sequential", false, "run checks one at a time")
	scanCmd.Flags().IntVar(&scanMaxConcurrency, "max-concurrency", 0, "worker count (default: per tier)")
	scanCmd.Flags().Duration("per-check-timeout", controller.DefaultPerCheckTimeout, "abandon a check after this long")
	scanCmd.Flags().Duration("query-timeout", 10*time.Second, "event log query timeout")
	scanCmd.Flags().String("format", "table", "report format: html, json, yaml, table")
	scanCmd.Flags().String("out", "", "write the report to this file instead of stdout")
	scanCmd.Flags().String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	scanCmd.Flags().Int("top", 10, "findings shown in the summary")
	scanCmd.Flags().StringSliceVar(&scanChecks, "checks", nil, "run only these check ids")

	bindFlag(scanCmd, "scan.tier", "tier")
	bindFlag(scanCmd, "scan.sequential", "sequential")
	bindFlag(scanCmd, "scan.per_check_timeout", "per-check-timeout")
	bindFlag(scanCmd, "query.timeout", "query-timeout")
	bindFlag(scanCmd, "report.format", "format")
	bindFlag(scanCmd, "report.out", "out")
	bindFlag(scanCmd, "report.metrics_file", "metrics-file")
	bindFlag(scanCmd, "report.top", "top")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "scan")
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.tracer.Shutdown(shutdownCtx)
	}()

	var ids []string
	for _, id := range scanChecks {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	metrics := observe.NewMetricsCollector()
	result, err := eng.controller.RunTier(ctx, controller.Request{
		Tier:           cfg.Tier(),
		Checks:         ids,
		Sequential:     cfg.Scan.Sequential,
		MaxConcurrency: scanMaxConcurrency,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	if cfg.Report.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Report.MetricsFile); err != nil {
			logger.Error(fmt.Sprintf("Failed to write metrics file: %v", err))
		} else {
			logger.Info(fmt.Sprintf("Metrics written to %s", cfg.Report.MetricsFile))
		}
	}

	if cfg.Report.Out == "" {
		return report.Render(os.Stdout, format, result)
	}

	if err := report.WriteFile(cfg.Report.Out, format, result); err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("Report written to %s", cfg.Report.Out))
	return report.Summary(os.Stdout, result, cfg.Report.Top)
}

// tierOrDefault parses a --tier value, falling back to the configured tier
func tierOrDefault(s string, fallback models.Tier) (models.Tier, error) {
	if s == "" {
		return fallback, nil
	}
	return models.ParseTier(s)
}
