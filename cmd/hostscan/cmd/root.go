package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/config"
	"github.com/psantana5/hostscan/internal/controller"
	"github.com/psantana5/hostscan/internal/query"
	"github.com/psantana5/hostscan/pkg/logging"
	"github.com/psantana5/hostscan/pkg/tracing"
)

var (
	cfgFile string
	v       = config.NewViper()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hostscan",
	Short: "Tiered diagnostic scanner for Windows hosts",
	Long: `hostscan runs quick, standard or deep tiers of host health checks on a bounded
worker pool, scores every finding, and grades the run against its time budget.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hostscan/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().Bool("log-file", false, "also write logs under the system log directory")

	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if _, err := config.ReadFile(v, cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig decodes the merged settings of flags, env, file and defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger for a subcommand
func newLogger(cfg *config.Config, sub string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if !cfg.Log.File {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}

	logger, err := logging.NewFileLogger("hostscan", sub, level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}
	if err := logger.RotateIfNeeded(int64(cfg.Log.MaxSizeMB) << 20); err != nil {
		logger.Warn(fmt.Sprintf("Log rotation failed: %v", err))
	}
	return logger, nil
}

// engine is everything needed to run scans
type engine struct {
	registry   *checks.Registry
	controller *controller.Controller
	tracer     *tracing.Provider
}

func newEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*engine, error) {
	tracer, err := tracing.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}

	events := query.NewWrapper(query.NewEventLogSource(), cfg.QueryOptions(), logger.WithField("component", "query"))
	registry, err := checks.NewRegistry(checks.Builtin(events, cfg.Query.Timeout), cfg.Membership())
	if err != nil {
		return nil, fmt.Errorf("invalid check configuration: %w", err)
	}

	ctrl := controller.New(controller.Config{
		Registry:        registry,
		Budget:          cfg.Evaluator(),
		Concurrency:     cfg.Concurrency(),
		PerCheckTimeout: cfg.Scan.PerCheckTimeout,
		Logger:          logger.WithField("component", "controller"),
		Tracer:          tracer,
	})

	return &engine{registry: registry, controller: ctrl, tracer: tracer}, nil
}

// bindFlag ties a command flag to a config key so flags win over env and file
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}
