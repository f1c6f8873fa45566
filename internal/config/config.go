package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/hostscan/internal/budget"
	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/controller"
	"github.com/psantana5/hostscan/internal/query"
	"github.com/psantana5/hostscan/pkg/models"
	"github.com/psantana5/hostscan/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. HOSTSCAN_SCAN_TIER
const EnvPrefix = "HOSTSCAN"

// Config is the complete hostscan configuration
type Config struct {
	Scan    ScanConfig        `mapstructure:"scan" yaml:"scan"`
	Query   QueryConfig       `mapstructure:"query" yaml:"query"`
	Budgets BudgetConfig      `mapstructure:"budgets" yaml:"budgets"`
	Checks  checks.Membership `mapstructure:"checks" yaml:"checks"`
	Log     LogConfig         `mapstructure:"log" yaml:"log"`
	Report  ReportConfig      `mapstructure:"report" yaml:"report"`
	Serve   ServeConfig       `mapstructure:"serve" yaml:"serve"`
	Tracing tracing.Config    `mapstructure:"tracing" yaml:"tracing"`
}

// ScanConfig controls the worker pool
type ScanConfig struct {
	Tier            string            `mapstructure:"tier" yaml:"tier"`
	Sequential      bool              `mapstructure:"sequential" yaml:"sequential"`
	PerCheckTimeout time.Duration     `mapstructure:"per_check_timeout" yaml:"per_check_timeout"`
	Concurrency     ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
}

// ConcurrencyConfig is the worker count per tier
type ConcurrencyConfig struct {
	Quick    int `mapstructure:"quick" yaml:"quick"`
	Standard int `mapstructure:"standard" yaml:"standard"`
	Deep     int `mapstructure:"deep" yaml:"deep"`
}

// QueryConfig controls the resilient query wrapper
type QueryConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinTimeout   time.Duration `mapstructure:"min_timeout" yaml:"min_timeout"`
	MaxTimeout   time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	NarrowWindow time.Duration `mapstructure:"narrow_window" yaml:"narrow_window"`
	Retries      int           `mapstructure:"retries" yaml:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// BudgetConfig is the time budget per tier
type BudgetConfig struct {
	Quick     time.Duration `mapstructure:"quick" yaml:"quick"`
	Standard  time.Duration `mapstructure:"standard" yaml:"standard"`
	Deep      time.Duration `mapstructure:"deep" yaml:"deep"`
	WarnRatio float64       `mapstructure:"warn_ratio" yaml:"warn_ratio"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	JSON      bool   `mapstructure:"json" yaml:"json"`
	File      bool   `mapstructure:"file" yaml:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// ReportConfig controls report output
type ReportConfig struct {
	Format      string `mapstructure:"format" yaml:"format"`
	Out         string `mapstructure:"out" yaml:"out"`
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file"`
	Top         int    `mapstructure:"top" yaml:"top"`
}

// ServeConfig controls the HTTP agent
type ServeConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	APIKeyHashes    []string      `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`
	TLSCert         string        `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key" yaml:"tls_key"`
	TLSClientCA     string        `mapstructure:"tls_client_ca" yaml:"tls_client_ca"`
}

// SetDefaults registers every key with its default so env overrides resolve
func SetDefaults(v *viper.Viper) {
	conc := controller.DefaultConcurrency()
	budgets := budget.DefaultBudgets()
	qo := query.DefaultOptions()
	m := checks.DefaultMembership()

	v.SetDefault("scan.tier", string(models.TierStandard))
	v.SetDefault("scan.sequential", false)
	v.SetDefault("scan.per_check_timeout", controller.DefaultPerCheckTimeout)
	v.SetDefault("scan.concurrency.quick", conc[models.TierQuick])
	v.SetDefault("scan.concurrency.standard", conc[models.TierStandard])
	v.SetDefault("scan.concurrency.deep", conc[models.TierDeep])

	v.SetDefault("query.timeout", qo.DefaultTimeout)
	v.SetDefault("query.min_timeout", qo.MinTimeout)
	v.SetDefault("query.max_timeout", qo.MaxTimeout)
	v.SetDefault("query.narrow_window", qo.NarrowWindow)
	v.SetDefault("query.retries", qo.Retry.MaxRetries)
	v.SetDefault("query.retry_backoff", qo.Retry.InitialBackoff)

	v.SetDefault("budgets.quick", budgets[models.TierQuick])
	v.SetDefault("budgets.standard", budgets[models.TierStandard])
	v.SetDefault("budgets.deep", budgets[models.TierDeep])
	v.SetDefault("budgets.warn_ratio", budget.DefaultWarnRatio)

	v.SetDefault("checks.quick", m.Quick)
	v.SetDefault("checks.standard", m.Standard)
	v.SetDefault("checks.deep", m.Deep)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", false)
	v.SetDefault("log.max_size_mb", 50)

	v.SetDefault("report.format", "table")
	v.SetDefault("report.out", "")
	v.SetDefault("report.metrics_file", "")
	v.SetDefault("report.top", 10)

	v.SetDefault("serve.listen", ":9182")
	v.SetDefault("serve.rate_limit_rps", 1.0)
	v.SetDefault("serve.rate_limit_burst", 5)
	v.SetDefault("serve.shutdown_timeout", 30*time.Second)
	v.SetDefault("serve.api_key_hashes", []string{})
	v.SetDefault("serve.tls_cert", "")
	v.SetDefault("serve.tls_key", "")
	v.SetDefault("serve.tls_client_ca", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "hostscan")
	v.SetDefault("tracing.service_version", "dev")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
}

// NewViper returns a viper instance with defaults and HOSTSCAN_* env overrides
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or $HOME/.hostscan/config.yaml when path is empty.
// A missing default file is not an error. Returns the file actually used.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		v.AddConfigPath(filepath.Join(home, ".hostscan"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. Check ids are validated when the registry is built.
func (c *Config) Validate() error {
	var errs []error

	if _, err := models.ParseTier(c.Scan.Tier); err != nil {
		errs = append(errs, fmt.Errorf("scan.tier: %w", err))
	}
	if c.Scan.PerCheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan.per_check_timeout must be positive, got %s", c.Scan.PerCheckTimeout))
	}
	for name, n := range map[string]int{
		"quick":    c.Scan.Concurrency.Quick,
		"standard": c.Scan.Concurrency.Standard,
		"deep":     c.Scan.Concurrency.Deep,
	} {
		if n < 1 {
			errs = append(errs, fmt.Errorf("scan.concurrency.%s must be >= 1, got %d", name, n))
		}
	}

	q := c.Query
	if q.MinTimeout <= 0 || q.MaxTimeout < q.MinTimeout {
		errs = append(errs, fmt.Errorf("query timeout bounds invalid: min %s, max %s", q.MinTimeout, q.MaxTimeout))
	} else if q.Timeout < q.MinTimeout || q.Timeout > q.MaxTimeout {
		errs = append(errs, fmt.Errorf("query.timeout %s outside [%s, %s]", q.Timeout, q.MinTimeout, q.MaxTimeout))
	}
	if q.NarrowWindow < 0 {
		errs = append(errs, fmt.Errorf("query.narrow_window must not be negative"))
	}
	if q.Retries < 0 {
		errs = append(errs, fmt.Errorf("query.retries must not be negative"))
	}

	b := c.Budgets
	if b.Quick <= 0 || b.Standard <= 0 || b.Deep <= 0 {
		errs = append(errs, fmt.Errorf("budgets must be positive"))
	}
	if b.WarnRatio <= 0 || b.WarnRatio >= 1 {
		errs = append(errs, fmt.Errorf("budgets.warn_ratio must be in (0,1), got %g", b.WarnRatio))
	}

	switch c.Report.Format {
	case "html", "json", "yaml", "table":
	default:
		errs = append(errs, fmt.Errorf("report.format %q unknown (html, json, yaml, table)", c.Report.Format))
	}

	if c.Serve.RateLimitRPS <= 0 || c.Serve.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("serve rate limit must be positive"))
	}
	if (c.Serve.TLSCert == "") != (c.Serve.TLSKey == "") {
		errs = append(errs, fmt.Errorf("serve.tls_cert and serve.tls_key must be set together"))
	}
	if c.Serve.TLSClientCA != "" && c.Serve.TLSCert == "" {
		errs = append(errs, fmt.Errorf("serve.tls_client_ca requires serve.tls_cert"))
	}

	return errors.Join(errs...)
}

// Tier returns the parsed default tier
func (c *Config) Tier() models.Tier {
	t, err := models.ParseTier(c.Scan.Tier)
	if err != nil {
		return models.TierStandard
	}
	return t
}

// QueryOptions converts the query section for the wrapper
func (c *Config) QueryOptions() query.Options {
	opts := query.DefaultOptions()
	opts.DefaultTimeout = c.Query.Timeout
	opts.MinTimeout = c.Query.MinTimeout
	opts.MaxTimeout = c.Query.MaxTimeout
	opts.NarrowWindow = c.Query.NarrowWindow
	opts.Retry.MaxRetries = c.Query.Retries
	opts.Retry.InitialBackoff = c.Query.RetryBackoff
	return opts
}

// Evaluator builds the budget evaluator
func (c *Config) Evaluator() *budget.Evaluator {
	return budget.New(map[models.Tier]time.Duration{
		models.TierQuick:    c.Budgets.Quick,
		models.TierStandard: c.Budgets.Standard,
		models.TierDeep:     c.Budgets.Deep,
	}, c.Budgets.WarnRatio)
}

// Concurrency returns the worker count per tier
func (c *Config) Concurrency() map[models.Tier]int {
	return map[models.Tier]int{
		models.TierQuick:    c.Scan.Concurrency.Quick,
		models.TierStandard: c.Scan.Concurrency.Standard,
		models.TierDeep:     c.Scan.Concurrency.Deep,
	}
}

// Membership returns the configured tiers, falling back to the built-in layout per tier
func (c *Config) Membership() checks.Membership {
	return c.Checks.Merge(checks.DefaultMembership())
}
