package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Import      ImportConfig      `yaml:"import" mapstructure:"import"`
	Maintenance MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the relational store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SearchConfig configures the Elasticsearch index. An empty address list
// disables indexing.
type SearchConfig struct {
	Addresses        []string `yaml:"addresses" mapstructure:"addresses"`
	Username         string   `yaml:"username" mapstructure:"username"`
	Password         string   `yaml:"password" mapstructure:"password"`
	Index            string   `yaml:"index" mapstructure:"index"`
	Refresh          bool     `yaml:"refresh" mapstructure:"refresh"`
	BulkSize         int      `yaml:"bulk_size" mapstructure:"bulk_size"`
	BulkRate         float64  `yaml:"bulk_rate" mapstructure:"bulk_rate"`
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int      `yaml:"max_retries" mapstructure:"max_retries"`
	CircuitFailures  int      `yaml:"circuit_failures" mapstructure:"circuit_failures"`
	CircuitResetSecs int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Enabled reports whether an index is configured.
func (c SearchConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

// Timeout returns the per-request timeout.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ImportConfig tunes the variable importer.
type ImportConfig struct {
	BatchSize  int    `yaml:"batch_size" mapstructure:"batch_size"`
	XMLWorkers int    `yaml:"xml_workers" mapstructure:"xml_workers"`
	Delimiter  string `yaml:"delimiter" mapstructure:"delimiter"`
}

// DelimiterRune returns the first rune of Delimiter, or ',' when unset.
func (c ImportConfig) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}

// MaintenanceConfig schedules the index repair loop.
type MaintenanceConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

// FetchConfig configures downloads of remote DDI files.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	PerHostRate float64 `yaml:"per_host_rate" mapstructure:"per_host_rate"`
}

// MonitoringConfig configures health alerts sent after maintenance passes.
// An empty WebhookURL disables them.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UnindexedThreshold   int64   `yaml:"unindexed_threshold" mapstructure:"unindexed_threshold"`
}

// Enabled reports whether alerts have somewhere to go.
func (c MonitoringConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. Variables from a .env
// file in the working directory are loaded first and never override the
// real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DDI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("search.addresses", []string{})
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.index", "binding_survey_variables")
	v.SetDefault("search.refresh", false)
	v.SetDefault("search.bulk_size", 500)
	v.SetDefault("search.bulk_rate", 10)
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.max_retries", 3)
	v.SetDefault("search.circuit_failures", 5)
	v.SetDefault("search.circuit_reset_secs", 30)
	v.SetDefault("import.batch_size", 50)
	v.SetDefault("import.xml_workers", 4)
	v.SetDefault("import.delimiter", ",")
	v.SetDefault("maintenance.schedule", "@every 1h")
	v.SetDefault("fetch.user_agent", "ddi-catalog/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.per_host_rate", 5)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.unindexed_threshold", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Addresses may arrive from the environment as one comma-separated value.
	cfg.Search.Addresses = splitList(strings.Join(cfg.Search.Addresses, ","))

	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings a command mode depends on. Modes: "store"
// (any command touching the catalog), "search" (commands that need the
// index) and "maintain".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Import.BatchSize <= 0 {
		problems = append(problems, "import.batch_size must be positive")
	}

	if mode == "search" || mode == "maintain" {
		if !c.Search.Enabled() {
			problems = append(problems, "search.addresses is required")
		}
		if c.Search.Index == "" {
			problems = append(problems, "search.index is required")
		}
	}

	if mode == "maintain" {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			problems = append(problems, "maintenance.schedule is invalid: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
