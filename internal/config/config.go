// Package config provides configuration management for the CrossBridge
// observer.
//
// Configuration is loaded from multiple sources in this order:
// 1. The unified config.yaml (or a config file on the search path)
// 2. Environment variables (CROSSBRIDGE_* and a handful of bare names)
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "crossbridge/pkg/errors"
)

// Config is the complete observer configuration.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Observer    ObserverConfig   `mapstructure:"observer"`
	Execution   ExecutionConfig  `mapstructure:"execution"`
	Database    DatabaseConfig   `mapstructure:"database"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Admin       AdminConfig      `mapstructure:"admin"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
}

// ObserverConfig groups every `observer.*` key from the wire contract.
type ObserverConfig struct {
	API       APIConfig       `mapstructure:"api"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retention RetentionConfig `mapstructure:"retention"`
	Flaky     FlakyConfig     `mapstructure:"flaky"`
	Drift     DriftConfig     `mapstructure:"drift"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
}

type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
	Workers  int `mapstructure:"workers"`
	Shards   int `mapstructure:"shards"`
}

// RetentionConfig binds `observer.retention.*`. Load also reads the bare
// `retention.history_days`/`retention.drift_days` keys; when either is set
// it overrides the nested value.
type RetentionConfig struct {
	EventsDays  int `mapstructure:"events_days"`
	HistoryDays int `mapstructure:"history_days"`
	DriftDays   int `mapstructure:"drift_days"`
}

type FlakyConfig struct {
	ConsecutiveThreshold   int `mapstructure:"consecutive_threshold"`
	PassesBetweenThreshold int `mapstructure:"passes_between_threshold"`
	MinOccurrences         int `mapstructure:"min_occurrences"`
}

type DriftConfig struct {
	WindowDays      int                  `mapstructure:"window_days"`
	MinMeasurements int                  `mapstructure:"min_measurements"`
	Thresholds      DriftThresholdConfig `mapstructure:"thresholds"`
}

type DriftThresholdConfig struct {
	Low      float64 `mapstructure:"low"`
	Moderate float64 `mapstructure:"moderate"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

type ShutdownConfig struct {
	GracefulSeconds int `mapstructure:"graceful_seconds"`
}

// ExecutionConfig holds `execution.intelligence.rules.<framework>` inline
// rule packs — the primary rule source, ahead of the on-disk YAML files.
type ExecutionConfig struct {
	Intelligence IntelligenceConfig `mapstructure:"intelligence"`
}

type IntelligenceConfig struct {
	Rules map[string][]RuleDefinition `mapstructure:"rules"`
}

// RuleDefinition mirrors rules.Rule as parsed from the unified config.
type RuleDefinition struct {
	ID          string   `mapstructure:"id"`
	Description string   `mapstructure:"description"`
	MatchAny    []string `mapstructure:"match_any"`
	RequiresAll []string `mapstructure:"requires_all"`
	Excludes    []string `mapstructure:"excludes"`
	FailureType string   `mapstructure:"failure_type"`
	Confidence  float64  `mapstructure:"confidence"`
	Priority    int      `mapstructure:"priority"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

type ClickHouseConfig struct {
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig gates POST /admin/reload (see DESIGN.md for the bcrypt+JWT
// decision).
type AdminConfig struct {
	TokenHash string `mapstructure:"token_hash"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ArchiveConfig controls the optional S3/parquet cold-archival path, off
// by default.
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// Validate checks the required keys of every section in one pass; the
// sub-config types have no Validate method of their own.
func (c *Config) Validate() error {
	if c.Observer.API.Port <= 0 {
		return appErrors.NewConfigError("observer.api.port must be positive", nil)
	}
	if c.Observer.Queue.Capacity <= 0 {
		return appErrors.NewConfigError("observer.queue.capacity must be positive", nil)
	}
	if c.Observer.Queue.Workers <= 0 {
		return appErrors.NewConfigError("observer.queue.workers must be positive", nil)
	}
	if c.Observer.Queue.Shards <= 0 {
		return appErrors.NewConfigError("observer.queue.shards must be positive", nil)
	}
	if c.Observer.Flaky.ConsecutiveThreshold <= 0 {
		return appErrors.NewConfigError("observer.flaky.consecutive_threshold must be positive", nil)
	}
	if c.Observer.Drift.WindowDays <= 0 {
		return appErrors.NewConfigError("observer.drift.window_days must be positive", nil)
	}
	if c.Database.URL == "" && c.Database.Host == "" {
		return appErrors.NewConfigError("database.url or database.host is required", nil)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host,
		c.Database.Port, c.Database.Database, c.Database.SSLMode)
}

// GetClickHouseURL returns the ClickHouse connection URL.
func (c *Config) GetClickHouseURL() string {
	if c.ClickHouse.URL != "" {
		return c.ClickHouse.URL
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		c.ClickHouse.User, c.ClickHouse.Password, c.ClickHouse.Host,
		c.ClickHouse.Port, c.ClickHouse.Database)
}

// GetRedisURL returns the Redis connection URL.
func (c *Config) GetRedisURL() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", c.Redis.Password, c.Redis.Host, c.Redis.Port, c.Redis.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// GetAPIAddress returns the host:port the ingest HTTP service binds to.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.Observer.API.Host, c.Observer.API.Port)
}

// Load loads configuration from config.yaml (searched on a fixed path list)
// and environment variables, with environment variables taking precedence.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/crossbridge")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnv("observer.api.host", "CROSSBRIDGE_API_HOST")
	bindEnv("observer.api.port", "CROSSBRIDGE_API_PORT")
	bindEnv("database.url", "CROSSBRIDGE_DB_URL")
	bindEnv("logging.level", "CROSSBRIDGE_LOG_LEVEL")
	bindEnv("observer.hooks.enabled", "CROSSBRIDGE_HOOKS_ENABLED")

	setDefaults()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if viper.IsSet("retention.history_days") {
		cfg.Observer.Retention.HistoryDays = viper.GetInt("retention.history_days")
	}
	if viper.IsSet("retention.drift_days") {
		cfg.Observer.Retention.DriftDays = viper.GetInt("retention.drift_days")
	}
	if cfg.Observer.Queue.Workers == 0 {
		cfg.Observer.Queue.Workers = runtime.NumCPU() * 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindEnv(key, env string) {
	//nolint:errcheck // BindEnv only errors with invalid args, safe with string literals
	viper.BindEnv(key, env)
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("observer.api.host", "0.0.0.0")
	viper.SetDefault("observer.api.port", 8765)

	viper.SetDefault("observer.queue.capacity", 10000)
	viper.SetDefault("observer.queue.workers", 0) // 0 => CPU*2 at startup
	viper.SetDefault("observer.queue.shards", 8)

	viper.SetDefault("observer.retention.events_days", 90)
	viper.SetDefault("observer.retention.history_days", 180)
	viper.SetDefault("observer.retention.drift_days", 60)

	viper.SetDefault("observer.flaky.consecutive_threshold", 3)
	viper.SetDefault("observer.flaky.passes_between_threshold", 1)
	viper.SetDefault("observer.flaky.min_occurrences", 3)

	viper.SetDefault("observer.drift.window_days", 30)
	viper.SetDefault("observer.drift.min_measurements", 5)
	viper.SetDefault("observer.drift.thresholds.low", 5.0)
	viper.SetDefault("observer.drift.thresholds.moderate", 10.0)
	viper.SetDefault("observer.drift.thresholds.high", 20.0)
	viper.SetDefault("observer.drift.thresholds.critical", 30.0)

	viper.SetDefault("observer.shutdown.graceful_seconds", 30)

	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.auto_migrate", true)
	viper.SetDefault("database.migrations_path", "migrations/postgres")

	viper.SetDefault("clickhouse.host", "localhost")
	viper.SetDefault("clickhouse.port", 9000)
	viper.SetDefault("clickhouse.database", "crossbridge")
	viper.SetDefault("clickhouse.migrations_path", "migrations/clickhouse")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.path_prefix", "events/")
	viper.SetDefault("archive.region", "us-east-1")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}
