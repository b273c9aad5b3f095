package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the account audit engine.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	TimeZone string `yaml:"timezone" env:"TIMEZONE" env-default:"Local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL) for the audit store
	Database DatabaseConfig `yaml:"database"`

	// Redis holds per-instance sync locks shared between processes.
	// Optional: when Host is empty, locks are process-local.
	Redis RedisConfig `yaml:"redis"`

	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Sync        SyncConfig        `yaml:"sync"`
	Aggregation AggregationConfig `yaml:"aggregation"`

	// Credential encryption key for managed instance passwords.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	InstanceCredentialsKey string `yaml:"-" env:"INSTANCE_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"whalefall"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"whalefall"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// LockTTLSeconds bounds how long a crashed sync can hold an instance.
	// A live sync renews its lock every third of this period.
	LockTTLSeconds int `yaml:"lock_ttl_seconds" env:"REDIS_LOCK_TTL_SECONDS" env-default:"1800"`
}

// LoggingConfig controls the zap logger and its rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"LOG_FORMAT" env-default:"console"` // "console" or "json"
	FilePath   string `yaml:"file_path" env:"LOG_FILE" env-default:""`       // empty disables the file sink
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"7"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"30"`
	Compress   bool   `yaml:"compress" env:"LOG_COMPRESS" env-default:"true"`
}

// MetricsConfig controls the Prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	BindAddr string `yaml:"bind_addr" env:"METRICS_BIND_ADDR" env-default:"127.0.0.1:9464"`
	Path     string `yaml:"path" env:"METRICS_PATH" env-default:"/metrics"`
}

// SyncConfig controls account synchronization runs.
type SyncConfig struct {
	// Schedule is a cron expression; empty disables scheduled syncs.
	Schedule string `yaml:"schedule" env:"SYNC_SCHEDULE" env-default:"0 */6 * * *"`
	// Concurrency is the number of instances synchronized at once in a batch.
	Concurrency int `yaml:"concurrency" env:"SYNC_CONCURRENCY" env-default:"1"`
	// ConnectTimeoutSeconds bounds connect plus version probe for one instance.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"SYNC_CONNECT_TIMEOUT_SECONDS" env-default:"30"`
	// FilterFile holds per-engine excluded usernames and patterns.
	FilterFile string `yaml:"filter_file" env:"SYNC_FILTER_FILE" env-default:"account_filters.yaml"`
}

// ConnectTimeout returns the per-instance connect timeout.
func (s SyncConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// AggregationConfig controls the daily classification statistics job.
type AggregationConfig struct {
	Schedule string `yaml:"schedule" env:"AGGREGATION_SCHEDULE" env-default:"30 1 * * *"`
	// Parallelism is the number of rules evaluated concurrently.
	Parallelism int `yaml:"parallelism" env:"AGGREGATION_PARALLELISM" env-default:"4"`
}

// Load reads configuration from path with environment variable overrides.
// A missing file is not an error: defaults and environment variables apply.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Aggregation.Parallelism < 1 {
		return fmt.Errorf("aggregation.parallelism must be at least 1, got %d", c.Aggregation.Parallelism)
	}
	if c.Sync.ConnectTimeoutSeconds < 1 {
		return fmt.Errorf("sync.connect_timeout_seconds must be at least 1, got %d", c.Sync.ConnectTimeoutSeconds)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"sync.schedule":        c.Sync.Schedule,
		"aggregation.schedule": c.Aggregation.Schedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Location returns the operator's time zone, used to decide what "today" is
// for daily statistics.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
