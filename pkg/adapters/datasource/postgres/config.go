package postgres

import (
	"fmt"
	"net/url"

	"github.com/nyealovey/WhaleFall-sub003/pkg/config"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "prefer"
}

// FromInstance creates a Config from a managed instance and its credential.
// The catalog views used for account sync are cluster-wide, so any
// database works; "postgres" is used when none is set.
func FromInstance(instance *models.Instance) (*Config, error) {
	if instance.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if instance.Credential == nil || instance.Credential.Username == "" {
		return nil, fmt.Errorf("user is required")
	}

	cfg := &Config{
		Host:     instance.Host,
		Port:     instance.Port,
		User:     instance.Credential.Username,
		Password: instance.Credential.Password,
		Database: instance.DatabaseName,
		SSLMode:  DefaultSSLMode(),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.Database == "" {
		cfg.Database = "postgres"
	}
	return cfg, nil
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so that passwords containing
// @, /, # or ? do not break URL parsing.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}
