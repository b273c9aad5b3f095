package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/nyealovey/WhaleFall-sub003/pkg/config"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromInstance creates a Config from a managed instance using SQL authentication.
func FromInstance(instance *models.Instance) (*Config, error) {
	if instance.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if instance.Credential == nil || instance.Credential.Username == "" {
		return nil, fmt.Errorf("username is required for SQL authentication")
	}

	cfg := &Config{
		Host:                   instance.Host,
		Port:                   instance.Port,
		Database:               instance.DatabaseName,
		Username:               instance.Credential.Username,
		Password:               instance.Credential.Password,
		Encrypt:                true,
		TrustServerCertificate: true,
		ConnectionTimeout:      DefaultConnectionTimeout(),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.Database == "" {
		cfg.Database = "master"
	}
	return cfg, cfg.Validate()
}

// Validate checks that the config has all required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required for SQL authentication")
	}
	return nil
}

func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		query.Encode(),
	)
}
