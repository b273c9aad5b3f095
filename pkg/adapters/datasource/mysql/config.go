package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/nyealovey/WhaleFall-sub003/pkg/config"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      string // "false", "true", "skip-verify", "preferred"
	Timeout  time.Duration
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromInstance creates a Config from a managed instance and its credential.
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
		TLS:      "preferred",
		Timeout:  10 * time.Second,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	return cfg, nil
}

// buildDSN formats a go-sql-driver DSN. The driver handles escaping.
func buildDSN(cfg *Config) string {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(cfg.Port))
	dc.DBName = cfg.Database
	dc.TLSConfig = cfg.TLS
	dc.Timeout = cfg.Timeout
	dc.ParseTime = true
	return dc.FormatDSN()
}
