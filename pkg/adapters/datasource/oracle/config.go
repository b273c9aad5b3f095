package oracle

import (
	"fmt"

	"github.com/nyealovey/WhaleFall-sub003/pkg/config"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Config contains Oracle connection options.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	ServiceName string
}

// DefaultPort returns the default Oracle listener port.
func DefaultPort() int {
	return 1521
}

// FromInstance creates a Config from a managed instance. The instance's
// database name is the service name.
func FromInstance(instance *models.Instance) (*Config, error) {
	if instance.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if instance.Credential == nil || instance.Credential.Username == "" {
		return nil, fmt.Errorf("user is required")
	}
	if instance.DatabaseName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	cfg := &Config{
		Host:        instance.Host,
		Port:        instance.Port,
		User:        instance.Credential.Username,
		Password:    instance.Credential.Password,
		ServiceName: instance.DatabaseName,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	return cfg, nil
}

// buildConnectionString formats user/password@host:port/service_name.
// The password is double-quoted so that special characters survive.
func buildConnectionString(cfg *Config) string {
	return fmt.Sprintf(`%s/"%s"@%s:%d/%s`,
		cfg.User,
		cfg.Password,
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		cfg.ServiceName)
}
