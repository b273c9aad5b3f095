package mysql

import (
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Registration is the registry entry for MySQL.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			DBType:      models.DBTypeMySQL,
			DisplayName: "MySQL",
			Description: "MySQL 5.7+, MariaDB 10.4+",
			DriverName:  "mysql",
		},
		NewConnection: NewConnection,
		NewAccountAdapter: func(logger *zap.Logger) datasource.AccountAdapter {
			return NewAccountAdapter(logger)
		},
	}
}

// NewConnection creates an unopened connection to a MySQL instance.
func NewConnection(instance *models.Instance, logger *zap.Logger) (datasource.Connection, error) {
	cfg, err := FromInstance(instance)
	if err != nil {
		return nil, err
	}
	return datasource.NewSQLConnection(datasource.SQLConnectionConfig{
		DriverName:   "mysql",
		DSN:          buildDSN(cfg),
		VersionQuery: "SELECT VERSION()",
	}, logger), nil
}
