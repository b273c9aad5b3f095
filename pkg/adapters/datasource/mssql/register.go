package mssql

import (
	"go.uber.org/zap"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Registration is the registry entry for SQL Server.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			DBType:      models.DBTypeSQLServer,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Managed Instance",
			DriverName:  "sqlserver",
		},
		NewConnection: NewConnection,
		NewAccountAdapter: func(logger *zap.Logger) datasource.AccountAdapter {
			return NewAccountAdapter(logger)
		},
	}
}

// NewConnection creates an unopened connection to a SQL Server instance.
func NewConnection(instance *models.Instance, logger *zap.Logger) (datasource.Connection, error) {
	cfg, err := FromInstance(instance)
	if err != nil {
		return nil, err
	}
	return datasource.NewSQLConnection(datasource.SQLConnectionConfig{
		DriverName:   "sqlserver",
		DSN:          buildConnectionString(cfg),
		VersionQuery: "SELECT @@VERSION AS version",
	}, logger), nil
}
