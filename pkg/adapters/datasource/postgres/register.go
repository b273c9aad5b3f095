package postgres

import (
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Registration is the registry entry for PostgreSQL.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			DBType:      models.DBTypePostgreSQL,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL",
			DriverName:  "pgx",
		},
		NewConnection: NewConnection,
		NewAccountAdapter: func(logger *zap.Logger) datasource.AccountAdapter {
			return NewAccountAdapter(logger)
		},
	}
}

// NewConnection creates an unopened pgx connection to a PostgreSQL instance.
func NewConnection(instance *models.Instance, logger *zap.Logger) (datasource.Connection, error) {
	cfg, err := FromInstance(instance)
	if err != nil {
		return nil, err
	}
	return datasource.NewPgxConnection(buildConnectionString(cfg), logger), nil
}
