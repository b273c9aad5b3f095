package oracle

import (
	"go.uber.org/zap"

	_ "github.com/godror/godror" // Oracle driver

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Registration is the registry entry for Oracle.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			DBType:      models.DBTypeOracle,
			DisplayName: "Oracle",
			Description: "Oracle Database 12c+",
			DriverName:  "godror",
		},
		NewConnection: NewConnection,
		NewAccountAdapter: func(logger *zap.Logger) datasource.AccountAdapter {
			return NewAccountAdapter(logger)
		},
	}
}

// NewConnection creates an unopened connection to an Oracle instance.
func NewConnection(instance *models.Instance, logger *zap.Logger) (datasource.Connection, error) {
	cfg, err := FromInstance(instance)
	if err != nil {
		return nil, err
	}
	return datasource.NewSQLConnection(datasource.SQLConnectionConfig{
		DriverName:   "godror",
		DSN:          buildConnectionString(cfg),
		VersionQuery: "SELECT banner FROM v$version WHERE banner LIKE 'Oracle%'",
	}, logger), nil
}
