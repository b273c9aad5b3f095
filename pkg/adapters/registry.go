// Package adapters wires every supported engine family into a single
// static registry.
package adapters

import (
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource/mssql"
	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource/mysql"
	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource/oracle"
	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource/postgres"
)

// NewRegistry returns the registry of all compiled-in engines.
func NewRegistry() *datasource.Registry {
	return datasource.NewRegistry(
		mysql.Registration(),
		postgres.Registration(),
		mssql.Registration(),
		oracle.Registration(),
	)
}

// NewFactory returns an adapter factory over NewRegistry.
func NewFactory(logger *zap.Logger) datasource.AdapterFactory {
	return datasource.NewAdapterFactory(NewRegistry(), logger)
}
