// Package datasource defines the boundary between the sync core and the
// managed database servers: a Connection to one instance and an
// AccountAdapter that turns query results into remote account records.
package datasource

import (
	"context"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Connection is a single connection to a managed instance for the duration
// of one sync run.
type Connection interface {
	// Connect opens the connection. It must be called before ExecuteQuery.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Safe to call when never connected.
	Disconnect() error

	// ExecuteQuery runs a read query with positional parameters written in
	// the engine's native placeholder style.
	ExecuteQuery(ctx context.Context, query string, params ...any) (*QueryResult, error)

	// GetVersion returns the server version banner.
	GetVersion(ctx context.Context) (string, error)
}

// AccountAdapter reads accounts and their privileges from one engine family.
type AccountAdapter interface {
	// FetchRemoteAccounts lists accounts without privilege detail.
	FetchRemoteAccounts(ctx context.Context, instance *models.Instance, conn Connection) ([]models.RemoteAccount, error)

	// EnrichPermissions loads privilege detail for the named accounts and
	// returns the full list with those accounts enriched.
	EnrichPermissions(ctx context.Context, instance *models.Instance, conn Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error)
}

// QueryResult contains the rows returned by ExecuteQuery.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// AdapterInfo describes a supported engine family.
type AdapterInfo struct {
	DBType      models.DBType `json:"db_type"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	DriverName  string        `json:"driver_name"`
}
