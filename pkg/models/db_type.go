package models

import (
	"fmt"
	"strings"
)

// DBType identifies the engine family of a managed instance.
type DBType string

const (
	DBTypeMySQL      DBType = "mysql"
	DBTypePostgreSQL DBType = "postgresql"
	DBTypeSQLServer  DBType = "sqlserver"
	DBTypeOracle     DBType = "oracle"
)

// SupportedDBTypes lists every engine family in a stable order.
var SupportedDBTypes = []DBType{
	DBTypeMySQL,
	DBTypePostgreSQL,
	DBTypeSQLServer,
	DBTypeOracle,
}

// ParseDBType normalizes a db_type string. Common aliases ("postgres", "mssql")
// are accepted so that rules authored against either spelling still resolve.
func ParseDBType(s string) (DBType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql":
		return DBTypeMySQL, nil
	case "postgresql", "postgres", "pg":
		return DBTypePostgreSQL, nil
	case "sqlserver", "mssql":
		return DBTypeSQLServer, nil
	case "oracle":
		return DBTypeOracle, nil
	default:
		return "", fmt.Errorf("unsupported db_type: %q", s)
	}
}

// DisplayName returns a human-readable engine name.
func (t DBType) DisplayName() string {
	switch t {
	case DBTypeMySQL:
		return "MySQL"
	case DBTypePostgreSQL:
		return "PostgreSQL"
	case DBTypeSQLServer:
		return "SQL Server"
	case DBTypeOracle:
		return "Oracle"
	default:
		return string(t)
	}
}

func (t DBType) String() string { return string(t) }
