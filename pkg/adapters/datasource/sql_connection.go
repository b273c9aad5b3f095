package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/logging"
)

// SQLConnectionConfig describes a database/sql backed connection.
type SQLConnectionConfig struct {
	DriverName   string // "mysql", "sqlserver", "godror"
	DSN          string
	VersionQuery string
}

// SQLConnection implements Connection on top of database/sql. The pool is
// capped at one connection so that a sync run uses exactly one session.
type SQLConnection struct {
	cfg    SQLConnectionConfig
	logger *zap.Logger

	// open is sql.Open, replaceable in tests.
	open func(driverName, dsn string) (*sql.DB, error)

	mu sync.Mutex
	db *sql.DB
}

func NewSQLConnection(cfg SQLConnectionConfig, logger *zap.Logger) *SQLConnection {
	return &SQLConnection{
		cfg:    cfg,
		logger: logger.Named("sql-connection"),
		open:   sql.Open,
	}
}

func (c *SQLConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	db, err := c.open(c.cfg.DriverName, c.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open %s connection: %w", c.cfg.DriverName, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", c.cfg.DriverName, err)
	}

	c.db = db
	c.logger.Debug("Connected",
		zap.String("driver", c.cfg.DriverName),
		zap.String("dsn", logging.SanitizeConnectionString(c.cfg.DSN)))
	return nil
}

func (c *SQLConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close %s connection: %w", c.cfg.DriverName, err)
	}
	return nil
}

func (c *SQLConnection) ExecuteQuery(ctx context.Context, query string, params ...any) (*QueryResult, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	if db == nil {
		return nil, apperrors.ErrNotConnected
	}

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			// Drivers return text columns as []byte.
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{Columns: columnNames, Rows: resultRows}, nil
}

func (c *SQLConnection) GetVersion(ctx context.Context) (string, error) {
	result, err := c.ExecuteQuery(ctx, c.cfg.VersionQuery)
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 || len(result.Columns) == 0 {
		return "", nil
	}
	return RowString(result.Rows[0], result.Columns[0]), nil
}

var _ Connection = (*SQLConnection)(nil)
