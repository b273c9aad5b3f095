package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/logging"
)

// PgxConnection implements Connection with a single pgx connection.
type PgxConnection struct {
	connStr string
	logger  *zap.Logger

	mu   sync.Mutex
	conn *pgx.Conn
}

func NewPgxConnection(connStr string, logger *zap.Logger) *PgxConnection {
	return &PgxConnection{
		connStr: connStr,
		logger:  logger.Named("pgx-connection"),
	}
}

func (c *PgxConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, c.connStr)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	c.conn = conn
	c.logger.Debug("Connected", zap.String("dsn", logging.SanitizeConnectionString(c.connStr)))
	return nil
}

func (c *PgxConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(context.Background())
	c.conn = nil
	if err != nil {
		return fmt.Errorf("close postgres connection: %w", err)
	}
	return nil
}

func (c *PgxConnection) ExecuteQuery(ctx context.Context, query string, params ...any) (*QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, apperrors.ErrNotConnected
	}

	rows, err := c.conn.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{Columns: columns, Rows: resultRows}, nil
}

func (c *PgxConnection) GetVersion(ctx context.Context) (string, error) {
	result, err := c.ExecuteQuery(ctx, "SELECT version()")
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 {
		return "", nil
	}
	return RowString(result.Rows[0], "version"), nil
}

var _ Connection = (*PgxConnection)(nil)
