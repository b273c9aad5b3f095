package datasource

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

func newMockedSQLConnection(t *testing.T) (*SQLConnection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	conn := NewSQLConnection(SQLConnectionConfig{
		DriverName:   "mysql",
		DSN:          "audit:secret@tcp(db:3306)/",
		VersionQuery: "SELECT VERSION()",
	}, zap.NewNop())
	conn.open = func(string, string) (*sql.DB, error) { return db, nil }
	return conn, mock
}

func TestSQLConnection_ConnectIsIdempotent(t *testing.T) {
	conn, mock := newMockedSQLConnection(t)
	mock.ExpectPing()

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Connect(ctx))

	mock.ExpectClose()
	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnection_PingFailure(t *testing.T) {
	conn, mock := newMockedSQLConnection(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, conn.Disconnect())
}

func TestSQLConnection_ExecuteQuery(t *testing.T) {
	conn, mock := newMockedSQLConnection(t)
	mock.ExpectPing()
	require.NoError(t, conn.Connect(context.Background()))

	mock.ExpectQuery("SELECT user, host FROM mysql.user").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"user", "host"}).
			AddRow([]byte("app"), "%").
			AddRow("app", "10.0.0.%"))

	result, err := conn.ExecuteQuery(context.Background(), "SELECT user, host FROM mysql.user WHERE user = ?", "app")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "host"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "app", result.Rows[0]["user"])
	assert.Equal(t, "10.0.0.%", result.Rows[1]["host"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnection_GetVersion(t *testing.T) {
	conn, mock := newMockedSQLConnection(t)
	mock.ExpectPing()
	require.NoError(t, conn.Connect(context.Background()))

	mock.ExpectQuery("SELECT VERSION()").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	version, err := conn.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
}

func TestSQLConnection_QueryBeforeConnect(t *testing.T) {
	conn, _ := newMockedSQLConnection(t)

	_, err := conn.ExecuteQuery(context.Background(), "SELECT 1")
	assert.True(t, errors.Is(err, apperrors.ErrNotConnected))
}
