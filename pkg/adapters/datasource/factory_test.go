package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

type mockConnection struct {
	instance *models.Instance
}

func (m *mockConnection) Connect(context.Context) error { return nil }
func (m *mockConnection) Disconnect() error             { return nil }
func (m *mockConnection) ExecuteQuery(context.Context, string, ...any) (*QueryResult, error) {
	return &QueryResult{}, nil
}
func (m *mockConnection) GetVersion(context.Context) (string, error) { return "mock 1.0", nil }

type mockAccountAdapter struct{}

func (mockAccountAdapter) FetchRemoteAccounts(context.Context, *models.Instance, Connection) ([]models.RemoteAccount, error) {
	return nil, nil
}

func (mockAccountAdapter) EnrichPermissions(_ context.Context, _ *models.Instance, _ Connection, accounts []models.RemoteAccount, _ []string) ([]models.RemoteAccount, error) {
	return accounts, nil
}

func mockRegistration(dbType models.DBType) Registration {
	return Registration{
		Info: AdapterInfo{DBType: dbType, DisplayName: dbType.DisplayName()},
		NewConnection: func(instance *models.Instance, _ *zap.Logger) (Connection, error) {
			return &mockConnection{instance: instance}, nil
		},
		NewAccountAdapter: func(*zap.Logger) AccountAdapter { return mockAccountAdapter{} },
	}
}

func TestAdapterFactory_NewConnection(t *testing.T) {
	factory := NewAdapterFactory(NewRegistry(mockRegistration(models.DBTypeMySQL)), zaptest.NewLogger(t))

	instance := &models.Instance{
		ID:         10,
		DBType:     models.DBTypeMySQL,
		Credential: &models.Credential{Username: "audit"},
	}
	conn, err := factory.NewConnection(instance)
	require.NoError(t, err)

	mock, ok := conn.(*mockConnection)
	require.True(t, ok)
	assert.Equal(t, instance, mock.instance)
}

func TestAdapterFactory_UnsupportedType(t *testing.T) {
	factory := NewAdapterFactory(NewRegistry(mockRegistration(models.DBTypeMySQL)), zaptest.NewLogger(t))

	_, err := factory.NewConnection(&models.Instance{DBType: models.DBTypeOracle, Credential: &models.Credential{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedDBType))

	_, err = factory.NewAccountAdapter(models.DBType("db2"))
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedDBType))
}

func TestAdapterFactory_MissingCredential(t *testing.T) {
	factory := NewAdapterFactory(NewRegistry(mockRegistration(models.DBTypeMySQL)), zaptest.NewLogger(t))

	_, err := factory.NewConnection(&models.Instance{ID: 3, DBType: models.DBTypeMySQL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credential")
}

func TestRegistry_RegisteredAdaptersOrder(t *testing.T) {
	registry := NewRegistry(
		mockRegistration(models.DBTypeOracle),
		mockRegistration(models.DBTypeMySQL),
		mockRegistration(models.DBTypeSQLServer),
	)

	infos := registry.RegisteredAdapters()
	require.Len(t, infos, 3)
	assert.Equal(t, models.DBTypeMySQL, infos[0].DBType)
	assert.Equal(t, models.DBTypeSQLServer, infos[1].DBType)
	assert.Equal(t, models.DBTypeOracle, infos[2].DBType)
	assert.False(t, registry.IsRegistered(models.DBTypePostgreSQL))
}
