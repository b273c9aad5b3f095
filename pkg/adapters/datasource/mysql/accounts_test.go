package mysql

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
)

// fakeConnection answers queries by prefix match.
type fakeConnection struct {
	responses map[string]*datasource.QueryResult
	queries   []string
}

func (f *fakeConnection) Connect(context.Context) error { return nil }
func (f *fakeConnection) Disconnect() error             { return nil }
func (f *fakeConnection) GetVersion(context.Context) (string, error) {
	return "8.0.36", nil
}

func (f *fakeConnection) ExecuteQuery(_ context.Context, query string, _ ...any) (*datasource.QueryResult, error) {
	f.queries = append(f.queries, query)
	q := strings.TrimSpace(query)
	for prefix, result := range f.responses {
		if strings.HasPrefix(q, prefix) {
			return result, nil
		}
	}
	return &datasource.QueryResult{}, nil
}

func TestParseGrants(t *testing.T) {
	lines := []string{
		"GRANT SELECT, RELOAD, PROCESS ON *.* TO `app`@`%`",
		"GRANT ALL PRIVILEGES ON `sales\\_db`.* TO `app`@`%` WITH GRANT OPTION",
		"GRANT SELECT (`id`, `name`), UPDATE (`name`) ON `hr`.`people` TO `app`@`%`",
		"GRANT EXECUTE ON PROCEDURE `hr`.`raise` TO `app`@`%`",
		"GRANT USAGE ON *.* TO `ro`@`%`",
		"GRANT PROXY ON ''@'' TO 'root'@'localhost' WITH GRANT OPTION",
		"GRANT `reporting`@`%`,`auditor`@`%` TO `app`@`%`",
	}

	g := ParseGrants(lines)

	assert.Equal(t, []string{"SELECT", "RELOAD", "PROCESS"}, g.Global)
	assert.Equal(t, []string{"ALL PRIVILEGES", "GRANT OPTION"}, g.Database["sales_db"])
	assert.Equal(t, []string{"SELECT", "UPDATE"}, g.Table["hr.people"])
	assert.Equal(t, []string{"EXECUTE"}, g.Table["PROCEDURE hr.raise"])
	assert.Equal(t, []string{"reporting@%", "auditor@%"}, g.Roles)
	assert.Len(t, g.Database, 1)

	cats := g.Categories()
	assert.Equal(t, []string{"PROCESS", "RELOAD", "SELECT"}, cats[permissions.MySQLGlobalPrivileges])
}

func TestSplitUsername(t *testing.T) {
	user, host := SplitUsername("ops@corp@10.0.%")
	assert.Equal(t, "ops@corp", user)
	assert.Equal(t, "10.0.%", host)

	user, host = SplitUsername("legacy")
	assert.Equal(t, "legacy", user)
	assert.Equal(t, "%", host)
}

func TestAccountAdapter_FetchAndEnrich(t *testing.T) {
	conn := &fakeConnection{responses: map[string]*datasource.QueryResult{
		"SELECT User AS user": {
			Columns: []string{"user", "host", "plugin", "account_locked", "super_priv"},
			Rows: []map[string]any{
				{"user": "app", "host": "%", "plugin": "caching_sha2_password", "account_locked": "N", "super_priv": "N"},
				{"user": "root", "host": "localhost", "plugin": "auth_socket", "account_locked": "N", "super_priv": "Y"},
				{"user": "old", "host": "%", "plugin": "mysql_native_password", "account_locked": "Y", "super_priv": "N"},
			},
		},
		"SHOW GRANTS FOR 'app'@'%'": {
			Columns: []string{"Grants for app@%"},
			Rows: []map[string]any{
				{"Grants for app@%": "GRANT SELECT ON *.* TO `app`@`%`"},
			},
		},
	}}

	adapter := NewAccountAdapter(zap.NewNop())
	instance := &models.Instance{ID: 10, DBType: models.DBTypeMySQL}

	accounts, err := adapter.FetchRemoteAccounts(context.Background(), instance, conn)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "app@%", accounts[0].Username)
	assert.True(t, accounts[1].IsSuperuser)
	assert.True(t, accounts[2].IsLocked)
	assert.False(t, accounts[0].Enriched())

	enriched, err := adapter.EnrichPermissions(context.Background(), instance, conn, accounts, []string{"app@%"})
	require.NoError(t, err)
	require.True(t, enriched[0].Enriched())
	assert.False(t, enriched[1].Enriched())
	assert.False(t, accounts[0].Enriched(), "input slice must not be modified")

	perms := enriched[0].Permissions
	assert.Equal(t, []string{"SELECT"}, perms.Categories[permissions.MySQLGlobalPrivileges])
	assert.Equal(t, "%", perms.TypeSpecific["host"])
	assert.Equal(t, "caching_sha2_password", perms.TypeSpecific["plugin"])
}

func TestBuildDSN(t *testing.T) {
	cfg, err := FromInstance(&models.Instance{
		Host:       "db.internal",
		Credential: &models.Credential{Username: "audit", Password: "p@ss:word"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3306, cfg.Port)

	dsn := buildDSN(cfg)
	assert.Contains(t, dsn, "audit:p@ss:word@tcp(db.internal:3306)/")
	assert.Contains(t, dsn, "tls=preferred")
}
