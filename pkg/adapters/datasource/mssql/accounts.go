package mssql

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
)

const (
	listLoginsQuery = `
		SELECT sp.name,
		       sp.type_desc,
		       sp.is_disabled,
		       IS_SRVROLEMEMBER('sysadmin', sp.name) AS is_sysadmin,
		       CAST(LOGINPROPERTY(sp.name, 'IsLocked') AS INT) AS is_locked
		FROM sys.server_principals sp
		WHERE sp.type IN ('S', 'U', 'G')
		  AND sp.name NOT LIKE '##%'
		ORDER BY sp.name`

	serverRolesQuery = `
		SELECT m.name AS login, r.name AS role
		FROM sys.server_role_members rm
		JOIN sys.server_principals r ON r.principal_id = rm.role_principal_id
		JOIN sys.server_principals m ON m.principal_id = rm.member_principal_id`

	serverPermissionsQuery = `
		SELECT pr.name AS login, pe.permission_name
		FROM sys.server_permissions pe
		JOIN sys.server_principals pr ON pr.principal_id = pe.grantee_principal_id
		WHERE pe.state IN ('G', 'W')`

	databasesQuery = `
		SELECT name
		FROM sys.databases
		WHERE state_desc = 'ONLINE' AND HAS_DBACCESS(name) = 1
		ORDER BY name`

	// %[1]s is the quoted database name.
	databaseRolesQueryTemplate = `
		SELECT sp.name AS login, r.name AS role
		FROM %[1]s.sys.database_role_members drm
		JOIN %[1]s.sys.database_principals r ON r.principal_id = drm.role_principal_id
		JOIN %[1]s.sys.database_principals u ON u.principal_id = drm.member_principal_id
		JOIN sys.server_principals sp ON sp.sid = u.sid`

	databasePermissionsQueryTemplate = `
		SELECT sp.name AS login, pe.permission_name
		FROM %[1]s.sys.database_permissions pe
		JOIN %[1]s.sys.database_principals u ON u.principal_id = pe.grantee_principal_id
		JOIN sys.server_principals sp ON sp.sid = u.sid
		WHERE pe.state IN ('G', 'W') AND pe.class = 0`
)

// AccountAdapter reads SQL Server logins and their server and database
// level roles and permissions.
type AccountAdapter struct {
	logger *zap.Logger
}

func NewAccountAdapter(logger *zap.Logger) *AccountAdapter {
	return &AccountAdapter{logger: logger.Named("mssql-accounts")}
}

func (a *AccountAdapter) FetchRemoteAccounts(ctx context.Context, instance *models.Instance, conn datasource.Connection) ([]models.RemoteAccount, error) {
	result, err := conn.ExecuteQuery(ctx, listLoginsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list sql server logins: %w", err)
	}

	accounts := make([]models.RemoteAccount, 0, len(result.Rows))
	for _, row := range result.Rows {
		accounts = append(accounts, models.RemoteAccount{
			Username:    datasource.RowString(row, "name"),
			IsActive:    true,
			IsSuperuser: datasource.RowBool(row, "is_sysadmin"),
			IsLocked:    datasource.RowBool(row, "is_locked"),
		})
	}

	a.logger.Debug("Fetched logins",
		zap.Int64("instance_id", instance.ID),
		zap.Int("count", len(accounts)))
	return accounts, nil
}

func (a *AccountAdapter) EnrichPermissions(ctx context.Context, instance *models.Instance, conn datasource.Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error) {
	logins, err := conn.ExecuteQuery(ctx, listLoginsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read login attributes: %w", err)
	}
	serverRoles, err := conn.ExecuteQuery(ctx, serverRolesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read server roles: %w", err)
	}
	serverPerms, err := conn.ExecuteQuery(ctx, serverPermissionsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read server permissions: %w", err)
	}

	loginRows := make(map[string]map[string]any, len(logins.Rows))
	for _, row := range logins.Rows {
		loginRows[datasource.RowString(row, "name")] = row
	}
	rolesByLogin := groupByLogin(serverRoles.Rows, "role")
	permsByLogin := groupByLogin(serverPerms.Rows, "permission_name")

	dbRoles, dbPerms, err := a.databaseGrants(ctx, conn)
	if err != nil {
		return nil, err
	}

	return datasource.EnrichSelected(accounts, usernames, func(acct *models.RemoteAccount) error {
		row, ok := loginRows[acct.Username]
		if !ok {
			return fmt.Errorf("login %s disappeared during sync", acct.Username)
		}

		acct.Permissions = &models.RemotePermissions{
			Categories: permissions.Normalize(models.DBTypeSQLServer, map[string]any{
				permissions.SQLServerServerRoles:         rolesByLogin[acct.Username],
				permissions.SQLServerServerPermissions:   permsByLogin[acct.Username],
				permissions.SQLServerDatabaseRoles:       dbRoles[acct.Username],
				permissions.SQLServerDatabasePermissions: dbPerms[acct.Username],
			}),
			TypeSpecific: map[string]any{
				"login_type":  datasource.RowString(row, "type_desc"),
				"is_disabled": datasource.RowBool(row, "is_disabled"),
			},
		}
		return nil
	})
}

// databaseGrants returns login -> database -> roles and
// login -> database -> permissions across every accessible database.
func (a *AccountAdapter) databaseGrants(ctx context.Context, conn datasource.Connection) (map[string]map[string][]string, map[string]map[string][]string, error) {
	dbs, err := conn.ExecuteQuery(ctx, databasesQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list databases: %w", err)
	}

	roles := map[string]map[string][]string{}
	perms := map[string]map[string][]string{}
	for _, row := range dbs.Rows {
		db := datasource.RowString(row, "name")
		quoted := quoteName(db)

		r, err := conn.ExecuteQuery(ctx, fmt.Sprintf(databaseRolesQueryTemplate, quoted))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read database roles in %s: %w", db, err)
		}
		addScoped(roles, db, r.Rows, "role")

		p, err := conn.ExecuteQuery(ctx, fmt.Sprintf(databasePermissionsQueryTemplate, quoted))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read database permissions in %s: %w", db, err)
		}
		addScoped(perms, db, p.Rows, "permission_name")
	}
	return roles, perms, nil
}

func groupByLogin(rows []map[string]any, valueCol string) map[string][]string {
	out := map[string][]string{}
	for _, row := range rows {
		login := datasource.RowString(row, "login")
		out[login] = append(out[login], datasource.RowString(row, valueCol))
	}
	return out
}

func addScoped(dst map[string]map[string][]string, scope string, rows []map[string]any, valueCol string) {
	for _, row := range rows {
		login := datasource.RowString(row, "login")
		if dst[login] == nil {
			dst[login] = map[string][]string{}
		}
		dst[login][scope] = append(dst[login][scope], datasource.RowString(row, valueCol))
	}
}

var _ datasource.AccountAdapter = (*AccountAdapter)(nil)
