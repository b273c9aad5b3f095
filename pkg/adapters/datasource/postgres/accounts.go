package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
)

const (
	listRolesQuery = `
		SELECT rolname, rolsuper, rolcanlogin, rolcreaterole, rolcreatedb,
		       rolreplication, rolbypassrls, rolinherit, rolconnlimit,
		       rolvaliduntil::text AS rolvaliduntil
		FROM pg_roles
		WHERE rolname !~ '^pg_'
		ORDER BY rolname`

	roleAttributesQuery = `
		SELECT rolname, rolsuper, rolcanlogin, rolcreaterole, rolcreatedb,
		       rolreplication, rolbypassrls, rolinherit, rolconnlimit,
		       rolvaliduntil::text AS rolvaliduntil
		FROM pg_roles
		WHERE rolname = ANY($1)`

	membershipQuery = `
		SELECT r.rolname AS member, g.rolname AS role
		FROM pg_auth_members m
		JOIN pg_roles r ON r.oid = m.member
		JOIN pg_roles g ON g.oid = m.roleid
		WHERE r.rolname = ANY($1)`

	databasePrivilegesQuery = `
		SELECT r.rolname, d.datname AS object, p.priv
		FROM pg_roles r
		CROSS JOIN pg_database d
		CROSS JOIN (VALUES ('CONNECT'), ('CREATE'), ('TEMPORARY')) AS p(priv)
		WHERE r.rolname = ANY($1)
		  AND NOT d.datistemplate
		  AND has_database_privilege(r.oid, d.oid, p.priv)`

	tablespacePrivilegesQuery = `
		SELECT r.rolname, t.spcname AS object, 'CREATE' AS priv
		FROM pg_roles r
		CROSS JOIN pg_tablespace t
		WHERE r.rolname = ANY($1)
		  AND t.spcname NOT IN ('pg_default', 'pg_global')
		  AND has_tablespace_privilege(r.oid, t.oid, 'CREATE')`
)

// roleAttributeColumns maps pg_roles flags to role attribute names.
var roleAttributeColumns = []struct {
	column string
	name   string
}{
	{"rolsuper", "SUPERUSER"},
	{"rolcanlogin", "LOGIN"},
	{"rolcreaterole", "CREATEROLE"},
	{"rolcreatedb", "CREATEDB"},
	{"rolreplication", "REPLICATION"},
	{"rolbypassrls", "BYPASSRLS"},
	{"rolinherit", "INHERIT"},
}

// AccountAdapter reads PostgreSQL roles.
type AccountAdapter struct {
	logger *zap.Logger
}

func NewAccountAdapter(logger *zap.Logger) *AccountAdapter {
	return &AccountAdapter{logger: logger.Named("postgres-accounts")}
}

func (a *AccountAdapter) FetchRemoteAccounts(ctx context.Context, instance *models.Instance, conn datasource.Connection) ([]models.RemoteAccount, error) {
	result, err := conn.ExecuteQuery(ctx, listRolesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list postgres roles: %w", err)
	}

	accounts := make([]models.RemoteAccount, 0, len(result.Rows))
	for _, row := range result.Rows {
		accounts = append(accounts, models.RemoteAccount{
			Username:    datasource.RowString(row, "rolname"),
			IsActive:    true,
			IsSuperuser: datasource.RowBool(row, "rolsuper"),
			IsLocked:    !datasource.RowBool(row, "rolcanlogin"),
		})
	}

	a.logger.Debug("Fetched roles",
		zap.Int64("instance_id", instance.ID),
		zap.Int("count", len(accounts)))
	return accounts, nil
}

func (a *AccountAdapter) EnrichPermissions(ctx context.Context, instance *models.Instance, conn datasource.Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error) {
	if len(usernames) == 0 {
		return datasource.EnrichSelected(accounts, nil, nil)
	}

	attrs, err := conn.ExecuteQuery(ctx, roleAttributesQuery, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to read role attributes: %w", err)
	}
	members, err := conn.ExecuteQuery(ctx, membershipQuery, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to read role memberships: %w", err)
	}
	dbPrivs, err := conn.ExecuteQuery(ctx, databasePrivilegesQuery, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to read database privileges: %w", err)
	}
	tsPrivs, err := conn.ExecuteQuery(ctx, tablespacePrivilegesQuery, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to read tablespace privileges: %w", err)
	}

	attrsByRole := make(map[string]map[string]any, len(attrs.Rows))
	for _, row := range attrs.Rows {
		attrsByRole[datasource.RowString(row, "rolname")] = row
	}
	rolesByMember := map[string][]string{}
	for _, row := range members.Rows {
		m := datasource.RowString(row, "member")
		rolesByMember[m] = append(rolesByMember[m], datasource.RowString(row, "role"))
	}
	dbByRole := groupObjectPrivileges(dbPrivs.Rows)
	tsByRole := groupObjectPrivileges(tsPrivs.Rows)

	return datasource.EnrichSelected(accounts, usernames, func(acct *models.RemoteAccount) error {
		row, ok := attrsByRole[acct.Username]
		if !ok {
			return fmt.Errorf("role %s disappeared during sync", acct.Username)
		}

		var roleAttrs []string
		for _, c := range roleAttributeColumns {
			if datasource.RowBool(row, c.column) {
				roleAttrs = append(roleAttrs, c.name)
			}
		}

		var validUntil any
		if v := datasource.RowString(row, "rolvaliduntil"); v != "" {
			validUntil = v
		}

		acct.IsSuperuser = datasource.RowBool(row, "rolsuper")
		acct.IsLocked = !datasource.RowBool(row, "rolcanlogin")
		acct.Permissions = &models.RemotePermissions{
			Categories: permissions.Normalize(models.DBTypePostgreSQL, map[string]any{
				permissions.PostgresRoleAttributes:       roleAttrs,
				permissions.PostgresPredefinedRoles:      rolesByMember[acct.Username],
				permissions.PostgresDatabasePrivileges:   dbByRole[acct.Username],
				permissions.PostgresTablespacePrivileges: tsByRole[acct.Username],
			}),
			TypeSpecific: map[string]any{
				"valid_until":      validUntil,
				"connection_limit": datasource.RowInt(row, "rolconnlimit"),
			},
		}
		return nil
	})
}

// groupObjectPrivileges turns (rolname, object, priv) rows into
// role -> object -> privileges.
func groupObjectPrivileges(rows []map[string]any) map[string]map[string][]string {
	out := map[string]map[string][]string{}
	for _, row := range rows {
		role := datasource.RowString(row, "rolname")
		object := datasource.RowString(row, "object")
		if out[role] == nil {
			out[role] = map[string][]string{}
		}
		out[role][object] = append(out[role][object], datasource.RowString(row, "priv"))
	}
	return out
}

var _ datasource.AccountAdapter = (*AccountAdapter)(nil)
