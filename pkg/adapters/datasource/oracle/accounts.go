package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
)

const (
	listUsersQuery = `
		SELECT username, account_status, default_tablespace, profile
		FROM dba_users
		WHERE oracle_maintained = 'N'
		ORDER BY username`

	userQuery = `
		SELECT username, account_status, default_tablespace, profile
		FROM dba_users
		WHERE username = :1`

	rolesQuery = `SELECT granted_role FROM dba_role_privs WHERE grantee = :1`

	systemPrivilegesQuery = `SELECT privilege FROM dba_sys_privs WHERE grantee = :1`

	quotasQuery = `SELECT tablespace_name, max_bytes FROM dba_ts_quotas WHERE username = :1`
)

// superuserRoles grant effectively unrestricted access.
var superuserRoles = []string{"DBA", "SYSDBA"}

// AccountAdapter reads Oracle database users.
type AccountAdapter struct {
	logger *zap.Logger
}

func NewAccountAdapter(logger *zap.Logger) *AccountAdapter {
	return &AccountAdapter{logger: logger.Named("oracle-accounts")}
}

func (a *AccountAdapter) FetchRemoteAccounts(ctx context.Context, instance *models.Instance, conn datasource.Connection) ([]models.RemoteAccount, error) {
	result, err := conn.ExecuteQuery(ctx, listUsersQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list oracle users: %w", err)
	}

	accounts := make([]models.RemoteAccount, 0, len(result.Rows))
	for _, row := range result.Rows {
		accounts = append(accounts, models.RemoteAccount{
			Username: datasource.RowString(row, "username"),
			IsActive: true,
			IsLocked: isLockedStatus(datasource.RowString(row, "account_status")),
		})
	}

	a.logger.Debug("Fetched users",
		zap.Int64("instance_id", instance.ID),
		zap.Int("count", len(accounts)))
	return accounts, nil
}

func (a *AccountAdapter) EnrichPermissions(ctx context.Context, instance *models.Instance, conn datasource.Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error) {
	return datasource.EnrichSelected(accounts, usernames, func(acct *models.RemoteAccount) error {
		user, err := conn.ExecuteQuery(ctx, userQuery, acct.Username)
		if err != nil {
			return fmt.Errorf("failed to read user %s: %w", acct.Username, err)
		}
		if len(user.Rows) == 0 {
			return fmt.Errorf("user %s disappeared during sync", acct.Username)
		}
		roles, err := a.column(ctx, conn, rolesQuery, acct.Username, "granted_role")
		if err != nil {
			return err
		}
		sysPrivs, err := a.column(ctx, conn, systemPrivilegesQuery, acct.Username, "privilege")
		if err != nil {
			return err
		}
		quotas, err := conn.ExecuteQuery(ctx, quotasQuery, acct.Username)
		if err != nil {
			return fmt.Errorf("failed to read tablespace quotas for %s: %w", acct.Username, err)
		}

		tablespaces := map[string][]string{}
		for _, row := range quotas.Rows {
			ts := datasource.RowString(row, "tablespace_name")
			if datasource.RowInt(row, "max_bytes") == -1 {
				tablespaces[ts] = []string{"UNLIMITED TABLESPACE"}
			} else {
				tablespaces[ts] = []string{"QUOTA"}
			}
		}

		row := user.Rows[0]
		status := datasource.RowString(row, "account_status")
		acct.IsLocked = isLockedStatus(status)
		acct.IsSuperuser = hasAny(roles, superuserRoles)
		acct.Permissions = &models.RemotePermissions{
			Categories: permissions.Normalize(models.DBTypeOracle, map[string]any{
				permissions.OracleRoles:                roles,
				permissions.OracleSystemPrivileges:     sysPrivs,
				permissions.OracleTablespacePrivileges: tablespaces,
			}),
			TypeSpecific: map[string]any{
				"account_status":     status,
				"default_tablespace": datasource.RowString(row, "default_tablespace"),
				"profile":            datasource.RowString(row, "profile"),
			},
		}
		return nil
	})
}

func (a *AccountAdapter) column(ctx context.Context, conn datasource.Connection, query, username, col string) ([]string, error) {
	result, err := conn.ExecuteQuery(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for %s: %w", col, username, err)
	}
	out := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		out = append(out, datasource.RowString(row, col))
	}
	return out, nil
}

// isLockedStatus covers LOCKED, LOCKED(TIMED) and EXPIRED & LOCKED.
func isLockedStatus(status string) bool {
	return strings.Contains(strings.ToUpper(status), "LOCKED")
}

func hasAny(items, wanted []string) bool {
	for _, item := range items {
		for _, w := range wanted {
			if strings.EqualFold(item, w) {
				return true
			}
		}
	}
	return false
}

var _ datasource.AccountAdapter = (*AccountAdapter)(nil)
