package mysql

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
)

const listAccountsQuery = `
	SELECT User AS user, Host AS host, plugin, account_locked, Super_priv AS super_priv
	FROM mysql.user
	WHERE User <> ''
	ORDER BY User, Host`

// AccountAdapter reads MySQL accounts. Usernames are reported as user@host
// because MySQL treats each host pattern as a distinct account.
type AccountAdapter struct {
	logger *zap.Logger
}

func NewAccountAdapter(logger *zap.Logger) *AccountAdapter {
	return &AccountAdapter{logger: logger.Named("mysql-accounts")}
}

func (a *AccountAdapter) FetchRemoteAccounts(ctx context.Context, instance *models.Instance, conn datasource.Connection) ([]models.RemoteAccount, error) {
	result, err := conn.ExecuteQuery(ctx, listAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list mysql accounts: %w", err)
	}

	accounts := make([]models.RemoteAccount, 0, len(result.Rows))
	for _, row := range result.Rows {
		user := datasource.RowString(row, "user")
		host := datasource.RowString(row, "host")
		accounts = append(accounts, models.RemoteAccount{
			Username:    user + "@" + host,
			IsActive:    true,
			IsSuperuser: datasource.RowBool(row, "super_priv"),
			IsLocked:    datasource.RowBool(row, "account_locked"),
		})
	}

	a.logger.Debug("Fetched accounts",
		zap.Int64("instance_id", instance.ID),
		zap.Int("count", len(accounts)))
	return accounts, nil
}

func (a *AccountAdapter) EnrichPermissions(ctx context.Context, instance *models.Instance, conn datasource.Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error) {
	attrs, err := a.loadAttributes(ctx, conn)
	if err != nil {
		return nil, err
	}

	return datasource.EnrichSelected(accounts, usernames, func(acct *models.RemoteAccount) error {
		user, host := SplitUsername(acct.Username)
		result, err := conn.ExecuteQuery(ctx, fmt.Sprintf("SHOW GRANTS FOR %s@%s", quote(user), quote(host)))
		if err != nil {
			return fmt.Errorf("failed to read grants for %s: %w", acct.Username, err)
		}

		lines := make([]string, 0, len(result.Rows))
		for _, row := range result.Rows {
			for _, col := range result.Columns {
				lines = append(lines, datasource.RowString(row, col))
			}
		}

		grants := ParseGrants(lines)
		typeSpecific := map[string]any{"host": host}
		if plugin, ok := attrs[acct.Username]; ok {
			typeSpecific["plugin"] = plugin
		}
		acct.Permissions = &models.RemotePermissions{
			Categories:   grants.Categories(),
			TypeSpecific: typeSpecific,
		}
		return nil
	})
}

// loadAttributes returns the auth plugin keyed by user@host.
func (a *AccountAdapter) loadAttributes(ctx context.Context, conn datasource.Connection) (map[string]string, error) {
	result, err := conn.ExecuteQuery(ctx, listAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read mysql account attributes: %w", err)
	}
	out := make(map[string]string, len(result.Rows))
	for _, row := range result.Rows {
		out[datasource.RowString(row, "user")+"@"+datasource.RowString(row, "host")] = datasource.RowString(row, "plugin")
	}
	return out, nil
}

// SplitUsername splits user@host on the last @ so that user names containing
// @ survive.
func SplitUsername(username string) (string, string) {
	i := strings.LastIndex(username, "@")
	if i < 0 {
		return username, "%"
	}
	return username[:i], username[i+1:]
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var _ datasource.AccountAdapter = (*AccountAdapter)(nil)

// Grants is the parsed output of SHOW GRANTS for one account.
type Grants struct {
	Global   []string
	Database map[string][]string
	Table    map[string][]string
	Roles    []string
}

// Categories returns the grants in snapshot category shape.
func (g *Grants) Categories() map[string]any {
	return permissions.Normalize(models.DBTypeMySQL, map[string]any{
		permissions.MySQLGlobalPrivileges:   g.Global,
		permissions.MySQLDatabasePrivileges: g.Database,
		permissions.MySQLTablePrivileges:    g.Table,
		permissions.MySQLRoles:              g.Roles,
	})
}

// ParseGrants interprets SHOW GRANTS lines. USAGE and PROXY grants carry no
// object privilege and are skipped. Column lists are dropped so that
// "SELECT (a, b)" counts as SELECT on the table.
func ParseGrants(lines []string) *Grants {
	g := &Grants{
		Database: map[string][]string{},
		Table:    map[string][]string{},
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "GRANT ") {
			continue
		}
		body := line[len("GRANT "):]

		onIdx := indexOutsideQuotes(body, " ON ")
		toIdx := indexOutsideQuotes(body, " TO ")
		if toIdx < 0 {
			continue
		}

		if onIdx < 0 || onIdx > toIdx {
			// GRANT `role`@`%` TO `user`@`host`
			for _, role := range splitTopLevel(body[:toIdx]) {
				g.Roles = append(g.Roles, unquoteAccount(role))
			}
			continue
		}

		privs := splitTopLevel(body[:onIdx])
		if len(privs) > 0 && strings.EqualFold(privs[0], "PROXY") {
			continue
		}
		object := strings.TrimSpace(body[onIdx+len(" ON ") : toIdx])
		if strings.Contains(strings.ToUpper(body[toIdx:]), "WITH GRANT OPTION") {
			privs = append(privs, "GRANT OPTION")
		}

		var names []string
		for _, p := range privs {
			p = strings.ToUpper(stripColumns(p))
			if p == "" || p == "USAGE" {
				continue
			}
			names = append(names, p)
		}
		if len(names) == 0 {
			continue
		}

		db, table, routine := parseObject(object)
		switch {
		case db == "*":
			g.Global = append(g.Global, names...)
		case table == "*" && routine == "":
			g.Database[db] = append(g.Database[db], names...)
		default:
			key := db + "." + table
			if routine != "" {
				key = routine + " " + key
			}
			g.Table[key] = append(g.Table[key], names...)
		}
	}
	return g
}

// parseObject splits "`db`.`tbl`", "*.*" or "PROCEDURE `db`.`p`".
func parseObject(object string) (db, table, routine string) {
	upper := strings.ToUpper(object)
	for _, kind := range []string{"PROCEDURE ", "FUNCTION ", "TABLE "} {
		if strings.HasPrefix(upper, kind) {
			object = strings.TrimSpace(object[len(kind):])
			if kind != "TABLE " {
				routine = strings.TrimSpace(kind)
			}
			break
		}
	}

	dot := indexOutsideQuotes(object, ".")
	if dot < 0 {
		return unquoteIdent(object), "*", routine
	}
	return unquoteIdent(object[:dot]), unquoteIdent(object[dot+1:]), routine
}

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	}
	// Wildcard characters in database names are shown escaped.
	s = strings.ReplaceAll(s, `\_`, "_")
	return strings.ReplaceAll(s, `\%`, "%")
}

func unquoteAccount(s string) string {
	s = strings.TrimSpace(s)
	at := indexOutsideQuotes(s, "@")
	if at < 0 {
		return strings.Trim(s, "`'")
	}
	return strings.Trim(s[:at], "`'") + "@" + strings.Trim(s[at+1:], "`'")
}

func stripColumns(p string) string {
	if i := strings.Index(p, "("); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSpace(p)
}

// splitTopLevel splits on commas outside parentheses and quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	var inQuote rune
	for i, r := range s {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
		case r == '`' || r == '\'':
			inQuote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// indexOutsideQuotes finds sep, case-insensitively, outside backtick or
// single-quoted identifiers.
func indexOutsideQuotes(s, sep string) int {
	var inQuote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		if c == '`' || c == '\'' {
			inQuote = c
			continue
		}
		if i+len(sep) <= len(s) && strings.EqualFold(s[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}
