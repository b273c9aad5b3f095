// Package permissions normalizes vendor privilege payloads, diffs them
// against the stored snapshot and derives engine-agnostic facts.
package permissions

import (
	"slices"
	"sort"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Kind is the value shape of a privilege category.
type Kind int

const (
	// KindList is a flat list of privilege names.
	KindList Kind = iota
	// KindMapping maps a sub-object (database, tablespace, table) to a list of privileges.
	KindMapping
)

// Category describes one vendor privilege bucket.
type Category struct {
	Name  string
	Label string
	Kind  Kind
}

// Category names.
const (
	MySQLGlobalPrivileges   = "global_privileges"
	MySQLDatabasePrivileges = "database_privileges"
	MySQLTablePrivileges    = "table_privileges"
	MySQLRoles              = "roles"

	PostgresRoleAttributes       = "role_attributes"
	PostgresPredefinedRoles      = "predefined_roles"
	PostgresDatabasePrivileges   = "database_privileges"
	PostgresTablespacePrivileges = "tablespace_privileges"

	SQLServerServerRoles         = "server_roles"
	SQLServerServerPermissions   = "server_permissions"
	SQLServerDatabaseRoles       = "database_roles"
	SQLServerDatabasePermissions = "database_permissions"

	OracleRoles                = "oracle_roles"
	OracleSystemPrivileges     = "system_privileges"
	OracleTablespacePrivileges = "tablespace_privileges"
)

var categoriesByDBType = map[models.DBType][]Category{
	models.DBTypeMySQL: {
		{Name: MySQLGlobalPrivileges, Label: "global privileges", Kind: KindList},
		{Name: MySQLDatabasePrivileges, Label: "database privileges", Kind: KindMapping},
		{Name: MySQLTablePrivileges, Label: "table privileges", Kind: KindMapping},
		{Name: MySQLRoles, Label: "roles", Kind: KindList},
	},
	models.DBTypePostgreSQL: {
		{Name: PostgresRoleAttributes, Label: "role attributes", Kind: KindList},
		{Name: PostgresPredefinedRoles, Label: "predefined roles", Kind: KindList},
		{Name: PostgresDatabasePrivileges, Label: "database privileges", Kind: KindMapping},
		{Name: PostgresTablespacePrivileges, Label: "tablespace privileges", Kind: KindMapping},
	},
	models.DBTypeSQLServer: {
		{Name: SQLServerServerRoles, Label: "server roles", Kind: KindList},
		{Name: SQLServerServerPermissions, Label: "server permissions", Kind: KindList},
		{Name: SQLServerDatabaseRoles, Label: "database roles", Kind: KindMapping},
		{Name: SQLServerDatabasePermissions, Label: "database permissions", Kind: KindMapping},
	},
	models.DBTypeOracle: {
		{Name: OracleRoles, Label: "roles", Kind: KindList},
		{Name: OracleSystemPrivileges, Label: "system privileges", Kind: KindList},
		{Name: OracleTablespacePrivileges, Label: "tablespace privileges", Kind: KindMapping},
	},
}

// Categories returns the privilege categories tracked for dbType.
func Categories(dbType models.DBType) []Category {
	return categoriesByDBType[dbType]
}

// Normalize converts a vendor payload into canonical category values:
// sorted, de-duplicated []string for list categories and map[string][]string
// for mapping categories. Every category of the engine is present in the
// result. Unknown categories are dropped.
func Normalize(dbType models.DBType, categories map[string]any) map[string]any {
	out := make(map[string]any, len(categoriesByDBType[dbType]))
	for _, cat := range Categories(dbType) {
		raw := categories[cat.Name]
		switch cat.Kind {
		case KindList:
			list, _ := asStringList(raw)
			out[cat.Name] = list
		case KindMapping:
			m, _ := asStringListMap(raw)
			out[cat.Name] = m
		}
	}
	return out
}

// asStringList accepts []string or the []any produced by JSON decoding.
// ok is false when raw is present but not a list of strings.
func asStringList(raw any) ([]string, bool) {
	var items []string
	switch v := raw.(type) {
	case nil:
		return []string{}, true
	case []string:
		items = v
	case []any:
		items = make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return canonical(items), false
			}
			items = append(items, s)
		}
	default:
		return []string{}, false
	}
	return canonical(items), true
}

func asStringListMap(raw any) (map[string][]string, bool) {
	out := map[string][]string{}
	ok := true
	switch v := raw.(type) {
	case nil:
	case map[string][]string:
		for k, list := range v {
			out[k] = canonical(list)
		}
	case map[string]any:
		for k, item := range v {
			list, listOK := asStringList(item)
			ok = ok && listOK
			out[k] = list
		}
	default:
		ok = false
	}
	return out, ok
}

func canonical(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
