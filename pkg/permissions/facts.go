package permissions

import (
	"slices"
	"sort"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// BuildFacts derives engine-agnostic facts from a normalized state.
// SUPERUSER and LOCKED come only from the state flags so that a snapshot
// read back from storage reports the same flags it was written with.
func BuildFacts(dbType models.DBType, st *State) models.PermissionFacts {
	facts := models.PermissionFacts{
		DBType:       dbType,
		Capabilities: []string{},
		Roles:        []string{},
	}
	if st == nil {
		return facts
	}

	caps := map[string]struct{}{}
	if st.IsSuperuser {
		caps[models.CapabilitySuperuser] = struct{}{}
	}
	if st.IsLocked {
		caps[models.CapabilityLocked] = struct{}{}
	}

	list := func(name string) []string {
		l, _ := asStringList(st.Categories[name])
		return l
	}
	mapping := func(name string) map[string][]string {
		m, _ := asStringListMap(st.Categories[name])
		return m
	}

	switch dbType {
	case models.DBTypeMySQL:
		global := list(MySQLGlobalPrivileges)
		facts.Privileges.Global = global
		facts.Privileges.Database = mapping(MySQLDatabasePrivileges)
		facts.Roles = list(MySQLRoles)
		if containsFold(global, "GRANT OPTION") {
			caps[models.CapabilityGrantAdmin] = struct{}{}
		}
		if containsFold(global, "CREATE USER") || containsFold(global, "CREATE ROLE") {
			caps[models.CapabilityCreateRole] = struct{}{}
		}

	case models.DBTypePostgreSQL:
		attrs := list(PostgresRoleAttributes)
		for attr, capability := range map[string]string{
			"CREATEROLE":  models.CapabilityCreateRole,
			"CREATEDB":    models.CapabilityCreateDB,
			"REPLICATION": models.CapabilityReplication,
			"BYPASSRLS":   models.CapabilityBypassRLS,
		} {
			if containsFold(attrs, attr) {
				caps[capability] = struct{}{}
			}
		}
		facts.Roles = list(PostgresPredefinedRoles)
		facts.Privileges.Database = mapping(PostgresDatabasePrivileges)
		facts.Privileges.Tablespace = mapping(PostgresTablespacePrivileges)

	case models.DBTypeSQLServer:
		serverRoles := list(SQLServerServerRoles)
		facts.Roles = append(facts.Roles, serverRoles...)
		for _, roles := range mapping(SQLServerDatabaseRoles) {
			facts.Roles = append(facts.Roles, roles...)
		}
		facts.Privileges.Server = list(SQLServerServerPermissions)
		facts.Privileges.Database = mapping(SQLServerDatabasePermissions)
		if containsFold(serverRoles, "securityadmin") {
			caps[models.CapabilityGrantAdmin] = struct{}{}
		}

	case models.DBTypeOracle:
		roles := list(OracleRoles)
		facts.Roles = roles
		facts.Privileges.System = list(OracleSystemPrivileges)
		facts.Privileges.Tablespace = mapping(OracleTablespacePrivileges)
		if containsFold(facts.Privileges.System, "GRANT ANY PRIVILEGE") || containsFold(facts.Privileges.System, "GRANT ANY ROLE") {
			caps[models.CapabilityGrantAdmin] = struct{}{}
		}
		if containsFold(facts.Privileges.System, "CREATE USER") {
			caps[models.CapabilityCreateRole] = struct{}{}
		}
	}

	for c := range caps {
		facts.Capabilities = append(facts.Capabilities, c)
	}
	sort.Strings(facts.Capabilities)
	sort.Strings(facts.Roles)
	facts.Roles = slices.Compact(facts.Roles)
	return facts
}

func containsFold(items []string, name string) bool {
	return slices.ContainsFunc(items, func(s string) bool {
		return strings.EqualFold(s, name)
	})
}
