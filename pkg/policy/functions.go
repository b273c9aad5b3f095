package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Privilege scopes accepted by has_privilege.
const (
	ScopeGlobal     = "global"
	ScopeServer     = "server"
	ScopeDatabase   = "database"
	ScopeTablespace = "tablespace"
)

// Function is a predicate callable from a function node. It returns an error
// for malformed arguments; the evaluator turns that into a false result.
type Function func(facts *models.PermissionFacts, args Args) (bool, error)

// builtinFunctions is the default function table.
func builtinFunctions() map[string]Function {
	return map[string]Function{
		"db_type_in":     dbTypeIn,
		"is_superuser":   isSuperuser,
		"has_capability": hasCapability,
		"has_role":       hasRole,
		"has_privilege":  hasPrivilege,
	}
}

// argCheckers validate function arguments at authoring time. Each mirrors
// the argument handling of the matching builtin.
var argCheckers = map[string]func(Args) error{
	"db_type_in": func(a Args) error {
		types, err := a.StringList("types")
		if err != nil {
			return err
		}
		for _, t := range types {
			if _, err := models.ParseDBType(t); err != nil {
				return err
			}
		}
		return nil
	},
	"is_superuser": func(Args) error { return nil },
	"has_capability": func(a Args) error {
		_, err := a.String("name")
		return err
	},
	"has_role": func(a Args) error {
		_, err := a.String("name")
		return err
	},
	"has_privilege": func(a Args) error {
		_, _, _, err := privilegeArgs(a)
		return err
	},
}

func dbTypeIn(facts *models.PermissionFacts, args Args) (bool, error) {
	types, err := args.StringList("types")
	if err != nil {
		return false, err
	}
	current := string(facts.DBType)
	for _, t := range types {
		if strings.EqualFold(t, current) {
			return true, nil
		}
		// Accept aliases such as "postgres" or "mssql".
		if parsed, err := models.ParseDBType(t); err == nil && parsed == facts.DBType {
			return true, nil
		}
	}
	return false, nil
}

func isSuperuser(facts *models.PermissionFacts, _ Args) (bool, error) {
	return facts.HasCapability(models.CapabilitySuperuser), nil
}

func hasCapability(facts *models.PermissionFacts, args Args) (bool, error) {
	name, err := args.String("name")
	if err != nil {
		return false, err
	}
	return facts.HasCapability(name), nil
}

func hasRole(facts *models.PermissionFacts, args Args) (bool, error) {
	name, err := args.String("name")
	if err != nil {
		return false, err
	}
	return facts.HasRole(name), nil
}

// privilegeArgs returns name, scope and the optional bucket key
// ("database" for database scope, "tablespace" for tablespace scope).
func privilegeArgs(args Args) (string, string, string, error) {
	name, err := args.String("name")
	if err != nil {
		return "", "", "", err
	}
	scope, err := args.String("scope")
	if err != nil {
		return "", "", "", err
	}
	scope = strings.ToLower(scope)

	var key string
	switch scope {
	case ScopeGlobal, ScopeServer:
	case ScopeDatabase:
		key, err = args.OptionalString("database")
	case ScopeTablespace:
		key, err = args.OptionalString("tablespace")
		if err == nil && key == "" {
			key, err = args.OptionalString("database")
		}
	default:
		return "", "", "", fmt.Errorf("unknown privilege scope %q", scope)
	}
	if err != nil {
		return "", "", "", err
	}
	return name, scope, key, nil
}

func hasPrivilege(facts *models.PermissionFacts, args Args) (bool, error) {
	name, scope, key, err := privilegeArgs(args)
	if err != nil {
		return false, err
	}
	p := facts.Privileges

	switch scope {
	case ScopeGlobal:
		return containsFold(p.Global, name), nil
	case ScopeServer:
		return containsFold(p.Server, name) || containsFold(p.System, name), nil
	case ScopeDatabase:
		buckets := []map[string][]string{p.Database, p.DatabasePrivileges, p.DatabasePermissions}
		if key != "" {
			for _, b := range buckets {
				if privs, ok := b[key]; ok {
					return containsFold(privs, name), nil
				}
			}
			return false, nil
		}
		for _, b := range buckets {
			if anyBucketContains(b, name) {
				return true, nil
			}
		}
		return false, nil
	default: // ScopeTablespace
		if key != "" {
			return containsFold(p.Tablespace[key], name), nil
		}
		return anyBucketContains(p.Tablespace, name), nil
	}
}

func anyBucketContains(buckets map[string][]string, name string) bool {
	for _, privs := range buckets {
		if containsFold(privs, name) {
			return true
		}
	}
	return false
}

func containsFold(items []string, name string) bool {
	return slices.ContainsFunc(items, func(s string) bool {
		return strings.EqualFold(s, name)
	})
}
