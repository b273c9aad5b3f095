package policy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

func mysqlFacts() *models.PermissionFacts {
	return &models.PermissionFacts{
		DBType:       models.DBTypeMySQL,
		Capabilities: []string{"SUPERUSER", "GRANT_ADMIN"},
		Roles:        []string{"app_reader"},
		Privileges: models.PrivilegeScopes{
			Global: []string{"SELECT", "RELOAD"},
			Database: map[string][]string{
				"sales": {"SELECT", "INSERT"},
			},
		},
	}
}

func mustParse(t *testing.T, doc string) *Expression {
	t.Helper()
	expr, err := Parse([]byte(doc))
	require.NoError(t, err)
	return expr
}

func TestEvaluate_Functions(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		facts *models.PermissionFacts
		want  bool
	}{
		{
			name: "db_type_in case insensitive",
			doc:  `{"version":4,"expr":{"fn":"db_type_in","args":{"types":["MySQL","oracle"]}}}`,
			want: true,
		},
		{
			name: "db_type_in alias",
			doc:  `{"version":4,"expr":{"fn":"db_type_in","args":{"types":["postgres"]}}}`,
			facts: &models.PermissionFacts{DBType: models.DBTypePostgreSQL},
			want: true,
		},
		{
			name: "db_type_in miss",
			doc:  `{"version":4,"expr":{"fn":"db_type_in","args":{"types":["sqlserver"]}}}`,
			want: false,
		},
		{
			name: "is_superuser",
			doc:  `{"version":4,"expr":{"fn":"is_superuser"}}`,
			want: true,
		},
		{
			name: "has_capability",
			doc:  `{"version":4,"expr":{"fn":"has_capability","args":{"name":"GRANT_ADMIN"}}}`,
			want: true,
		},
		{
			name: "has_role ignores case",
			doc:  `{"version":4,"expr":{"fn":"has_role","args":{"name":"dba"}}}`,
			facts: &models.PermissionFacts{DBType: models.DBTypeOracle, Roles: []string{"DBA", "CONNECT"}},
			want: true,
		},
		{
			name: "has_role miss",
			doc:  `{"version":4,"expr":{"fn":"has_role","args":{"name":"dba"}}}`,
			want: false,
		},
		{
			name: "global privilege",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"reload","scope":"global"}}}`,
			want: true,
		},
		{
			name: "named database bucket",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"INSERT","scope":"database","database":"sales"}}}`,
			want: true,
		},
		{
			name: "named database bucket missing",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"INSERT","scope":"database","database":"hr"}}}`,
			want: false,
		},
		{
			name: "any database bucket",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"INSERT","scope":"database"}}}`,
			want: true,
		},
		{
			name: "server scope includes system privileges",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"CREATE SESSION","scope":"server"}}}`,
			facts: &models.PermissionFacts{
				DBType:     models.DBTypeOracle,
				Privileges: models.PrivilegeScopes{System: []string{"CREATE SESSION"}},
			},
			want: true,
		},
		{
			name: "legacy database_permissions bucket",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"CONTROL","scope":"database","database":"master"}}}`,
			facts: &models.PermissionFacts{
				DBType: models.DBTypeSQLServer,
				Privileges: models.PrivilegeScopes{
					DatabasePermissions: map[string][]string{"master": {"CONTROL"}},
				},
			},
			want: true,
		},
		{
			name: "tablespace scope",
			doc:  `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"UNLIMITED","scope":"tablespace","tablespace":"USERS"}}}`,
			facts: &models.PermissionFacts{
				DBType:     models.DBTypeOracle,
				Privileges: models.PrivilegeScopes{Tablespace: map[string][]string{"USERS": {"UNLIMITED"}}},
			},
			want: true,
		},
	}

	evaluator := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := tt.facts
			if facts == nil {
				facts = mysqlFacts()
			}
			result := evaluator.Evaluate(mustParse(t, tt.doc), facts)
			assert.Empty(t, result.Errors)
			assert.Equal(t, tt.want, result.Matched)
		})
	}
}

func TestEvaluate_Operators(t *testing.T) {
	evaluator := NewEvaluator()
	facts := mysqlFacts()

	doc := `{"version":4,"expr":{"op":"AND","args":[
		{"fn":"db_type_in","args":{"types":["mysql"]}},
		{"op":"OR","args":[
			{"fn":"has_role","args":{"name":"dba"}},
			{"fn":"is_superuser"}
		]},
		{"op":"NOT","args":[{"fn":"has_capability","args":{"name":"LOCKED"}}]}
	]}}`

	result := evaluator.Evaluate(mustParse(t, doc), facts)
	require.Empty(t, result.Errors)
	assert.True(t, result.Matched)
}

func TestEvaluate_AndShortCircuits(t *testing.T) {
	calls := 0
	evaluator := NewEvaluator(
		WithFunction("always_false", func(*models.PermissionFacts, Args) (bool, error) {
			return false, nil
		}),
		WithFunction("explode", func(*models.PermissionFacts, Args) (bool, error) {
			calls++
			return false, errors.New("should not be called")
		}),
	)

	doc := `{"version":4,"expr":{"op":"AND","args":[{"fn":"always_false"},{"fn":"explode"}]}}`
	result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())

	assert.False(t, result.Matched)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, calls)
}

func TestEvaluate_OrShortCircuits(t *testing.T) {
	calls := 0
	evaluator := NewEvaluator(
		WithFunction("counted", func(*models.PermissionFacts, Args) (bool, error) {
			calls++
			return false, nil
		}),
	)

	doc := `{"version":4,"expr":{"op":"OR","args":[{"fn":"is_superuser"},{"fn":"counted"}]}}`
	result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())

	assert.True(t, result.Matched)
	assert.Equal(t, 0, calls)
}

func TestEvaluate_FailsClosed(t *testing.T) {
	evaluator := NewEvaluator()

	t.Run("unknown scope", func(t *testing.T) {
		doc := `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"X","scope":"unknown-scope"}}}`
		result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())
		assert.False(t, result.Matched)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Reason, "unknown privilege scope")
		assert.Equal(t, "expr", result.Errors[0].Path)
	})

	t.Run("unknown function", func(t *testing.T) {
		doc := `{"version":4,"expr":{"fn":"is_owner"}}`
		result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())
		assert.False(t, result.Matched)
		assert.Len(t, result.Errors, 1)
	})

	t.Run("wrong argument type", func(t *testing.T) {
		doc := `{"version":4,"expr":{"fn":"has_role","args":{"name":7}}}`
		result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())
		assert.False(t, result.Matched)
		assert.Len(t, result.Errors, 1)
	})

	t.Run("NOT over failed child stays false", func(t *testing.T) {
		doc := `{"version":4,"expr":{"op":"NOT","args":[{"fn":"has_role"}]}}`
		result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())
		assert.False(t, result.Matched)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "expr.args[0]", result.Errors[0].Path)
	})

	t.Run("NOT arity", func(t *testing.T) {
		doc := `{"version":4,"expr":{"op":"NOT","args":[{"fn":"is_superuser"},{"fn":"is_superuser"}]}}`
		result := evaluator.Evaluate(mustParse(t, doc), mysqlFacts())
		assert.False(t, result.Matched)
		assert.Len(t, result.Errors, 1)
	})

	t.Run("wrong version", func(t *testing.T) {
		result := evaluator.EvaluateRaw(json.RawMessage(`{"version":3,"expr":{"fn":"is_superuser"}}`), mysqlFacts())
		assert.False(t, result.Matched)
		assert.Len(t, result.Errors, 1)
	})

	t.Run("not json", func(t *testing.T) {
		result := evaluator.EvaluateRaw(json.RawMessage(`{"global_privileges":`), mysqlFacts())
		assert.False(t, result.Matched)
		assert.Len(t, result.Errors, 1)
	})
}

func TestIsV4(t *testing.T) {
	assert.True(t, IsV4([]byte(`{"version":4,"expr":{"fn":"is_superuser"}}`)))
	assert.False(t, IsV4([]byte(`{"operator":"OR","global_privileges":["SUPER"]}`)))
	assert.False(t, IsV4([]byte(`not json`)))
}
