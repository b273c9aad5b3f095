package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

func TestValidate_Valid(t *testing.T) {
	docs := []string{
		`{"version":4,"expr":{"fn":"is_superuser"}}`,
		`{"version":4,"expr":{"op":"OR","args":[{"fn":"has_role","args":{"name":"dba"}},{"fn":"is_superuser"}]}}`,
		`{"version":4,"expr":{"op":"NOT","args":[{"fn":"db_type_in","args":{"types":["mysql","mssql"]}}]}}`,
		`{"version":4,"expr":{"fn":"has_privilege","args":{"name":"SELECT","scope":"database","database":"sales"}}}`,
	}
	for _, doc := range docs {
		assert.NoError(t, Validate(json.RawMessage(doc)), doc)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{"not json", `{`, "failed to decode"},
		{"wrong version", `{"version":3,"expr":{"fn":"is_superuser"}}`, "version: must be 4"},
		{"missing expr", `{"version":4}`, "expr: is required"},
		{"empty node", `{"version":4,"expr":{}}`, "must have op or fn"},
		{"both op and fn", `{"version":4,"expr":{"op":"AND","fn":"is_superuser"}}`, "not both"},
		{"unknown op", `{"version":4,"expr":{"op":"XOR","args":[]}}`, "unknown operator"},
		{"NOT arity", `{"version":4,"expr":{"op":"NOT","args":[]}}`, "exactly one argument"},
		{"AND empty", `{"version":4,"expr":{"op":"AND","args":[]}}`, "at least one argument"},
		{"op args object", `{"version":4,"expr":{"op":"AND","args":{"a":1}}}`, "array of nodes"},
		{"unknown fn", `{"version":4,"expr":{"fn":"is_owner"}}`, "unknown function"},
		{"missing arg", `{"version":4,"expr":{"fn":"has_role","args":{}}}`, `missing required argument "name"`},
		{"bad db type", `{"version":4,"expr":{"fn":"db_type_in","args":{"types":["db2"]}}}`, "unsupported db_type"},
		{"bad scope", `{"version":4,"expr":{"fn":"has_privilege","args":{"name":"X","scope":"cluster"}}}`, "unknown privilege scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidExpression))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	doc := `{"version":4,"expr":{"op":"AND","args":[{"fn":"has_role"},{"fn":"nope"},{"op":"NOT","args":[]}]}}`

	err := Validate(json.RawMessage(doc))

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
	assert.True(t, strings.HasPrefix(verr.Problems[0], "expr.args[0]"))
}

func TestValidate_Depth(t *testing.T) {
	doc := `{"fn":"is_superuser"}`
	for i := 0; i < MaxDepth+1; i++ {
		doc = fmt.Sprintf(`{"op":"NOT","args":[%s]}`, doc)
	}
	err := Validate(json.RawMessage(`{"version":4,"expr":` + doc + `}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds")
}
