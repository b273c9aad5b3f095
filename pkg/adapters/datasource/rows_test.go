package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowHelpers(t *testing.T) {
	row := map[string]any{
		"USERNAME":     "SCOTT",
		"is_super":     "Y",
		"rolcanlogin":  true,
		"locked":       int64(0),
		"conn_limit":   int64(-1),
		"roles":        []any{"pg_monitor", nil, "pg_read_all_data"},
		"csv_roles":    "CONNECT, RESOURCE",
		"empty_string": "",
	}

	assert.Equal(t, "SCOTT", RowString(row, "username"))
	assert.Equal(t, "", RowString(row, "missing"))
	assert.True(t, RowBool(row, "is_super"))
	assert.True(t, RowBool(row, "rolcanlogin"))
	assert.False(t, RowBool(row, "locked"))
	assert.Equal(t, int64(-1), RowInt(row, "conn_limit"))
	assert.Equal(t, []string{"pg_monitor", "pg_read_all_data"}, RowStringList(row, "roles"))
	assert.Equal(t, []string{"CONNECT", "RESOURCE"}, RowStringList(row, "csv_roles"))
	assert.Nil(t, RowStringList(row, "empty_string"))
}
