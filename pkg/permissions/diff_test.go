package permissions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

func mysqlState(global []string, dbs map[string][]string) *State {
	return &State{
		Categories: Normalize(models.DBTypeMySQL, map[string]any{
			MySQLGlobalPrivileges:   global,
			MySQLDatabasePrivileges: dbs,
		}),
		TypeSpecific: map[string]any{"host": "%", "plugin": "caching_sha2_password"},
	}
}

func TestCompute_Unchanged(t *testing.T) {
	prev := mysqlState([]string{"SELECT", "RELOAD"}, map[string][]string{"sales": {"SELECT"}})
	next := mysqlState([]string{"RELOAD", "SELECT"}, map[string][]string{"sales": {"SELECT"}})

	d := Compute(models.DBTypeMySQL, prev, next)

	assert.False(t, d.Changed())
	assert.Equal(t, models.ChangeTypeNone, d.ChangeType)
	assert.Empty(t, d.PrivilegeDiff)
	assert.Empty(t, d.OtherDiff)
}

func TestCompute_UnchangedAfterStorageRoundTrip(t *testing.T) {
	next := mysqlState([]string{"SELECT"}, map[string][]string{"sales": {"SELECT", "INSERT"}})

	// Simulate the snapshot being written as JSONB and read back.
	raw, err := json.Marshal(next.Categories)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	rawTS, err := json.Marshal(next.TypeSpecific)
	require.NoError(t, err)
	var storedTS map[string]any
	require.NoError(t, json.Unmarshal(rawTS, &storedTS))

	prev := &State{Categories: stored, TypeSpecific: storedTS}
	d := Compute(models.DBTypeMySQL, prev, next)
	assert.False(t, d.Changed())
}

func TestCompute_SingleGrant(t *testing.T) {
	prev := mysqlState([]string{"SELECT"}, nil)
	next := mysqlState([]string{"SELECT", "INSERT"}, nil)

	d := Compute(models.DBTypeMySQL, prev, next)

	require.Len(t, d.PrivilegeDiff, 1)
	entry := d.PrivilegeDiff[0]
	assert.Equal(t, models.ActionGrant, entry.Action)
	assert.Equal(t, []string{"INSERT"}, entry.Permissions)
	assert.Equal(t, MySQLGlobalPrivileges, entry.Field)
	assert.Equal(t, models.ChangeTypeModifyPrivilege, d.ChangeType)
}

func TestCompute_MappingPerKey(t *testing.T) {
	prev := mysqlState(nil, map[string][]string{
		"sales": {"SELECT", "UPDATE"},
		"hr":    {"SELECT"},
	})
	next := mysqlState(nil, map[string][]string{
		"sales":   {"SELECT", "INSERT"},
		"hr":      {"SELECT"},
		"finance": {"SELECT"},
	})

	d := Compute(models.DBTypeMySQL, prev, next)

	require.Len(t, d.PrivilegeDiff, 3)
	assert.Equal(t, "database_privileges:finance", d.PrivilegeDiff[0].Label)
	assert.Equal(t, models.ActionGrant, d.PrivilegeDiff[0].Action)
	assert.Equal(t, "finance", d.PrivilegeDiff[0].Object)

	assert.Equal(t, "database_privileges:sales", d.PrivilegeDiff[1].Label)
	assert.Equal(t, models.ActionGrant, d.PrivilegeDiff[1].Action)
	assert.Equal(t, []string{"INSERT"}, d.PrivilegeDiff[1].Permissions)

	assert.Equal(t, "database_privileges:sales", d.PrivilegeDiff[2].Label)
	assert.Equal(t, models.ActionRevoke, d.PrivilegeDiff[2].Action)
	assert.Equal(t, []string{"UPDATE"}, d.PrivilegeDiff[2].Permissions)
}

func TestCompute_AlterOnShapeChange(t *testing.T) {
	prev := &State{Categories: map[string]any{
		MySQLGlobalPrivileges: []any{"SELECT", map[string]any{"grantable": true}},
	}}
	next := &State{Categories: map[string]any{
		MySQLGlobalPrivileges: []any{"SELECT"},
	}}

	d := Compute(models.DBTypeMySQL, prev, next)

	require.Len(t, d.PrivilegeDiff, 1)
	assert.Equal(t, models.ActionAlter, d.PrivilegeDiff[0].Action)
}

func TestCompute_OtherOnly(t *testing.T) {
	prev := mysqlState([]string{"SELECT"}, nil)
	prev.IsLocked = true
	next := mysqlState([]string{"SELECT"}, nil)
	next.TypeSpecific["plugin"] = "mysql_native_password"

	d := Compute(models.DBTypeMySQL, prev, next)

	assert.Equal(t, models.ChangeTypeModifyOther, d.ChangeType)
	assert.Empty(t, d.PrivilegeDiff)
	require.Len(t, d.OtherDiff, 2)
	assert.Equal(t, "is_locked", d.OtherDiff[0].Field)
	assert.Equal(t, "lock status cleared", d.OtherDiff[0].Description)
	assert.Equal(t, "type_specific.plugin", d.OtherDiff[1].Field)
}

func TestCompute_NewAccount(t *testing.T) {
	next := mysqlState([]string{"SELECT", "PROCESS"}, map[string][]string{"sales": {"ALL PRIVILEGES"}})
	next.IsSuperuser = true

	d := Compute(models.DBTypeMySQL, nil, next)

	assert.Equal(t, models.ChangeTypeAdd, d.ChangeType)
	require.Len(t, d.PrivilegeDiff, 2)
	for _, e := range d.PrivilegeDiff {
		assert.Equal(t, models.ActionGrant, e.Action)
	}
	assert.Equal(t, "superuser granted", d.OtherDiff[0].Description)
}

func TestSummarize(t *testing.T) {
	prev := mysqlState([]string{"SELECT", "UPDATE"}, nil)
	prev.IsLocked = true
	next := mysqlState([]string{"SELECT", "INSERT", "DELETE"}, nil)

	d := Compute(models.DBTypeMySQL, prev, next)

	assert.Equal(t,
		"account app@%: privilege update: 2 grants added, 1 revoked; other changes: lock status cleared",
		Summarize("app@%", d))
	assert.Equal(t, "account app@%: no changes", Summarize("app@%", Compute(models.DBTypeMySQL, next, next)))
	assert.Equal(t,
		"account app@%: new account: 3 privileges granted",
		Summarize("app@%", Compute(models.DBTypeMySQL, nil, next)))
}

func TestStateFromRemote(t *testing.T) {
	acct := &models.RemoteAccount{
		Username: "scott",
		IsLocked: true,
		Permissions: &models.RemotePermissions{
			Categories: map[string]any{
				OracleRoles:            []string{"CONNECT", "RESOURCE", "CONNECT"},
				OracleSystemPrivileges: []string{"CREATE SESSION"},
				"bogus":                []string{"X"},
			},
			TypeSpecific: map[string]any{"account_status": "LOCKED"},
		},
	}

	st := StateFromRemote(models.DBTypeOracle, acct)

	assert.Equal(t, []string{"CONNECT", "RESOURCE"}, st.Categories[OracleRoles])
	assert.NotContains(t, st.Categories, "bogus")
	assert.Equal(t, map[string][]string{}, st.Categories[OracleTablespacePrivileges])
	assert.True(t, st.IsLocked)
}
