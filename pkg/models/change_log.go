package models

import "time"

// ChangeType classifies a difference detected during permission sync.
type ChangeType string

const (
	ChangeTypeAdd             ChangeType = "add"
	ChangeTypeModifyPrivilege ChangeType = "modify_privilege"
	ChangeTypeModifyOther     ChangeType = "modify_other"
	// ChangeTypeNone is never persisted.
	ChangeTypeNone ChangeType = "none"
)

// PrivilegeAction is the direction of a privilege diff entry.
type PrivilegeAction string

const (
	ActionGrant  PrivilegeAction = "GRANT"
	ActionRevoke PrivilegeAction = "REVOKE"
	ActionAlter  PrivilegeAction = "ALTER"
)

// PrivilegeDiffEntry describes one granted, revoked or altered privilege bucket.
type PrivilegeDiffEntry struct {
	Field       string          `json:"field"`
	Label       string          `json:"label"`
	Object      string          `json:"object"`
	Action      PrivilegeAction `json:"action"`
	Permissions []string        `json:"permissions"`
}

// OtherDiffEntry describes a change to a non-privilege field.
type OtherDiffEntry struct {
	Field       string `json:"field"`
	Label       string `json:"label"`
	Before      any    `json:"before"`
	After       any    `json:"after"`
	Description string `json:"description"`
}

// ChangeLogEntry is an append-only record of one account change.
type ChangeLogEntry struct {
	ID            int64                `json:"id"`
	InstanceID    int64                `json:"instance_id"`
	DBType        DBType               `json:"db_type"`
	Username      string               `json:"username"`
	ChangeType    ChangeType           `json:"change_type"`
	PrivilegeDiff []PrivilegeDiffEntry `json:"privilege_diff"`
	OtherDiff     []OtherDiffEntry     `json:"other_diff"`
	Summary       string               `json:"summary"`
	SessionID     string               `json:"session_id,omitempty"`
	ChangeTime    time.Time            `json:"change_time"`
}
