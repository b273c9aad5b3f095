package models

import (
	"slices"
	"strings"
	"time"
)

// Capability names carried in PermissionFacts.Capabilities.
const (
	CapabilitySuperuser   = "SUPERUSER"
	CapabilityLocked      = "LOCKED"
	CapabilityGrantAdmin  = "GRANT_ADMIN"
	CapabilityCreateRole  = "CREATE_ROLE"
	CapabilityCreateDB    = "CREATE_DB"
	CapabilityReplication = "REPLICATION"
	CapabilityBypassRLS   = "BYPASS_RLS"
)

// PermissionSnapshot is the single live privilege state of one account.
// It is replaced on every sync; history lives in the change log.
type PermissionSnapshot struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	InstanceID     int64           `json:"instance_id"`
	DBType         DBType          `json:"db_type"`
	Username       string          `json:"username"`
	Categories     map[string]any  `json:"categories"`
	TypeSpecific   map[string]any  `json:"type_specific"`
	Facts          PermissionFacts `json:"facts"`
	Version        int             `json:"version"`
	LastChangeType ChangeType      `json:"last_change_type,omitempty"`
	LastChangeTime *time.Time      `json:"last_change_time,omitempty"`
	LastSyncTime   time.Time       `json:"last_sync_time"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsSuperuser is derived from the capability set.
func (s *PermissionSnapshot) IsSuperuser() bool {
	return s.Facts.HasCapability(CapabilitySuperuser)
}

// IsLocked is derived from the capability set.
func (s *PermissionSnapshot) IsLocked() bool {
	return s.Facts.HasCapability(CapabilityLocked)
}

// PermissionFacts is the engine-agnostic view of an account's privileges.
type PermissionFacts struct {
	DBType       DBType          `json:"db_type"`
	Capabilities []string        `json:"capabilities"`
	Roles        []string        `json:"roles"`
	Privileges   PrivilegeScopes `json:"privileges"`
}

// PrivilegeScopes buckets privileges by scope. DatabasePrivileges and
// DatabasePermissions are older bucket names still found in stored facts.
type PrivilegeScopes struct {
	Global     []string            `json:"global,omitempty"`
	Server     []string            `json:"server,omitempty"`
	System     []string            `json:"system,omitempty"`
	Database   map[string][]string `json:"database,omitempty"`
	Tablespace map[string][]string `json:"tablespace,omitempty"`

	DatabasePrivileges  map[string][]string `json:"database_privileges,omitempty"`
	DatabasePermissions map[string][]string `json:"database_permissions,omitempty"`
}

// HasCapability reports whether name is in the capability set (case-insensitive).
func (f *PermissionFacts) HasCapability(name string) bool {
	return slices.ContainsFunc(f.Capabilities, func(c string) bool {
		return strings.EqualFold(c, name)
	})
}

// HasRole reports whether name is one of the account's roles, ignoring case.
func (f *PermissionFacts) HasRole(name string) bool {
	return slices.ContainsFunc(f.Roles, func(r string) bool {
		return strings.EqualFold(r, name)
	})
}
