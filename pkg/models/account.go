package models

import "time"

// RemoteAccount is an account as reported by a managed instance.
// It is adapter output and never persisted directly.
type RemoteAccount struct {
	Username    string
	IsActive    bool
	IsSuperuser bool
	IsLocked    bool

	// Permissions is nil until the adapter has enriched the account.
	Permissions *RemotePermissions
}

// RemotePermissions is the vendor privilege payload of a remote account.
// Categories hold list-valued ([]string) or mapping-valued (map[string][]string)
// privilege buckets. TypeSpecific holds opaque vendor attributes.
type RemotePermissions struct {
	Categories   map[string]any
	TypeSpecific map[string]any
}

// Enriched reports whether privilege detail has been loaded.
func (a *RemoteAccount) Enriched() bool {
	return a.Permissions != nil
}

// AccountInventoryEntry records the presence of an account on an instance.
// Entries are never hard-deleted; absence deactivates them.
type AccountInventoryEntry struct {
	ID          int64      `json:"id"`
	InstanceID  int64      `json:"instance_id"`
	DBType      DBType     `json:"db_type"`
	Username    string     `json:"username"`
	IsActive    bool       `json:"is_active"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// AccountFacts pairs a current account with its normalized facts.
// It is the evaluation input for classification.
type AccountFacts struct {
	AccountID  int64
	InstanceID int64
	DBType     DBType
	Username   string
	Facts      PermissionFacts
}
