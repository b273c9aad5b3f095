package models

import "time"

// Instance is a managed database server whose accounts are audited.
type Instance struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	DBType       DBType      `json:"db_type"`
	Host         string      `json:"host"`
	Port         int         `json:"port"`
	DatabaseName string      `json:"database_name,omitempty"` // default database / service name
	IsActive     bool        `json:"is_active"`
	Credential   *Credential `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	DeletedAt    *time.Time  `json:"deleted_at,omitempty"`
}

// Credential holds the login used to inspect an instance.
// Password is plaintext only in memory; it is stored encrypted.
type Credential struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// IsDeleted reports whether the instance has been soft-deleted.
func (i *Instance) IsDeleted() bool {
	return i.DeletedAt != nil
}
