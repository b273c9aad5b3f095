package models

import (
	"encoding/json"
	"time"
)

// Assignment types.
const (
	AssignmentTypeAuto   = "auto"
	AssignmentTypeManual = "manual"
)

// Classification is a named risk category such as "privileged" or "sensitive".
type Classification struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	RiskLevel   int       `json:"risk_level"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ClassificationRule maps accounts of one db_type to a classification
// through a DSL v4 expression. Rules are versioned within a group; at most
// one version per group is in force at a time.
type ClassificationRule struct {
	ID               int64           `json:"id"`
	ClassificationID int64           `json:"classification_id"`
	DBType           DBType          `json:"db_type"`
	RuleName         string          `json:"rule_name"`
	Expression       json.RawMessage `json:"rule_expression"`
	IsActive         bool            `json:"is_active"`
	RuleGroupID      string          `json:"rule_group_id"`
	RuleVersion      int             `json:"rule_version"`
	SupersededAt     *time.Time      `json:"superseded_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// InForceAt reports whether this version was the live one at t.
func (r *ClassificationRule) InForceAt(t time.Time) bool {
	if r.CreatedAt.After(t) {
		return false
	}
	return r.SupersededAt == nil || r.SupersededAt.After(t)
}

// ClassificationAssignment links an account to a classification.
type ClassificationAssignment struct {
	ID               int64     `json:"id"`
	AccountID        int64     `json:"account_id"`
	ClassificationID int64     `json:"classification_id"`
	RuleID           *int64    `json:"rule_id,omitempty"`
	AssignmentType   string    `json:"assignment_type"`
	IsActive         bool      `json:"is_active"`
	AssignedAt       time.Time `json:"assigned_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
