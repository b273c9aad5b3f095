package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionError reports a failed connect or query against a managed instance.
type ConnectionError struct {
	InstanceID int64
	DBType     string
	Operation  string
	Cause      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s failed on instance %d: %v", e.DBType, e.Operation, e.InstanceID, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// IsRetryable defers to the underlying cause.
func (e *ConnectionError) IsRetryable() bool {
	var r interface{ IsRetryable() bool }
	if errors.As(e.Cause, &r) {
		return r.IsRetryable()
	}
	return false
}

// InventoryCommitError means the inventory transaction could not be committed.
// No inventory change from the run is visible.
type InventoryCommitError struct {
	InstanceID int64
	Cause      error
}

func (e *InventoryCommitError) Error() string {
	return fmt.Sprintf("inventory commit failed for instance %d: %v", e.InstanceID, e.Cause)
}

func (e *InventoryCommitError) Unwrap() error { return e.Cause }

// AccountFailure is one account that could not be processed during permission sync.
type AccountFailure struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// PermissionSyncError means at least one account failed during the permission
// phase. The phase transaction was rolled back. Summary carries the per-account
// counts gathered before rollback.
type PermissionSyncError struct {
	InstanceID int64
	Failures   []AccountFailure
	Summary    any
	Cause      error
}

func (e *PermissionSyncError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("permission sync failed for instance %d: %v", e.InstanceID, e.Cause)
	}
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Username)
	}
	return fmt.Sprintf("permission sync failed for instance %d: %d account(s) failed: %s",
		e.InstanceID, len(e.Failures), strings.Join(names, ", "))
}

func (e *PermissionSyncError) Unwrap() error { return e.Cause }

// AggregationUpsertError means the daily statistics write failed; neither
// per-rule nor per-classification rows from the run were committed.
type AggregationUpsertError struct {
	StatDate string
	Cause    error
}

func (e *AggregationUpsertError) Error() string {
	return fmt.Sprintf("daily aggregation upsert failed for %s: %v", e.StatDate, e.Cause)
}

func (e *AggregationUpsertError) Unwrap() error { return e.Cause }

// PolicyEvaluationError is recorded (never raised) by the rule evaluator when
// a node fails. The node evaluates to false.
type PolicyEvaluationError struct {
	Path   string
	Reason string
}

func (e *PolicyEvaluationError) Error() string {
	if e.Path == "" {
		return "policy evaluation: " + e.Reason
	}
	return fmt.Sprintf("policy evaluation at %s: %s", e.Path, e.Reason)
}

// ValidationError lists every problem found in a rule expression.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidExpression, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidExpression
}
