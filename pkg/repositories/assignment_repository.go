package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// AssignmentRepository materializes current classification membership.
type AssignmentRepository interface {
	// ListActiveAuto returns the active rule-produced assignments.
	ListActiveAuto(ctx context.Context) ([]*models.ClassificationAssignment, error)
	// UpsertAuto activates (or creates) the auto assignment of an account to a classification.
	UpsertAuto(ctx context.Context, a *models.ClassificationAssignment) error
	// DeactivateAuto turns off auto assignments; manual assignments are never matched.
	DeactivateAuto(ctx context.Context, ids []int64, at time.Time) error
}

type assignmentRepository struct{}

// NewAssignmentRepository creates a new assignment repository.
func NewAssignmentRepository() AssignmentRepository {
	return &assignmentRepository{}
}

var _ AssignmentRepository = (*assignmentRepository)(nil)

func (r *assignmentRepository) ListActiveAuto(ctx context.Context) ([]*models.ClassificationAssignment, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Query(ctx, `
		SELECT id, account_id, classification_id, rule_id, assignment_type, is_active, assigned_at, updated_at
		FROM classification_assignments
		WHERE assignment_type = $1 AND is_active`, models.AssignmentTypeAuto)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.ClassificationAssignment
	for rows.Next() {
		var a models.ClassificationAssignment
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ClassificationID, &a.RuleID, &a.AssignmentType,
			&a.IsActive, &a.AssignedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return out, nil
}

func (r *assignmentRepository) UpsertAuto(ctx context.Context, a *models.ClassificationAssignment) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		INSERT INTO classification_assignments (
			account_id, classification_id, rule_id, assignment_type, is_active, assigned_at, updated_at
		) VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (account_id, classification_id, assignment_type) DO UPDATE SET
			rule_id = EXCLUDED.rule_id,
			is_active = TRUE,
			assigned_at = CASE WHEN classification_assignments.is_active
				THEN classification_assignments.assigned_at ELSE EXCLUDED.assigned_at END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, assigned_at`

	a.AssignmentType = models.AssignmentTypeAuto
	a.IsActive = true
	err := scope.QueryRow(ctx, query,
		a.AccountID, a.ClassificationID, a.RuleID, a.AssignmentType, a.UpdatedAt,
	).Scan(&a.ID, &a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment of account %d: %w", a.AccountID, err)
	}
	return nil
}

func (r *assignmentRepository) DeactivateAuto(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	_, err := scope.Exec(ctx, `
		UPDATE classification_assignments SET is_active = FALSE, updated_at = $2
		WHERE id = ANY($1) AND assignment_type = $3`, ids, at, models.AssignmentTypeAuto)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignments: %w", err)
	}
	return nil
}
