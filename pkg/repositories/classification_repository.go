package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// ClassificationRepository provides access to classifications and their
// versioned rules.
type ClassificationRepository interface {
	ListClassifications(ctx context.Context) ([]*models.Classification, error)
	CreateClassification(ctx context.Context, c *models.Classification) error

	// ListActiveRules returns the live version of every active rule whose
	// classification is active.
	ListActiveRules(ctx context.Context) ([]*models.ClassificationRule, error)
	GetRule(ctx context.Context, id int64) (*models.ClassificationRule, error)
	// ListRuleVersions returns all versions of a group, oldest first.
	ListRuleVersions(ctx context.Context, groupID string) ([]*models.ClassificationRule, error)
	// CreateRule inserts a rule version and fills in ID and timestamps.
	CreateRule(ctx context.Context, rule *models.ClassificationRule) error
	// SupersedeRule closes a live version at the given time.
	SupersedeRule(ctx context.Context, id int64, at time.Time) error
	SetRuleActive(ctx context.Context, id int64, active bool) error
}

type classificationRepository struct{}

// NewClassificationRepository creates a new classification repository.
func NewClassificationRepository() ClassificationRepository {
	return &classificationRepository{}
}

var _ ClassificationRepository = (*classificationRepository)(nil)

func (r *classificationRepository) ListClassifications(ctx context.Context) ([]*models.Classification, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Query(ctx, `
		SELECT id, name, display_name, risk_level, is_active, created_at
		FROM classifications ORDER BY risk_level DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Classification
	for rows.Next() {
		var c models.Classification
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.RiskLevel, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classifications: %w", err)
	}
	return out, nil
}

func (r *classificationRepository) CreateClassification(ctx context.Context, c *models.Classification) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	err := scope.QueryRow(ctx, `
		INSERT INTO classifications (name, display_name, risk_level, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.Name, c.DisplayName, c.RiskLevel, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert classification %q: %w", c.Name, err)
	}
	return nil
}

const ruleColumns = `
	r.id, r.classification_id, r.db_type, r.rule_name, r.rule_expression, r.is_active,
	r.rule_group_id, r.rule_version, r.superseded_at, r.created_at, r.updated_at`

func (r *classificationRepository) ListActiveRules(ctx context.Context) ([]*models.ClassificationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM classification_rules r
		JOIN classifications c ON c.id = r.classification_id
		WHERE r.is_active AND r.superseded_at IS NULL AND c.is_active
		ORDER BY r.id`
	return r.queryRules(ctx, query)
}

func (r *classificationRepository) ListRuleVersions(ctx context.Context, groupID string) ([]*models.ClassificationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM classification_rules r
		WHERE r.rule_group_id = $1
		ORDER BY r.rule_version`
	return r.queryRules(ctx, query, groupID)
}

func (r *classificationRepository) GetRule(ctx context.Context, id int64) (*models.ClassificationRule, error) {
	rules, err := r.queryRules(ctx, `SELECT`+ruleColumns+` FROM classification_rules r WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return rules[0], nil
}

func (r *classificationRepository) queryRules(ctx context.Context, query string, args ...any) ([]*models.ClassificationRule, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*models.ClassificationRule
	for rows.Next() {
		var (
			rule   models.ClassificationRule
			dbType string
		)
		if err := rows.Scan(&rule.ID, &rule.ClassificationID, &dbType, &rule.RuleName, &rule.Expression, &rule.IsActive,
			&rule.RuleGroupID, &rule.RuleVersion, &rule.SupersededAt, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.DBType = models.DBType(dbType)
		out = append(out, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return out, nil
}

func (r *classificationRepository) CreateRule(ctx context.Context, rule *models.ClassificationRule) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		INSERT INTO classification_rules (
			classification_id, db_type, rule_name, rule_expression, is_active,
			rule_group_id, rule_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, updated_at`

	now := time.Now()
	if !rule.CreatedAt.IsZero() {
		now = rule.CreatedAt
	}
	err := scope.QueryRow(ctx, query,
		rule.ClassificationID, string(rule.DBType), rule.RuleName, []byte(rule.Expression), rule.IsActive,
		rule.RuleGroupID, rule.RuleVersion, now,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule %q: %w", rule.RuleName, err)
	}
	return nil
}

func (r *classificationRepository) SupersedeRule(ctx context.Context, id int64, at time.Time) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	var closed int64
	err := scope.QueryRow(ctx, `
		UPDATE classification_rules
		SET superseded_at = $2, is_active = FALSE, updated_at = $2
		WHERE id = $1 AND superseded_at IS NULL
		RETURNING id`, id, at).Scan(&closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("rule %d is not the live version: %w", id, apperrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to supersede rule %d: %w", id, err)
	}
	return nil
}

func (r *classificationRepository) SetRuleActive(ctx context.Context, id int64, active bool) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	tag, err := scope.Exec(ctx, `
		UPDATE classification_rules SET is_active = $2, updated_at = NOW()
		WHERE id = $1 AND superseded_at IS NULL`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
