package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/policy"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// CreateRuleRequest describes a new classification rule.
type CreateRuleRequest struct {
	ClassificationID int64           `json:"classification_id"`
	DBType           string          `json:"db_type"`
	RuleName         string          `json:"rule_name"`
	Expression       json.RawMessage `json:"rule_expression"`
}

// RuleService authors versioned classification rules. Expressions are
// validated before anything is written.
type RuleService interface {
	CreateRule(ctx context.Context, req *CreateRuleRequest) (*models.ClassificationRule, error)
	// UpdateRuleExpression retires the live version of a rule and stores
	// the new expression as the next version of the same group. The new
	// version keeps the active flag of the one it replaces.
	UpdateRuleExpression(ctx context.Context, ruleID int64, expr json.RawMessage) (*models.ClassificationRule, error)
	DeactivateRule(ctx context.Context, ruleID int64) error
	// GetRuleAsOf returns the version of a rule group that was in force at t.
	GetRuleAsOf(ctx context.Context, groupID string, at time.Time) (*models.ClassificationRule, error)
}

type ruleService struct {
	tx     database.TxRunner
	repo   repositories.ClassificationRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewRuleService creates a new rule service.
func NewRuleService(tx database.TxRunner, repo repositories.ClassificationRepository, logger *zap.Logger) RuleService {
	return &ruleService{
		tx:     tx,
		repo:   repo,
		now:    time.Now,
		logger: logger.Named("rules"),
	}
}

var _ RuleService = (*ruleService)(nil)

func (s *ruleService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*models.ClassificationRule, error) {
	dbType, err := models.ParseDBType(req.DBType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnsupportedDBType, err)
	}
	name := strings.TrimSpace(req.RuleName)
	if name == "" {
		return nil, &apperrors.ValidationError{Problems: []string{"rule_name: is required"}}
	}
	if err := policy.Validate(req.Expression); err != nil {
		return nil, err
	}

	rule := &models.ClassificationRule{
		ClassificationID: req.ClassificationID,
		DBType:           dbType,
		RuleName:         name,
		Expression:       req.Expression,
		IsActive:         true,
		RuleGroupID:      uuid.NewString(),
		RuleVersion:      1,
		CreatedAt:        s.now(),
	}
	if err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.repo.CreateRule(ctx, rule)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Rule created",
		zap.Int64("rule_id", rule.ID),
		zap.String("rule_group_id", rule.RuleGroupID),
		zap.String("db_type", string(rule.DBType)))
	return rule, nil
}

func (s *ruleService) UpdateRuleExpression(ctx context.Context, ruleID int64, expr json.RawMessage) (*models.ClassificationRule, error) {
	if err := policy.Validate(expr); err != nil {
		return nil, err
	}

	var next *models.ClassificationRule
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if current.SupersededAt != nil {
			return fmt.Errorf("rule %d was superseded: %w", ruleID, apperrors.ErrConflict)
		}

		now := s.now()
		if err := s.repo.SupersedeRule(ctx, current.ID, now); err != nil {
			return err
		}
		next = &models.ClassificationRule{
			ClassificationID: current.ClassificationID,
			DBType:           current.DBType,
			RuleName:         current.RuleName,
			Expression:       expr,
			IsActive:         current.IsActive,
			RuleGroupID:      current.RuleGroupID,
			RuleVersion:      current.RuleVersion + 1,
			CreatedAt:        now,
		}
		return s.repo.CreateRule(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Rule expression updated",
		zap.Int64("previous_rule_id", ruleID),
		zap.Int64("rule_id", next.ID),
		zap.Int("rule_version", next.RuleVersion))
	return next, nil
}

func (s *ruleService) DeactivateRule(ctx context.Context, ruleID int64) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.repo.SetRuleActive(ctx, ruleID, false)
	})
}

func (s *ruleService) GetRuleAsOf(ctx context.Context, groupID string, at time.Time) (*models.ClassificationRule, error) {
	versions, err := s.repo.ListRuleVersions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.InForceAt(at) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("rule group %s at %s: %w", groupID, at.Format(time.RFC3339), apperrors.ErrNotFound)
}
