package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// ClassificationSummary reports one assignment refresh.
type ClassificationSummary struct {
	RulesEvaluated int `json:"rules_evaluated"`
	Assigned       int `json:"assigned"`
	Updated        int `json:"updated"`
	Kept           int `json:"kept"`
	Removed        int `json:"removed"`
}

// ClassificationService keeps auto assignments in line with the active rules.
type ClassificationService interface {
	// RefreshAutoAssignments evaluates every active rule and rewrites the
	// auto assignments in one transaction. Manual assignments are untouched.
	RefreshAutoAssignments(ctx context.Context) (*ClassificationSummary, error)
}

type classificationService struct {
	tx              database.TxRunner
	classifications repositories.ClassificationRepository
	snapshots       repositories.PermissionSnapshotRepository
	assignments     repositories.AssignmentRepository
	matcher         *RuleMatcher
	now             func() time.Time
	logger          *zap.Logger
}

// NewClassificationService creates a new classification service.
func NewClassificationService(
	tx database.TxRunner,
	classifications repositories.ClassificationRepository,
	snapshots repositories.PermissionSnapshotRepository,
	assignments repositories.AssignmentRepository,
	matcher *RuleMatcher,
	logger *zap.Logger,
) ClassificationService {
	return &classificationService{
		tx:              tx,
		classifications: classifications,
		snapshots:       snapshots,
		assignments:     assignments,
		matcher:         matcher,
		now:             time.Now,
		logger:          logger.Named("classification"),
	}
}

var _ ClassificationService = (*classificationService)(nil)

type membership struct {
	accountID        int64
	classificationID int64
}

func (s *classificationService) RefreshAutoAssignments(ctx context.Context) (*ClassificationSummary, error) {
	rules, err := s.classifications.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	accounts, err := s.snapshots.ListCurrentFacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load account facts: %w", err)
	}
	matched, err := s.matcher.Match(ctx, rules, accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rules: %w", err)
	}

	// The first matching rule in rule order is recorded as the source.
	desired := make(map[membership]int64)
	var order []membership
	for _, m := range matched.Matches {
		for _, a := range m.Accounts {
			key := membership{a.AccountID, m.Rule.ClassificationID}
			if _, ok := desired[key]; ok {
				continue
			}
			desired[key] = m.Rule.ID
			order = append(order, key)
		}
	}

	summary := &ClassificationSummary{RulesEvaluated: len(matched.Matches)}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.assignments.ListActiveAuto(ctx)
		if err != nil {
			return err
		}
		existing := make(map[membership]*models.ClassificationAssignment, len(current))
		for _, a := range current {
			existing[membership{a.AccountID, a.ClassificationID}] = a
		}

		now := s.now()
		for _, key := range order {
			ruleID := desired[key]
			prev, ok := existing[key]
			switch {
			case !ok:
				summary.Assigned++
			case prev.RuleID != nil && *prev.RuleID == ruleID:
				summary.Kept++
				continue
			default:
				summary.Updated++
			}
			if err := s.assignments.UpsertAuto(ctx, &models.ClassificationAssignment{
				AccountID:        key.accountID,
				ClassificationID: key.classificationID,
				RuleID:           &ruleID,
				UpdatedAt:        now,
			}); err != nil {
				return err
			}
		}

		var stale []int64
		for key, a := range existing {
			if _, ok := desired[key]; !ok {
				stale = append(stale, a.ID)
			}
		}
		summary.Removed = len(stale)
		return s.assignments.DeactivateAuto(ctx, stale, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh auto assignments: %w", err)
	}

	s.logger.Info("Auto assignments refreshed",
		zap.Int("rules_evaluated", summary.RulesEvaluated),
		zap.Int("assigned", summary.Assigned),
		zap.Int("updated", summary.Updated),
		zap.Int("kept", summary.Kept),
		zap.Int("removed", summary.Removed))
	return summary, nil
}
