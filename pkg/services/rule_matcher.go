package services

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nyealovey/WhaleFall-sub003/pkg/metrics"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/policy"
)

// RuleMatch is the set of accounts one rule matched.
type RuleMatch struct {
	Rule     *models.ClassificationRule
	Accounts []models.AccountFacts
}

// MatchResult is the outcome of evaluating a rule set against accounts.
type MatchResult struct {
	Matches []RuleMatch
	// Skipped lists rules that are not evaluable DSL v4 documents.
	Skipped          []*models.ClassificationRule
	EvaluationErrors int
}

// RuleMatcher evaluates every rule against every account of the rule's
// db_type. Rules fan out over a bounded number of goroutines; each writes
// only its own result slot.
type RuleMatcher struct {
	evaluator   *policy.Evaluator
	parallelism int
	logger      *zap.Logger
}

// NewRuleMatcher creates a matcher. parallelism below 1 means sequential.
func NewRuleMatcher(evaluator *policy.Evaluator, parallelism int, logger *zap.Logger) *RuleMatcher {
	if parallelism < 1 {
		parallelism = 1
	}
	return &RuleMatcher{
		evaluator:   evaluator,
		parallelism: parallelism,
		logger:      logger.Named("rule-matcher"),
	}
}

// Match returns one RuleMatch per evaluable rule, in rule order.
func (m *RuleMatcher) Match(ctx context.Context, rules []*models.ClassificationRule, accounts []models.AccountFacts) (*MatchResult, error) {
	byType := make(map[models.DBType][]models.AccountFacts)
	for _, a := range accounts {
		byType[a.DBType] = append(byType[a.DBType], a)
	}

	result := &MatchResult{}
	var evaluable []*models.ClassificationRule
	for _, r := range rules {
		if !policy.IsV4(r.Expression) {
			m.logger.Warn("Skipping rule that is not a DSL v4 expression",
				zap.Int64("rule_id", r.ID),
				zap.String("rule_name", r.RuleName))
			result.Skipped = append(result.Skipped, r)
			continue
		}
		evaluable = append(evaluable, r)
	}

	slots := make([]RuleMatch, len(evaluable))
	var evalErrors atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, rule := range evaluable {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = RuleMatch{Rule: rule}

			expr, err := policy.Parse(rule.Expression)
			if err != nil {
				m.logger.Warn("Failed to parse rule", zap.Int64("rule_id", rule.ID), zap.Error(err))
				evalErrors.Add(1)
				return nil
			}
			for _, acct := range byType[rule.DBType] {
				res := m.evaluator.Evaluate(expr, &acct.Facts)
				if n := len(res.Errors); n > 0 {
					evalErrors.Add(int64(n))
				}
				if res.Matched {
					slots[i].Accounts = append(slots[i].Accounts, acct)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Matches = slots
	result.EvaluationErrors = int(evalErrors.Load())
	metrics.PolicyEvaluationErrorsTotal.Add(float64(result.EvaluationErrors))
	return result, nil
}
