package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/metrics"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// StatDateLayout is the textual form of a stat date.
const StatDateLayout = "2006-01-02"

// NormalizeStatDate keeps the calendar day of t and drops the rest, so
// that the same day always maps to the same key.
func NormalizeStatDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current stat date in the operator's time zone.
func Today(loc *time.Location) time.Time {
	return NormalizeStatDate(time.Now().In(loc))
}

// AggregationSummary reports one aggregation run.
type AggregationSummary struct {
	StatDate           string `json:"stat_date"`
	RulesEvaluated     int    `json:"rules_evaluated"`
	RulesSkipped       int    `json:"rules_skipped"`
	AccountsEvaluated  int    `json:"accounts_evaluated"`
	RuleRows           int    `json:"rule_rows"`
	ClassificationRows int    `json:"classification_rows"`
	EvaluationErrors   int    `json:"evaluation_errors"`
}

// DailyAggregationService computes the per-day rule and classification
// match statistics.
type DailyAggregationService interface {
	// Aggregate recomputes and upserts the statistics of statDate. Running it
	// twice for the same day overwrites the first result.
	Aggregate(ctx context.Context, statDate time.Time) (*AggregationSummary, error)
}

type dailyAggregationService struct {
	tx              database.TxRunner
	classifications repositories.ClassificationRepository
	snapshots       repositories.PermissionSnapshotRepository
	stats           repositories.DailyStatsRepository
	matcher         *RuleMatcher
	now             func() time.Time
	logger          *zap.Logger
}

// NewDailyAggregationService creates a new daily aggregation service.
func NewDailyAggregationService(
	tx database.TxRunner,
	classifications repositories.ClassificationRepository,
	snapshots repositories.PermissionSnapshotRepository,
	stats repositories.DailyStatsRepository,
	matcher *RuleMatcher,
	logger *zap.Logger,
) DailyAggregationService {
	return &dailyAggregationService{
		tx:              tx,
		classifications: classifications,
		snapshots:       snapshots,
		stats:           stats,
		matcher:         matcher,
		now:             time.Now,
		logger:          logger.Named("daily-aggregation"),
	}
}

var _ DailyAggregationService = (*dailyAggregationService)(nil)

func (s *dailyAggregationService) Aggregate(ctx context.Context, statDate time.Time) (*AggregationSummary, error) {
	start := time.Now()
	summary, err := s.aggregate(ctx, NormalizeStatDate(statDate))
	metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AggregationRunsTotal.WithLabelValues("success").Inc()
	return summary, nil
}

func (s *dailyAggregationService) aggregate(ctx context.Context, statDate time.Time) (*AggregationSummary, error) {
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

	ruleStats, classStats := ComputeDailyStats(statDate, accounts, matched.Matches, s.now())

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.stats.UpsertRuleStats(ctx, ruleStats); err != nil {
			return err
		}
		return s.stats.UpsertClassificationStats(ctx, classStats)
	})
	if err != nil {
		return nil, &apperrors.AggregationUpsertError{StatDate: statDate.Format(StatDateLayout), Cause: err}
	}

	summary := &AggregationSummary{
		StatDate:           statDate.Format(StatDateLayout),
		RulesEvaluated:     len(matched.Matches),
		RulesSkipped:       len(matched.Skipped),
		AccountsEvaluated:  len(accounts),
		RuleRows:           len(ruleStats),
		ClassificationRows: len(classStats),
		EvaluationErrors:   matched.EvaluationErrors,
	}
	s.logger.Info("Daily statistics upserted",
		zap.String("stat_date", summary.StatDate),
		zap.Int("rules_evaluated", summary.RulesEvaluated),
		zap.Int("rules_skipped", summary.RulesSkipped),
		zap.Int("accounts", summary.AccountsEvaluated),
		zap.Int("rule_rows", summary.RuleRows),
		zap.Int("classification_rows", summary.ClassificationRows),
		zap.Int("evaluation_errors", summary.EvaluationErrors))
	return summary, nil
}

type classKey struct {
	classificationID int64
	dbType           models.DBType
	instanceID       int64
}

// ComputeDailyStats turns rule matches into statistic rows. Only instances
// that have accounts of a rule's db_type get a row for that rule, with zero
// when nothing matched. Classification counts are distinct accounts across
// all rules of the classification.
func ComputeDailyStats(
	statDate time.Time,
	accounts []models.AccountFacts,
	matches []RuleMatch,
	computedAt time.Time,
) ([]models.DailyRuleMatchStat, []models.DailyClassificationMatchStat) {
	instancesByType := make(map[models.DBType][]int64)
	seenInstance := make(map[models.DBType]map[int64]struct{})
	for _, a := range accounts {
		set, ok := seenInstance[a.DBType]
		if !ok {
			set = make(map[int64]struct{})
			seenInstance[a.DBType] = set
		}
		if _, ok := set[a.InstanceID]; !ok {
			set[a.InstanceID] = struct{}{}
			instancesByType[a.DBType] = append(instancesByType[a.DBType], a.InstanceID)
		}
	}
	for _, ids := range instancesByType {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	var ruleStats []models.DailyRuleMatchStat
	distinct := make(map[classKey]map[int64]struct{})
	var classOrder []classKey

	for _, m := range matches {
		rule := m.Rule
		perInstance := make(map[int64]int)
		for _, a := range m.Accounts {
			perInstance[a.InstanceID]++
		}

		for _, instanceID := range instancesByType[rule.DBType] {
			ruleStats = append(ruleStats, models.DailyRuleMatchStat{
				StatDate:             statDate,
				RuleID:               rule.ID,
				ClassificationID:     rule.ClassificationID,
				DBType:               rule.DBType,
				InstanceID:           instanceID,
				MatchedAccountsCount: perInstance[instanceID],
				ComputedAt:           computedAt,
			})

			key := classKey{rule.ClassificationID, rule.DBType, instanceID}
			if _, ok := distinct[key]; !ok {
				distinct[key] = make(map[int64]struct{})
				classOrder = append(classOrder, key)
			}
		}
		for _, a := range m.Accounts {
			distinct[classKey{rule.ClassificationID, rule.DBType, a.InstanceID}][a.AccountID] = struct{}{}
		}
	}

	classStats := make([]models.DailyClassificationMatchStat, 0, len(classOrder))
	for _, key := range classOrder {
		classStats = append(classStats, models.DailyClassificationMatchStat{
			StatDate:                     statDate,
			ClassificationID:             key.classificationID,
			DBType:                       key.dbType,
			InstanceID:                   key.instanceID,
			MatchedAccountsDistinctCount: len(distinct[key]),
			ComputedAt:                   computedAt,
		})
	}
	return ruleStats, classStats
}
