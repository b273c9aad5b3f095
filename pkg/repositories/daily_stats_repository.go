package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// DailyStatsRepository stores the daily classification statistics.
// Writes are upserts on the natural key: re-running a day overwrites it.
type DailyStatsRepository interface {
	UpsertRuleStats(ctx context.Context, stats []models.DailyRuleMatchStat) error
	UpsertClassificationStats(ctx context.Context, stats []models.DailyClassificationMatchStat) error
	ListRuleStats(ctx context.Context, statDate time.Time) ([]models.DailyRuleMatchStat, error)
	ListClassificationStats(ctx context.Context, statDate time.Time) ([]models.DailyClassificationMatchStat, error)
}

type dailyStatsRepository struct{}

// NewDailyStatsRepository creates a new daily stats repository.
func NewDailyStatsRepository() DailyStatsRepository {
	return &dailyStatsRepository{}
}

var _ DailyStatsRepository = (*dailyStatsRepository)(nil)

func (r *dailyStatsRepository) UpsertRuleStats(ctx context.Context, stats []models.DailyRuleMatchStat) error {
	if len(stats) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	n := len(stats)
	dates := make([]time.Time, n)
	ruleIDs := make([]int64, n)
	classIDs := make([]int64, n)
	dbTypes := make([]string, n)
	instanceIDs := make([]int64, n)
	counts := make([]int32, n)
	computed := make([]time.Time, n)
	for i, s := range stats {
		dates[i], ruleIDs[i], classIDs[i] = s.StatDate, s.RuleID, s.ClassificationID
		dbTypes[i], instanceIDs[i] = string(s.DBType), s.InstanceID
		counts[i], computed[i] = int32(s.MatchedAccountsCount), s.ComputedAt
	}

	query := `
		INSERT INTO daily_rule_match_stats (
			stat_date, rule_id, classification_id, db_type, instance_id, matched_accounts_count, computed_at
		)
		SELECT * FROM unnest($1::date[], $2::bigint[], $3::bigint[], $4::text[], $5::bigint[], $6::int[], $7::timestamptz[])
		ON CONFLICT (stat_date, rule_id, db_type, instance_id) DO UPDATE SET
			classification_id = EXCLUDED.classification_id,
			matched_accounts_count = EXCLUDED.matched_accounts_count,
			computed_at = EXCLUDED.computed_at`

	if _, err := scope.Exec(ctx, query, dates, ruleIDs, classIDs, dbTypes, instanceIDs, counts, computed); err != nil {
		return fmt.Errorf("failed to upsert rule stats: %w", err)
	}
	return nil
}

func (r *dailyStatsRepository) UpsertClassificationStats(ctx context.Context, stats []models.DailyClassificationMatchStat) error {
	if len(stats) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	n := len(stats)
	dates := make([]time.Time, n)
	classIDs := make([]int64, n)
	dbTypes := make([]string, n)
	instanceIDs := make([]int64, n)
	counts := make([]int32, n)
	computed := make([]time.Time, n)
	for i, s := range stats {
		dates[i], classIDs[i] = s.StatDate, s.ClassificationID
		dbTypes[i], instanceIDs[i] = string(s.DBType), s.InstanceID
		counts[i], computed[i] = int32(s.MatchedAccountsDistinctCount), s.ComputedAt
	}

	query := `
		INSERT INTO daily_classification_match_stats (
			stat_date, classification_id, db_type, instance_id, matched_accounts_distinct_count, computed_at
		)
		SELECT * FROM unnest($1::date[], $2::bigint[], $3::text[], $4::bigint[], $5::int[], $6::timestamptz[])
		ON CONFLICT (stat_date, classification_id, db_type, instance_id) DO UPDATE SET
			matched_accounts_distinct_count = EXCLUDED.matched_accounts_distinct_count,
			computed_at = EXCLUDED.computed_at`

	if _, err := scope.Exec(ctx, query, dates, classIDs, dbTypes, instanceIDs, counts, computed); err != nil {
		return fmt.Errorf("failed to upsert classification stats: %w", err)
	}
	return nil
}

func (r *dailyStatsRepository) ListRuleStats(ctx context.Context, statDate time.Time) ([]models.DailyRuleMatchStat, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Query(ctx, `
		SELECT stat_date, rule_id, classification_id, db_type, instance_id, matched_accounts_count, computed_at
		FROM daily_rule_match_stats
		WHERE stat_date = $1
		ORDER BY rule_id, db_type, instance_id`, statDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule stats: %w", err)
	}
	defer rows.Close()

	var out []models.DailyRuleMatchStat
	for rows.Next() {
		var s models.DailyRuleMatchStat
		var dbType string
		if err := rows.Scan(&s.StatDate, &s.RuleID, &s.ClassificationID, &dbType, &s.InstanceID,
			&s.MatchedAccountsCount, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule stat: %w", err)
		}
		s.DBType = models.DBType(dbType)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule stats: %w", err)
	}
	return out, nil
}

func (r *dailyStatsRepository) ListClassificationStats(ctx context.Context, statDate time.Time) ([]models.DailyClassificationMatchStat, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Query(ctx, `
		SELECT stat_date, classification_id, db_type, instance_id, matched_accounts_distinct_count, computed_at
		FROM daily_classification_match_stats
		WHERE stat_date = $1
		ORDER BY classification_id, db_type, instance_id`, statDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list classification stats: %w", err)
	}
	defer rows.Close()

	var out []models.DailyClassificationMatchStat
	for rows.Next() {
		var s models.DailyClassificationMatchStat
		var dbType string
		if err := rows.Scan(&s.StatDate, &s.ClassificationID, &dbType, &s.InstanceID,
			&s.MatchedAccountsDistinctCount, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan classification stat: %w", err)
		}
		s.DBType = models.DBType(dbType)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classification stats: %w", err)
	}
	return out, nil
}
