package models

import "time"

// DailyRuleMatchStat is the number of accounts on one instance matched by one rule on a day.
// Unique on (StatDate, RuleID, DBType, InstanceID).
type DailyRuleMatchStat struct {
	StatDate             time.Time `json:"stat_date"`
	RuleID               int64     `json:"rule_id"`
	ClassificationID     int64     `json:"classification_id"`
	DBType               DBType    `json:"db_type"`
	InstanceID           int64     `json:"instance_id"`
	MatchedAccountsCount int       `json:"matched_accounts_count"`
	ComputedAt           time.Time `json:"computed_at"`
}

// DailyClassificationMatchStat is the distinct number of accounts on one instance
// carrying a classification on a day, de-duplicated across the classification's rules.
// Unique on (StatDate, ClassificationID, DBType, InstanceID).
type DailyClassificationMatchStat struct {
	StatDate                     time.Time `json:"stat_date"`
	ClassificationID             int64     `json:"classification_id"`
	DBType                       DBType    `json:"db_type"`
	InstanceID                   int64     `json:"instance_id"`
	MatchedAccountsDistinctCount int       `json:"matched_accounts_distinct_count"`
	ComputedAt                   time.Time `json:"computed_at"`
}
