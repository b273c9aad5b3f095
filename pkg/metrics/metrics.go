// Package metrics holds the Prometheus instruments of the sync and
// classification engine. All collectors are registered with the global
// registry; `serve` exposes them on the configured metrics path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "whalefall"

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Instance synchronizations by engine and result (success, locked, connection_error, inventory_error, permission_error, error).",
		}, []string{"db_type", "result"})

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of one instance synchronization.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"db_type"})

	InventoryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_transitions_total",
			Help:      "Account inventory transitions (created, reactivated, deactivated).",
		}, []string{"db_type", "transition"})

	EnrichFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_failures_total",
			Help:      "Accounts whose privilege detail could not be read during a sync.",
		}, []string{"db_type"})

	ChangeLogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_log_entries_total",
			Help:      "Account change log entries written, by change type.",
		}, []string{"db_type", "change_type"})

	PolicyEvaluationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_evaluation_errors_total",
			Help:      "Rule expression nodes that failed closed during evaluation.",
		})

	AggregationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_runs_total",
			Help:      "Daily aggregation runs by result.",
		}, []string{"result"})

	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Wall time of one daily aggregation run.",
			Buckets:   prometheus.DefBuckets,
		})
)

func init() {
	prometheus.MustRegister(
		SyncRunsTotal,
		SyncDuration,
		InventoryTransitionsTotal,
		EnrichFailuresTotal,
		ChangeLogEntriesTotal,
		PolicyEvaluationErrorsTotal,
		AggregationRunsTotal,
		AggregationDuration,
	)
}
