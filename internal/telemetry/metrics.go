// Package telemetry holds the prometheus collectors shared by the evaluation pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluations counts node evaluations by resulting status.
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otdops_evaluations_total",
		Help: "Node evaluations by resulting status",
	}, []string{"status"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "otdops_evaluation_duration_seconds",
		Help:    "Node evaluation duration in seconds, including task generation",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	RuleTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otdops_rule_triggers_total",
		Help: "Triggered rules by effective severity",
	}, []string{"severity"})

	StaleRules = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otdops_stale_rule_warnings_total",
		Help: "Rules skipped because their metric was missing or not numeric",
	})

	// TaskOutcomes counts task generator results: created, refreshed, replayed, rejected.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otdops_task_generation_total",
		Help: "Task generator outcomes",
	}, []string{"outcome"})

	AdvisoryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otdops_advisory_requests_total",
		Help: "Advisory requests by result",
	}, []string{"result"})

	AdvisoryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "otdops_advisory_duration_seconds",
		Help:    "Advisory provider latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	ScheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otdops_scheduled_runs_total",
		Help: "Scheduled evaluation sweeps by result",
	}, []string{"result"})
)
