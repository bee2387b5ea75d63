// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Conversation turns processed, by resulting state and outcome",
		},
		[]string{"state", "outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "End-to-end duration of a conversation turn",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	QueryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_query_executions_total",
			Help: "Template executions against the warehouse",
		},
		[]string{"template_id", "error_code"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_query_duration_seconds",
			Help:    "Duration of template executions",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"template_id"},
	)

	ReferenceRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_reference_refresh_total",
			Help: "Entity reference set refreshes",
		},
		[]string{"status"},
	)

	ReferenceEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_reference_entities",
			Help: "Entities loaded per reference set",
		},
		[]string{"entity_type"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_active_sessions",
			Help: "Sessions held by the in-memory store",
		},
	)
)
