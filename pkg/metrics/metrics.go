package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_pipeline_runs_total",
			Help: "Narrative graph pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrative_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.005, 0.02, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	NERFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_ner_failures_total",
		Help: "Local entity extraction failures that degraded to no candidates",
	})

	LLMAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_llm_attempts_total",
			Help: "Structuring pass attempts by outcome",
		},
		[]string{"outcome"},
	)

	DroppedRelationships = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_dropped_relationships_total",
			Help: "Relationships discarded during resolution",
		},
		[]string{"reason"},
	)

	// Graph metrics
	GraphEntities = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "narrative_graph_entities",
		Help:    "Entities per built graph",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	LayoutIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "narrative_layout_iterations",
		Help:    "Force-directed iterations run per component",
		Buckets: []float64{1, 10, 50, 100, 200, 300, 500},
	})

	// Ledger metrics
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_ledger_operations_total",
			Help: "Credit ledger operations by kind and feature",
		},
		[]string{"op", "feature"},
	)
)

// ObserveStage records the time elapsed since start for a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
