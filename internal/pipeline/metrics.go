package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// processedTotal counts successful responses by direct solution source.
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_processed_total",
		Help: "Processed interactions by direct solution source",
	}, []string{"source"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foresight_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"stage"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_pipeline_failures_total",
		Help: "Pipeline failures by stage",
	}, []string{"stage"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_cache_lookups_total",
		Help: "Solution cache lookups by result",
	}, []string{"result"})

	windowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foresight_context_window_size",
		Help: "Entries in the recent-context window",
	})
)
