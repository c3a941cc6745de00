package lifecycle

import (
	"github.com/rocicorp/zero-ivm/internal/util/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	materializeDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lifecycle_materialize_duration_seconds",
		Help:    "the length of time it took to build a pipeline and initial view for a query",
		Buckets: metrics.LatencyBuckets,
	}, metrics.QueryLabels)

	activeQueries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_active_queries",
		Help: "the number of distinct query hashes currently materialized",
	})

	slowMaterializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_slow_materializations_total",
		Help: "the number of materializations that exceeded the slow-materialization threshold",
	}, metrics.QueryLabels)
)
