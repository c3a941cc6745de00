// Package metrics centralizes the prometheus bucket boundaries and
// label sets shared by the engine's instrumented components, mirroring
// cdc-sink's internal/util/metrics package (referenced as
// metrics.LatencyBuckets and metrics.TableLabels from
// internal/staging/stage/metrics.go).
package metrics

// LatencyBuckets are the histogram buckets for the engine's duration
// metrics; the query materialization-time histogram in
// internal/lifecycle is the one metric that uses them. The boundaries favor sub-millisecond and low-millisecond resolution,
// since the engine's own pipeline is synchronous in-process work.
var LatencyBuckets = []float64{
	.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

// TableLabels is the label set for per-table metrics; no metric in this
// module registers with it.
var TableLabels = []string{"table"}

// QueryLabels is the label set attached to per-query metrics: the
// query's hash (hash of the AST, or of name+args for a named query).
var QueryLabels = []string{"hash"}
