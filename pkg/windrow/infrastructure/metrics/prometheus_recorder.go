// Package metrics provides the production implementations of the
// engine's metric recorder and tracer.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	coremetrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the
// metrics.Recorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run metrics
	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	// Chunk metrics
	chunkDurationSeconds *prometheus.HistogramVec
	chunkCommitCounter   *prometheus.CounterVec

	// Item metrics
	itemReadCounter   *prometheus.CounterVec
	itemWriteCounter  *prometheus.CounterVec
	itemFilterCounter *prometheus.CounterVec
	itemSkipCounter   *prometheus.CounterVec
	itemRetryCounter  *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with its own
// registry. The namespace prefixes every metric name.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go runtime and process metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of run execution attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"work_unit", "status"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_status_total",
			Help:      "Total run execution attempts by status.",
		}, []string{"work_unit", "status"}),
		chunkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Duration of committed chunks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"work_unit", "step"}),
		chunkCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_commit_total",
			Help:      "Total chunk commits by step.",
		}, []string{"work_unit", "step"}),
		itemReadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_read_total",
			Help:      "Total items pulled from sources.",
		}, []string{"work_unit", "step"}),
		itemWriteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_write_total",
			Help:      "Total items committed to sinks.",
		}, []string{"work_unit", "step"}),
		itemFilterCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_filter_total",
			Help:      "Total items dropped by transforms.",
		}, []string{"work_unit", "step"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_skip_total",
			Help:      "Total items skipped by step and failure category.",
		}, []string{"work_unit", "step", "category"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_retry_total",
			Help:      "Total retries by step and failure category.",
		}, []string{"work_unit", "step", "category"}),
	}

	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.chunkDurationSeconds)
	registry.MustRegister(r.chunkCommitCounter)
	registry.MustRegister(r.itemReadCounter)
	registry.MustRegister(r.itemWriteCounter)
	registry.MustRegister(r.itemFilterCounter)
	registry.MustRegister(r.itemSkipCounter)
	registry.MustRegister(r.itemRetryCounter)

	return r
}

// Registry returns the Prometheus registry for exposition handlers.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart records the start of an execution attempt.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, record *model.ExecutionRecord) {
	r.runStatusCounter.WithLabelValues(record.WorkUnit, string(record.Status)).Inc()
	logger.Debugf("Metrics: run '%s' started.", record.WorkUnit)
}

// RecordRunEnd records the terminal status and duration of an attempt.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, record *model.ExecutionRecord) {
	r.runStatusCounter.WithLabelValues(record.WorkUnit, string(record.Status)).Inc()
	if record.EndTime == nil {
		return
	}
	duration := record.EndTime.Sub(record.StartTime).Seconds()
	r.runDurationSeconds.WithLabelValues(record.WorkUnit, string(record.Status)).Observe(duration)
	logger.Debugf("Metrics: run '%s' ended with %s. Duration: %.3fs", record.WorkUnit, record.Status, duration)
}

// RecordChunkCommit records a committed chunk of count items.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, workUnit, step string, count int, elapsed time.Duration) {
	r.chunkCommitCounter.WithLabelValues(workUnit, step).Inc()
	r.chunkDurationSeconds.WithLabelValues(workUnit, step).Observe(elapsed.Seconds())
}

// RecordItemRead records items pulled from a source.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, workUnit, step string, count int) {
	r.itemReadCounter.WithLabelValues(workUnit, step).Add(float64(count))
}

// RecordItemWrite records items committed to a sink.
func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, workUnit, step string, count int) {
	r.itemWriteCounter.WithLabelValues(workUnit, step).Add(float64(count))
}

// RecordItemSkip records a skipped item with its failure category.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, workUnit, step string, category string) {
	r.itemSkipCounter.WithLabelValues(workUnit, step, category).Inc()
}

// RecordItemFilter records an item dropped by the transform.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, workUnit, step string) {
	r.itemFilterCounter.WithLabelValues(workUnit, step).Inc()
}

// RecordRetry records a retry attempt with its failure category.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, workUnit, step string, category string) {
	r.itemRetryCounter.WithLabelValues(workUnit, step, category).Inc()
}

var _ coremetrics.Recorder = (*PrometheusRecorder)(nil)
