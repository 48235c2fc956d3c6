package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	recordsExtracted   *prometheus.CounterVec
	recordsTransformed *prometheus.CounterVec
	recordsRejected    *prometheus.CounterVec
	rowsLoaded         *prometheus.CounterVec
	batchesLoaded      *prometheus.CounterVec
	batchesFailed      *prometheus.CounterVec
	writeRetries       *prometheus.CounterVec
	batchWriteSeconds  *prometheus.HistogramVec
	runStatus          *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with its own
// registry, including the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		recordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_records_extracted_total",
			Help: "Total raw records read from the source.",
		}, []string{"lane"}),
		recordsTransformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_records_transformed_total",
			Help: "Total records successfully normalized.",
		}, []string{"lane"}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_records_rejected_total",
			Help: "Total records rejected by reason code.",
		}, []string{"reason"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_rows_loaded_total",
			Help: "Total rows delivered to storage.",
		}, []string{"sink"}),
		batchesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_batches_loaded_total",
			Help: "Total batches acknowledged by storage.",
		}, []string{"sink"}),
		batchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_batches_failed_total",
			Help: "Total batches that exhausted delivery and were dead-lettered.",
		}, []string{"sink"}),
		writeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_write_retries_total",
			Help: "Total retried storage write attempts.",
		}, []string{"sink"}),
		batchWriteSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flightetl_batch_write_duration_seconds",
			Help:    "Duration of acknowledged batch writes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		runStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightetl_runs_total",
			Help: "Total pipeline runs by completion status.",
		}, []string{"status"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flightetl_run_duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"}),
	}

	registry.MustRegister(r.recordsExtracted)
	registry.MustRegister(r.recordsTransformed)
	registry.MustRegister(r.recordsRejected)
	registry.MustRegister(r.rowsLoaded)
	registry.MustRegister(r.batchesLoaded)
	registry.MustRegister(r.batchesFailed)
	registry.MustRegister(r.writeRetries)
	registry.MustRegister(r.batchWriteSeconds)
	registry.MustRegister(r.runStatus)
	registry.MustRegister(r.runDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry for exposition.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordExtracted(ctx context.Context, lane int, n int) {
	r.recordsExtracted.WithLabelValues(strconv.Itoa(lane)).Add(float64(n))
}

func (r *PrometheusRecorder) RecordTransformed(ctx context.Context, lane int) {
	r.recordsTransformed.WithLabelValues(strconv.Itoa(lane)).Inc()
}

func (r *PrometheusRecorder) RecordRejected(ctx context.Context, code model.RejectionCode) {
	r.recordsRejected.WithLabelValues(string(code)).Inc()
}

func (r *PrometheusRecorder) RecordBatchLoaded(ctx context.Context, sink string, rows int, elapsed time.Duration) {
	r.rowsLoaded.WithLabelValues(sink).Add(float64(rows))
	r.batchesLoaded.WithLabelValues(sink).Inc()
	r.batchWriteSeconds.WithLabelValues(sink).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) RecordBatchFailed(ctx context.Context, sink string, rows int) {
	r.batchesFailed.WithLabelValues(sink).Inc()
}

func (r *PrometheusRecorder) RecordWriteRetry(ctx context.Context, sink string) {
	r.writeRetries.WithLabelValues(sink).Inc()
}

func (r *PrometheusRecorder) RecordRunFinished(ctx context.Context, report *model.RunReport) {
	r.runStatus.WithLabelValues(report.Status.String()).Inc()
	r.runDurationSeconds.WithLabelValues(report.Status.String()).Observe(report.Duration)
	logger.Debugf("Metrics: run '%s' finished with status %s.", report.RunID, report.Status)
}

var _ MetricRecorder = (*PrometheusRecorder)(nil)
