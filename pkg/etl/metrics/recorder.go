// Package metrics defines the metric recording port for the pipeline and its
// Prometheus and no-op implementations.
package metrics

import (
	"context"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
)

// MetricRecorder receives pipeline events for metric exposition. All methods
// must be safe for concurrent use by worker lanes.
type MetricRecorder interface {
	// RecordExtracted records n raw records read by a lane.
	RecordExtracted(ctx context.Context, lane int, n int)
	// RecordTransformed records one successfully normalized record.
	RecordTransformed(ctx context.Context, lane int)
	// RecordRejected records one rejected record with its reason code.
	RecordRejected(ctx context.Context, code model.RejectionCode)
	// RecordBatchLoaded records an acknowledged batch delivery.
	RecordBatchLoaded(ctx context.Context, sink string, rows int, elapsed time.Duration)
	// RecordBatchFailed records a batch that exhausted delivery.
	RecordBatchFailed(ctx context.Context, sink string, rows int)
	// RecordWriteRetry records one retried write attempt.
	RecordWriteRetry(ctx context.Context, sink string)
	// RecordRunFinished records the final run outcome.
	RecordRunFinished(ctx context.Context, report *model.RunReport)
}

// NoopRecorder discards all metric events. Used in tests and when metrics
// are disabled.
type NoopRecorder struct{}

// NewNoopRecorder creates a new NoopRecorder.
func NewNoopRecorder() MetricRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordExtracted(ctx context.Context, lane int, count int)                {}
func (n *NoopRecorder) RecordTransformed(ctx context.Context, lane int)                        {}
func (n *NoopRecorder) RecordRejected(ctx context.Context, code model.RejectionCode)           {}
func (n *NoopRecorder) RecordBatchLoaded(ctx context.Context, sink string, rows int, elapsed time.Duration) {
}
func (n *NoopRecorder) RecordBatchFailed(ctx context.Context, sink string, rows int) {}
func (n *NoopRecorder) RecordWriteRetry(ctx context.Context, sink string)            {}
func (n *NoopRecorder) RecordRunFinished(ctx context.Context, report *model.RunReport) {}

var _ MetricRecorder = (*NoopRecorder)(nil)
