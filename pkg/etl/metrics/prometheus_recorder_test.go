package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx := context.Background()

	r.RecordExtracted(ctx, 0, 5)
	r.RecordExtracted(ctx, 1, 3)
	r.RecordTransformed(ctx, 0)
	r.RecordRejected(ctx, model.RejectionMissingField)
	r.RecordBatchLoaded(ctx, "postgres", 100, 40*time.Millisecond)
	r.RecordBatchFailed(ctx, "postgres", 100)
	r.RecordWriteRetry(ctx, "postgres")

	families, err := r.GetRegistry().Gather()
	assert.NoError(t, err)

	byName := make(map[string]bool, len(families))
	for _, f := range families {
		byName[f.GetName()] = true
	}
	for _, name := range []string{
		"flightetl_records_extracted_total",
		"flightetl_records_transformed_total",
		"flightetl_records_rejected_total",
		"flightetl_rows_loaded_total",
		"flightetl_batches_loaded_total",
		"flightetl_batches_failed_total",
		"flightetl_write_retries_total",
		"flightetl_batch_write_duration_seconds",
	} {
		assert.True(t, byName[name], "missing metric family %s", name)
	}

	count, err := testutil.GatherAndCount(r.GetRegistry(), "flightetl_records_extracted_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count, "one series per lane")
}

func TestPrometheusRecorder_RunFinished(t *testing.T) {
	r := metrics.NewPrometheusRecorder()

	report := &model.RunReport{RunID: "run-1", Status: model.RunStatusPartial, Duration: 12.5}
	r.RecordRunFinished(context.Background(), report)

	count, err := testutil.GatherAndCount(r.GetRegistry(), "flightetl_runs_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
