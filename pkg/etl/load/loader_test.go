package load

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/engine/retry"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

// scriptedSink returns one scripted error per Write call, then succeeds.
type scriptedSink struct {
	script []error
	writes int
}

func (s *scriptedSink) Name() string                    { return "scripted" }
func (s *scriptedSink) Setup(ctx context.Context) error { return nil }
func (s *scriptedSink) Close(ctx context.Context) error { return nil }

func (s *scriptedSink) Write(ctx context.Context, batch *model.Batch) error {
	defer func() { s.writes++ }()
	if s.writes < len(s.script) {
		return s.script[s.writes]
	}
	return nil
}

type recordingDeadLetter struct {
	entries int
	cause   error
}

func (d *recordingDeadLetter) DeadLetter(ctx context.Context, runID string, batch *model.Batch, cause error) error {
	d.entries++
	d.cause = cause
	return nil
}

func (d *recordingDeadLetter) Close(ctx context.Context) error { return nil }

func testBatch(rows int) *model.Batch {
	records := make([]model.NormalizedFlightRecord, rows)
	delay := 10
	for i := range records {
		records[i] = model.NormalizedFlightRecord{
			FlightID:               "AA123",
			ScheduledDepartureDate: "2026-03-01",
			DelayMinutes:           &delay,
		}
	}
	return &model.Batch{Lane: 0, Sequence: 1, Partition: "p000", TargetTable: "flights", Records: records}
}

func newTestLoader(sink *scriptedSink, dl *recordingDeadLetter, run *model.PipelineRun) (*Loader, *[]time.Duration) {
	policy := retry.NewExponentialPolicy(config.RetryConfig{
		MaxAttempts:       3,
		BackoffBaseMillis: 200,
		BackoffCapMillis:  5000,
		Factor:            2.0,
	})
	l := NewLoader(sink, dl, policy, time.Second, run, metrics.NewNoopRecorder())

	var slept []time.Duration
	l.sleep = func(d time.Duration) { slept = append(slept, d) }
	return l, &slept
}

func TestDeliver_SucceedsFirstAttempt(t *testing.T) {
	sink := &scriptedSink{}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, slept := newTestLoader(sink, dl, run)

	err := l.Deliver(context.Background(), testBatch(4))
	require.NoError(t, err)
	assert.Equal(t, 1, sink.writes)
	assert.Empty(t, *slept)
	assert.Equal(t, int64(4), run.Loaded())
	assert.Equal(t, int64(0), run.FailedBatches())
	assert.Equal(t, 0, dl.entries)
}

func TestDeliver_TimeoutTwiceThenSucceeds(t *testing.T) {
	sink := &scriptedSink{script: []error{exception.ErrWriteTimeout, exception.ErrWriteTimeout}}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, slept := newTestLoader(sink, dl, run)

	err := l.Deliver(context.Background(), testBatch(2))
	require.NoError(t, err)

	// Two transient failures, one success: three attempts total, backoff
	// doubling between them.
	assert.Equal(t, 3, sink.writes)
	require.Len(t, *slept, 2)
	assert.Equal(t, 200*time.Millisecond, (*slept)[0])
	assert.Equal(t, 400*time.Millisecond, (*slept)[1])
	assert.Equal(t, int64(2), run.Loaded())
	assert.Equal(t, int64(0), run.FailedBatches())
	assert.Equal(t, 0, dl.entries)
}

func TestDeliver_ExhaustsAttemptsAndDeadLetters(t *testing.T) {
	sink := &scriptedSink{script: []error{
		exception.ErrStorageUnavailable,
		exception.ErrStorageUnavailable,
		exception.ErrStorageUnavailable,
	}}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, slept := newTestLoader(sink, dl, run)

	err := l.Deliver(context.Background(), testBatch(2))
	require.NoError(t, err, "batch failure stays local to the batch")

	assert.Equal(t, 3, sink.writes)
	assert.Len(t, *slept, 2)
	assert.Equal(t, int64(0), run.Loaded())
	assert.Equal(t, int64(1), run.FailedBatches())
	assert.Equal(t, 1, dl.entries)
	assert.ErrorIs(t, dl.cause, exception.ErrStorageUnavailable)
}

func TestDeliver_PermanentFailureNotRetried(t *testing.T) {
	sink := &scriptedSink{script: []error{exception.ErrSchemaViolation, nil, nil}}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, slept := newTestLoader(sink, dl, run)

	err := l.Deliver(context.Background(), testBatch(2))
	require.NoError(t, err)

	// One attempt, no backoff, straight to the dead letter.
	assert.Equal(t, 1, sink.writes)
	assert.Empty(t, *slept)
	assert.Equal(t, int64(1), run.FailedBatches())
	assert.Equal(t, 1, dl.entries)
	assert.ErrorIs(t, dl.cause, exception.ErrSchemaViolation)
}

func TestDeliver_DelayStatsOnlyOnSuccess(t *testing.T) {
	sink := &scriptedSink{script: []error{exception.ErrSchemaViolation}}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, _ := newTestLoader(sink, dl, run)

	require.NoError(t, l.Deliver(context.Background(), testBatch(3)))
	run.Finalize(model.RunStatusPartial)
	assert.Equal(t, int64(0), run.Report().DelayStats.Count)
}

func TestDeliver_EmptyBatchIsNoop(t *testing.T) {
	sink := &scriptedSink{}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, _ := newTestLoader(sink, dl, run)

	require.NoError(t, l.Deliver(context.Background(), &model.Batch{}))
	require.NoError(t, l.Deliver(context.Background(), nil))
	assert.Equal(t, 0, sink.writes)
}

func TestDeliver_CompletesAfterCancellation(t *testing.T) {
	sink := &scriptedSink{script: []error{exception.ErrWriteTimeout}}
	dl := &recordingDeadLetter{}
	run := model.NewPipelineRun()
	l, slept := newTestLoader(sink, dl, run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A batch already in flight is delivered even though the run context is
	// cancelled: the write context is detached from cancellation.
	err := l.Deliver(ctx, testBatch(1))
	require.NoError(t, err)
	assert.Equal(t, 2, sink.writes)
	assert.Len(t, *slept, 1)
	assert.Equal(t, int64(1), run.Loaded())
}

func TestDeliver_DeadLetterFailurePropagates(t *testing.T) {
	sink := &scriptedSink{script: []error{exception.ErrSchemaViolation}}
	run := model.NewPipelineRun()
	policy := retry.NewExponentialPolicy(config.RetryConfig{MaxAttempts: 1, BackoffBaseMillis: 1, BackoffCapMillis: 1, Factor: 2.0})
	l := NewLoader(sink, &failingDeadLetter{}, policy, time.Second, run, metrics.NewNoopRecorder())
	l.sleep = func(time.Duration) {}

	err := l.Deliver(context.Background(), testBatch(1))
	require.Error(t, err)
}

type failingDeadLetter struct{}

func (d *failingDeadLetter) DeadLetter(ctx context.Context, runID string, batch *model.Batch, cause error) error {
	return errors.New("disk full")
}

func (d *failingDeadLetter) Close(ctx context.Context) error { return nil }
