// Package load delivers write batches to the storage collaborator with
// idempotent at-least-once semantics: bounded retries with exponential
// backoff for transient failures, immediate dead-lettering for permanent
// ones. Batch failures never propagate as run failures.
package load

import (
	"context"
	"errors"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/engine/retry"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleLoader = "loader"

// deliveryState is the explicit state of the retry machine. Keeping the
// machine explicit (rather than nested error handling) makes attempt counts
// and backoff timing deterministic and testable.
type deliveryState int

const (
	stateAttempting deliveryState = iota
	stateBackoffWait
	stateSucceeded
	stateExhausted
)

// Loader delivers one batch at a time to the storage sink. Each lane owns a
// Loader instance; lanes share only the sink (thread-safe by its own
// contract) and the run counters.
type Loader struct {
	sink       port.Sink
	deadLetter port.DeadLetterSink
	policy     retry.Policy
	timeout    time.Duration
	run        *model.PipelineRun
	recorder   metrics.MetricRecorder

	// sleep is injected in tests so backoff timing is observable without
	// waiting.
	sleep func(time.Duration)
}

// NewLoader creates a Loader.
func NewLoader(
	sink port.Sink,
	deadLetter port.DeadLetterSink,
	policy retry.Policy,
	writeTimeout time.Duration,
	run *model.PipelineRun,
	recorder metrics.MetricRecorder,
) *Loader {
	return &Loader{
		sink:       sink,
		deadLetter: deadLetter,
		policy:     policy,
		timeout:    writeTimeout,
		run:        run,
		recorder:   recorder,
		sleep:      time.Sleep,
	}
}

// Deliver drives one batch through the retry state machine:
// Attempting → BackoffWait → Attempting ... → Succeeded | Exhausted.
//
// A batch that enters Deliver is in flight: delivery completes even when the
// run is being cancelled, so no batch is ever abandoned mid-write. Each
// attempt carries its own bounded deadline; exceeding it counts as a
// transient failure. On exhaustion or a permanent failure the batch is
// counted as failed, dead-lettered, and the run continues — Deliver returns
// an error only when the dead-letter sink itself is broken.
func (l *Loader) Deliver(ctx context.Context, batch *model.Batch) error {
	if batch == nil || len(batch.Records) == 0 {
		return nil
	}

	attempt := 1
	state := stateAttempting
	var lastErr error
	var elapsed time.Duration

	for {
		switch state {
		case stateAttempting:
			start := time.Now()
			lastErr = l.writeOnce(ctx, batch)
			elapsed = time.Since(start)

			switch {
			case lastErr == nil:
				state = stateSucceeded
			case l.policy.ShouldRetry(lastErr) && attempt < l.policy.MaxAttempts():
				state = stateBackoffWait
			default:
				state = stateExhausted
			}

		case stateBackoffWait:
			backoff := l.policy.NextBackoff(attempt)
			logger.Warnf("Loader lane %d: write attempt %d/%d failed (%s), backing off %s: %v",
				batch.Lane, attempt, l.policy.MaxAttempts(), batch.Ref(), backoff, lastErr)
			l.recorder.RecordWriteRetry(ctx, l.sink.Name())
			l.sleep(backoff)
			attempt++
			state = stateAttempting

		case stateSucceeded:
			l.run.IncrLoaded(batch.Rows())
			l.run.ObserveDelays(batch)
			l.recorder.RecordBatchLoaded(ctx, l.sink.Name(), batch.Rows(), elapsed)
			logger.Debugf("Loader lane %d: delivered batch (%s) in %s.", batch.Lane, batch.Ref(), elapsed)
			return nil

		case stateExhausted:
			l.run.IncrFailedBatches()
			l.recorder.RecordBatchFailed(ctx, l.sink.Name(), batch.Rows())
			if exception.IsTransient(lastErr) {
				logger.Errorf("Loader lane %d: batch failed after %d attempts (%s): %v",
					batch.Lane, attempt, batch.Ref(), lastErr)
			} else {
				logger.Errorf("Loader lane %d: batch failed permanently, not retried (%s): %v",
					batch.Lane, batch.Ref(), lastErr)
			}
			if err := l.deadLetter.DeadLetter(ctx, l.run.ID, batch, lastErr); err != nil {
				return exception.New(moduleLoader, "failed to dead-letter batch "+batch.Ref(), err, false)
			}
			return nil
		}
	}
}

// writeOnce performs a single write attempt under the configured deadline.
// The attempt is detached from run cancellation: once a write starts it runs
// to its own deadline, so cancellation never leaves a batch half-delivered.
func (l *Loader) writeOnce(ctx context.Context, batch *model.Batch) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	err := l.sink.Write(writeCtx, batch)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exception.New(moduleLoader, "write exceeded deadline "+l.timeout.String(),
			errors.Join(exception.ErrWriteTimeout, err), true)
	}
	return err
}
