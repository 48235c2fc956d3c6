// Package engine contains the pipeline coordinator that drives a full
// extract-transform-load run across parallel worker lanes.
package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tailfin/flightetl/pkg/etl/batch"
	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/engine/retry"
	"github.com/tailfin/flightetl/pkg/etl/extract"
	"github.com/tailfin/flightetl/pkg/etl/load"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
	"github.com/tailfin/flightetl/pkg/etl/transform"
)

const moduleCoordinator = "coordinator"

// Coordinator owns one pipeline run: it prepares the sink, fans the record
// sequence out over worker lanes, and joins them into a final run report.
// Lanes are independent extract-transform-batch-load loops sharing only the
// run counters and the (thread-safe) sinks.
type Coordinator struct {
	cfg       *config.Config
	source    port.Source
	sink      port.Sink
	rejection port.RejectionSink
	deadLet   port.DeadLetterSink
	recorder  metrics.MetricRecorder
	policy    retry.Policy
}

// NewCoordinator assembles a Coordinator from its collaborators.
func NewCoordinator(
	cfg *config.Config,
	source port.Source,
	sink port.Sink,
	rejection port.RejectionSink,
	deadLetter port.DeadLetterSink,
	recorder metrics.MetricRecorder,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		rejection: rejection,
		deadLet:   deadLetter,
		recorder:  recorder,
		policy:    retry.NewExponentialPolicy(cfg.FlightETL.Pipeline.Retry),
	}
}

// Run executes one full pipeline run and returns its report. The report is
// returned even when the run aborts, so callers always see the counters.
//
// Status rules: a fatal extraction error or cancellation yields ABORTED; a
// completed run with failed batches yields PARTIAL; otherwise SUCCESS.
// Cancellation is cooperative: lanes stop picking up new records but every
// batch already handed to the loader is delivered (or dead-lettered) before
// the run finalizes.
func (c *Coordinator) Run(ctx context.Context) (*model.RunReport, error) {
	run := model.NewPipelineRun()
	lanes := c.cfg.FlightETL.Pipeline.Workers
	if lanes < 1 {
		lanes = runtime.NumCPU()
	}
	logger.Infof("Run %s: starting with %d lane(s), source %s, sink %s, write consistency %s.",
		run.ID, lanes, c.source.Name(), c.sink.Name(), c.cfg.FlightETL.Pipeline.Write.Consistency)

	if err := c.sink.Setup(ctx); err != nil {
		run.Finalize(model.RunStatusAborted)
		report := run.Report()
		c.recorder.RecordRunFinished(ctx, report)
		return report, exception.New(moduleCoordinator, "sink setup failed", err, false)
	}

	// A fatal lane error cancels the other lanes; cancellation of laneCtx is
	// also how external cancellation reaches the lanes.
	laneCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	laneErrs := make([]error, lanes)
	for lane := 0; lane < lanes; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			if err := c.runLane(laneCtx, run, lane, lanes); err != nil {
				laneErrs[lane] = err
				if !(exception.IsCancellation(err) && laneCtx.Err() != nil) {
					cancel(err)
				}
			}
		}(lane)
	}
	wg.Wait()

	var joined error
	for lane, err := range laneErrs {
		if err == nil {
			continue
		}
		joined = multierror.Append(joined, exception.Newf(moduleCoordinator, err, "lane %d failed", lane))
	}

	status := model.RunStatusSuccess
	switch {
	case joined != nil || ctx.Err() != nil:
		status = model.RunStatusAborted
	case run.FailedBatches() > 0:
		status = model.RunStatusPartial
	}
	run.Finalize(status)
	report := run.Report()
	c.recorder.RecordRunFinished(context.WithoutCancel(ctx), report)

	logger.Infof("Run %s: finished %s. extracted=%d transformed=%d rejected=%d loaded=%d failed_batches=%d duration=%.2fs",
		report.RunID, report.Status, report.Extracted, report.Transformed,
		report.Rejected, report.Loaded, report.FailedBatches, report.Duration)

	return report, joined
}

// runLane drives one lane's extract-transform-batch-load loop until the
// source slice is exhausted or the context is cancelled. Rejections are not
// lane errors; only a source failure or a broken rejection/dead-letter sink
// ends the lane.
func (c *Coordinator) runLane(ctx context.Context, run *model.PipelineRun, lane, lanes int) error {
	extractor := extract.NewExtractor(c.source, lane, lanes, run, c.recorder, c.rejection)
	if err := extractor.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := extractor.Close(); err != nil {
			logger.Warnf("Run %s lane %d: cursor close failed: %v", run.ID, lane, err)
		}
	}()

	transformer := transform.NewTransformer()
	batcher := batch.NewBatcher(lane, c.cfg.FlightETL.Pipeline.Batch, c.cfg.FlightETL.Pipeline.TargetTable)
	loader := load.NewLoader(c.sink, c.deadLet, c.policy, c.cfg.WriteTimeout(), run, c.recorder)

	for {
		raw, err := extractor.Next(ctx)
		if errors.Is(err, port.ErrNoMoreRecords) {
			break
		}
		if exception.IsCancellation(err) && ctx.Err() != nil {
			// Stop reading but still deliver what was already batched.
			logger.Infof("Run %s lane %d: cancellation observed, flushing in-flight batches.", run.ID, lane)
			break
		}
		if err != nil {
			// A read error wrapping context.Canceled while this lane's
			// context is healthy came from the source's own plumbing; it is a
			// lane failure, not a cancellation.
			return err
		}

		normalized, reason := transformer.Transform(raw)
		if reason != nil {
			if rejErr := c.rejectRecord(ctx, run, lane, raw, reason); rejErr != nil {
				return rejErr
			}
			continue
		}
		run.IncrTransformed(1)
		c.recorder.RecordTransformed(ctx, lane)

		for _, ready := range batcher.Add(*normalized) {
			if err := loader.Deliver(ctx, ready); err != nil {
				return err
			}
		}
	}

	for _, ready := range batcher.Flush() {
		if err := loader.Deliver(ctx, ready); err != nil {
			return err
		}
	}
	return nil
}

// rejectRecord counts a transform rejection and appends it to the rejection
// sink with the full raw payload for operator inspection.
func (c *Coordinator) rejectRecord(ctx context.Context, run *model.PipelineRun, lane int, raw *model.RawFlightRecord, reason *model.RejectionReason) error {
	run.IncrRejected(1)
	c.recorder.RecordRejected(ctx, reason.Code)
	logger.Debugf("Run %s lane %d: rejected record %s: %s", run.ID, lane, raw.FlightID, reason)

	entry := model.RejectionEntry{
		RunID:  run.ID,
		Lane:   lane,
		At:     time.Now(),
		Reason: *reason,
		Raw:    raw.Fields(),
	}
	if err := c.rejection.Reject(ctx, entry); err != nil {
		return exception.New(moduleCoordinator, "failed to append rejection entry", err, false)
	}
	return nil
}
