// Package extract provides the Extractor and the concrete source adapters
// (delimited file, HTTP state-vector API, GCS object store) that feed the
// pipeline with raw flight records.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleExtractor = "extractor"

// Extractor reads one lane's slice of a source's raw record sequence.
// Sources are restartable from the beginning only, so every lane opens its
// own cursor over the full sequence and keeps the records whose ordinal
// falls in its slice (ordinal % lanes == lane). Lanes therefore share no
// state besides the run counters.
type Extractor struct {
	source    port.Source
	lane      int
	lanes     int
	run       *model.PipelineRun
	recorder  metrics.MetricRecorder
	rejection port.RejectionSink

	cursor  port.Cursor
	ordinal int64
}

// NewExtractor creates an Extractor for one lane. lanes must be >= 1 and
// lane in [0, lanes).
func NewExtractor(
	source port.Source,
	lane, lanes int,
	run *model.PipelineRun,
	recorder metrics.MetricRecorder,
	rejection port.RejectionSink,
) *Extractor {
	return &Extractor{
		source:    source,
		lane:      lane,
		lanes:     lanes,
		run:       run,
		recorder:  recorder,
		rejection: rejection,
	}
}

// Open positions a fresh cursor at the first record. A source that cannot be
// opened is fatal to the run.
func (e *Extractor) Open(ctx context.Context) error {
	cursor, err := e.source.NewCursor(ctx)
	if err != nil {
		if errors.Is(err, exception.ErrSourceUnavailable) {
			return err
		}
		return exception.New(moduleExtractor, "failed to open source "+e.source.Name(),
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}
	e.cursor = cursor
	e.ordinal = 0
	return nil
}

// Next returns the next raw record belonging to this lane's slice,
// port.ErrNoMoreRecords at end of stream. Malformed records in the slice are
// counted as rejected, logged to the rejection sink, and skipped; they are
// never fatal. Any other mid-stream cursor error is irrecoverable because
// sources cannot be restarted mid-stream.
func (e *Extractor) Next(ctx context.Context) (*model.RawFlightRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := e.cursor.Next(ctx)
		mine := e.ordinal%int64(e.lanes) == int64(e.lane)
		if err == nil || errors.Is(err, exception.ErrMalformedRecord) {
			// Both a record and a malformed row consume one source position.
			e.ordinal++
		}

		switch {
		case err == nil:
			if !mine {
				continue
			}
			e.run.IncrExtracted(1)
			e.recorder.RecordExtracted(ctx, e.lane, 1)
			return rec, nil

		case errors.Is(err, port.ErrNoMoreRecords):
			return nil, port.ErrNoMoreRecords

		case errors.Is(err, exception.ErrMalformedRecord):
			if !mine {
				continue
			}
			e.run.IncrExtracted(1)
			e.recorder.RecordExtracted(ctx, e.lane, 1)
			e.rejectMalformed(ctx, err)
			continue

		default:
			return nil, exception.New(moduleExtractor, "source read failed mid-stream", err, false)
		}
	}
}

// Close releases the cursor.
func (e *Extractor) Close() error {
	if e.cursor == nil {
		return nil
	}
	err := e.cursor.Close()
	e.cursor = nil
	return err
}

func (e *Extractor) rejectMalformed(ctx context.Context, cause error) {
	e.run.IncrRejected(1)
	reason := model.MalformedRecord(cause.Error())
	e.recorder.RecordRejected(ctx, reason.Code)
	entry := model.RejectionEntry{
		RunID:  e.run.ID,
		Lane:   e.lane,
		At:     time.Now(),
		Reason: reason,
		Raw:    map[string]string{"error": cause.Error()},
	}
	if err := e.rejection.Reject(ctx, entry); err != nil {
		logger.Errorf("Extractor lane %d: failed to log malformed record rejection: %v", e.lane, err)
	}
}
