// Package port defines the capability interfaces between the pipeline core
// and its external collaborators: the raw data source, the storage sink, and
// the rejection / dead-letter sinks. Concrete adapters live under
// pkg/etl/extract and pkg/etl/sink.
package port

import (
	"context"
	"errors"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
)

// ErrNoMoreRecords is returned by Cursor.Next when the source sequence is
// exhausted. It signals normal end of stream, not a failure.
var ErrNoMoreRecords = errors.New("no more records")

// Source is an abstract readable dataset yielding raw flight records.
// Sources are restartable from the beginning of the sequence but not
// mid-stream: each NewCursor call positions a fresh cursor at the first
// record. Concrete forms (delimited file, object store, upstream API) are
// pluggable behind this abstraction.
type Source interface {
	// Name returns the source locator for logs and error messages.
	Name() string
	// NewCursor opens a cursor over the full raw record sequence. It fails
	// with an error wrapping exception.ErrSourceUnavailable when the source
	// cannot be opened at all, which is fatal to the run.
	NewCursor(ctx context.Context) (Cursor, error)
}

// Cursor iterates raw records in source order. A record that cannot be
// tokenized is consumed and reported as an error wrapping
// exception.ErrMalformedRecord; iteration continues with the next record.
type Cursor interface {
	// Next returns the next raw record, ErrNoMoreRecords at end of stream,
	// or a malformed-record error. Every call consumes exactly one source
	// position, malformed rows included, so all cursors over the same source
	// agree on record ordinals.
	Next(ctx context.Context) (*model.RawFlightRecord, error)
	// Close releases the cursor's resources.
	Close() error
}

// Sink is the storage collaborator contract. Write must be an idempotent
// upsert keyed by (flight_id, scheduled_departure_date): repeated delivery
// of the same rows yields the same stored state as a single delivery, which
// makes at-least-once batch delivery safe.
type Sink interface {
	// Name identifies the sink in logs, metrics, and dead-letter entries.
	Name() string
	// Setup prepares the keyspace/table DDL before the first write.
	Setup(ctx context.Context) error
	// Write upserts every row of the batch. Errors must be classifiable by
	// exception.IsTransient / exception.IsPermanent.
	Write(ctx context.Context, batch *model.Batch) error
	// Close releases the sink's connections.
	Close(ctx context.Context) error
}

// RejectionSink is the append-only log of rejected records, consumed by
// operators. Implementations must be safe for concurrent use by lanes.
type RejectionSink interface {
	Reject(ctx context.Context, entry model.RejectionEntry) error
	Close(ctx context.Context) error
}

// DeadLetterSink is the append-only log of permanently failed batches.
// Implementations must be safe for concurrent use by lanes.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, runID string, batch *model.Batch, cause error) error
	Close(ctx context.Context) error
}
