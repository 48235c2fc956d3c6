// Package deadletter holds the append-only retention sinks: the JSONL
// rejection log, the JSONL dead-letter log for exhausted batches, and a
// Parquet archive of rejections for offline analysis. All sinks are safe for
// concurrent use by worker lanes.
package deadletter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

const moduleDeadLetter = "deadletter"

// jsonlFile is a mutex-guarded append-only JSONL file. The file is opened
// lazily on first append so a clean run leaves no empty log behind.
type jsonlFile struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func (f *jsonlFile) append(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		if dir := filepath.Dir(f.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return exception.New(moduleDeadLetter, "failed to create log directory "+dir, err, false)
			}
		}
		file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return exception.New(moduleDeadLetter, "failed to open log file "+f.path, err, false)
		}
		f.file = file
		f.enc = json.NewEncoder(file)
	}
	if err := f.enc.Encode(v); err != nil {
		return exception.New(moduleDeadLetter, "failed to append log entry", err, false)
	}
	return nil
}

func (f *jsonlFile) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.enc = nil
	return err
}

// JSONLRejectionSink appends rejected records to a JSONL file, one entry per
// line, for operator inspection.
type JSONLRejectionSink struct {
	jsonlFile
}

var _ port.RejectionSink = (*JSONLRejectionSink)(nil)

// NewJSONLRejectionSink creates a rejection sink writing to path.
func NewJSONLRejectionSink(path string) *JSONLRejectionSink {
	return &JSONLRejectionSink{jsonlFile{path: path}}
}

// Reject appends one rejection entry.
func (s *JSONLRejectionSink) Reject(ctx context.Context, entry model.RejectionEntry) error {
	return s.append(entry)
}

// Close releases the underlying file.
func (s *JSONLRejectionSink) Close(ctx context.Context) error {
	return s.close()
}

// DeadLetterEntry is one retained batch: enough to replay the rows by hand
// once the cause is fixed.
type DeadLetterEntry struct {
	RunID     string                        `json:"run_id"`
	At        time.Time                     `json:"at"`
	Lane      int                           `json:"lane"`
	Sequence  uint64                        `json:"sequence"`
	Partition string                        `json:"partition"`
	Table     string                        `json:"table"`
	Rows      int                           `json:"rows"`
	Cause     string                        `json:"cause"`
	Transient bool                          `json:"transient"`
	Records   []model.NormalizedFlightRecord `json:"records"`
}

// JSONLDeadLetterSink appends exhausted or permanently failed batches to a
// JSONL file with their full payload and cause.
type JSONLDeadLetterSink struct {
	jsonlFile
}

var _ port.DeadLetterSink = (*JSONLDeadLetterSink)(nil)

// NewJSONLDeadLetterSink creates a dead-letter sink writing to path.
func NewJSONLDeadLetterSink(path string) *JSONLDeadLetterSink {
	return &JSONLDeadLetterSink{jsonlFile{path: path}}
}

// DeadLetter appends the failed batch with its cause.
func (s *JSONLDeadLetterSink) DeadLetter(ctx context.Context, runID string, batch *model.Batch, cause error) error {
	entry := DeadLetterEntry{
		RunID:     runID,
		At:        time.Now(),
		Lane:      batch.Lane,
		Sequence:  batch.Sequence,
		Partition: batch.Partition,
		Table:     batch.TargetTable,
		Rows:      batch.Rows(),
		Cause:     cause.Error(),
		Transient: exception.IsTransient(cause),
		Records:   batch.Records,
	}
	return s.append(entry)
}

// Close releases the underlying file.
func (s *JSONLDeadLetterSink) Close(ctx context.Context) error {
	return s.close()
}
