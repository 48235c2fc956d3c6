package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

// rejectionRow is the flat Parquet schema for an archived rejection. The raw
// record is carried as a JSON string since its column set varies by source.
type rejectionRow struct {
	RunID  string `parquet:"name=run_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Lane   int32  `parquet:"name=lane,type=INT32"`
	At     int64  `parquet:"name=at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Code   string `parquet:"name=code,type=BYTE_ARRAY,convertedtype=UTF8"`
	Field  string `parquet:"name=field,type=BYTE_ARRAY,convertedtype=UTF8"`
	Detail string `parquet:"name=detail,type=BYTE_ARRAY,convertedtype=UTF8"`
	Raw    string `parquet:"name=raw,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// ParquetRejectionArchive buffers rejections in memory and flushes them to
// one Parquet file per run on Close. Rejection volume is bounded by the run's
// record count, so buffering until Close keeps the writer simple and the file
// a single row group.
type ParquetRejectionArchive struct {
	dir string

	mu   sync.Mutex
	rows []rejectionRow
}

var _ port.RejectionSink = (*ParquetRejectionArchive)(nil)

// NewParquetRejectionArchive creates an archive writing files under dir.
func NewParquetRejectionArchive(dir string) *ParquetRejectionArchive {
	return &ParquetRejectionArchive{dir: dir}
}

// Reject buffers one rejection entry.
func (a *ParquetRejectionArchive) Reject(ctx context.Context, entry model.RejectionEntry) error {
	raw, err := json.Marshal(entry.Raw)
	if err != nil {
		return exception.New(moduleDeadLetter, "failed to encode raw record for archive", err, false)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, rejectionRow{
		RunID:  entry.RunID,
		Lane:   int32(entry.Lane),
		At:     entry.At.UnixMilli(),
		Code:   string(entry.Reason.Code),
		Field:  entry.Reason.Field,
		Detail: entry.Reason.Detail,
		Raw:    string(raw),
	})
	return nil
}

// Close writes the buffered rejections as a Parquet file named after the run.
// A run with zero rejections leaves no file behind.
func (a *ParquetRejectionArchive) Close(ctx context.Context) error {
	a.mu.Lock()
	rows := a.rows
	a.rows = nil
	a.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return exception.New(moduleDeadLetter, "failed to create archive directory "+a.dir, err, false)
	}

	name := fmt.Sprintf("rejections-%s-%s.parquet", rows[0].RunID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(a.dir, name)
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return exception.New(moduleDeadLetter, "failed to create archive file "+path, err, false)
	}

	pw, err := writer.NewParquetWriterFromWriter(fw, new(rejectionRow), int64(len(rows)))
	if err != nil {
		_ = fw.Close()
		return exception.New(moduleDeadLetter, "failed to create parquet writer", err, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			_ = fw.Close()
			return exception.New(moduleDeadLetter, "failed to write archive row", err, false)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return exception.New(moduleDeadLetter, "failed to finalize archive file", err, false)
	}
	if err := fw.Close(); err != nil {
		return exception.New(moduleDeadLetter, "failed to close archive file "+path, err, false)
	}

	logger.Infof("Archived %d rejection(s) to %s.", len(rows), path)
	return nil
}

// FanOutRejectionSink writes every rejection to all underlying sinks. Used to
// pair the operator-facing JSONL log with the Parquet archive.
type FanOutRejectionSink struct {
	sinks []port.RejectionSink
}

var _ port.RejectionSink = (*FanOutRejectionSink)(nil)

// NewFanOutRejectionSink composes sinks into one.
func NewFanOutRejectionSink(sinks ...port.RejectionSink) *FanOutRejectionSink {
	return &FanOutRejectionSink{sinks: sinks}
}

// Reject appends the entry to every sink, aggregating failures.
func (s *FanOutRejectionSink) Reject(ctx context.Context, entry model.RejectionEntry) error {
	var errs error
	for _, sink := range s.sinks {
		if err := sink.Reject(ctx, entry); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// Close closes every sink, aggregating failures.
func (s *FanOutRejectionSink) Close(ctx context.Context) error {
	var errs error
	for _, sink := range s.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
