package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

const moduleCSVSource = "csv_source"

// CSVSource reads raw flight records from a header-mapped delimited file.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSVSource for the given file path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Name returns the source locator.
func (s *CSVSource) Name() string {
	return s.path
}

// NewCursor opens the file and positions a cursor after the header row.
func (s *CSVSource) NewCursor(ctx context.Context) (port.Cursor, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, exception.New(moduleCSVSource, fmt.Sprintf("cannot open %s", s.path),
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}
	cursor, err := newCSVCursor(f, f)
	if err != nil {
		f.Close()
		return nil, exception.New(moduleCSVSource, fmt.Sprintf("cannot read header of %s", s.path),
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}
	return cursor, nil
}

var _ port.Source = (*CSVSource)(nil)

// csvCursor tokenizes delimited rows into raw records by header name. Rows
// with a parse error or the wrong field count are reported as malformed and
// consumed, so iteration continues with the next row.
type csvCursor struct {
	reader  *csv.Reader
	closer  io.Closer
	columns []string
}

func newCSVCursor(r io.Reader, closer io.Closer) (*csvCursor, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return &csvCursor{reader: cr, closer: closer, columns: columns}, nil
}

// Next returns the next raw record, port.ErrNoMoreRecords at end of file, or
// a malformed-record error for an untokenizable row.
func (c *csvCursor) Next(ctx context.Context) (*model.RawFlightRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	row, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, port.ErrNoMoreRecords
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// The csv reader consumes the offending row and recovers on the
			// next Read call.
			return nil, fmt.Errorf("%w: %v", exception.ErrMalformedRecord, err)
		}
		return nil, exception.New(moduleCSVSource, "read failed", err, false)
	}

	rec := &model.RawFlightRecord{}
	for i, value := range row {
		if i >= len(c.columns) {
			break
		}
		assignRawField(rec, c.columns[i], value)
	}
	return rec, nil
}

// Close closes the underlying file or object reader.
func (c *csvCursor) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// assignRawField maps a source column to the raw record field of the same
// name; unknown columns are kept in Extra exactly as read.
func assignRawField(rec *model.RawFlightRecord, column, value string) {
	switch column {
	case "flight_id":
		rec.FlightID = value
	case "origin":
		rec.Origin = value
	case "destination":
		rec.Destination = value
	case "scheduled_departure":
		rec.ScheduledDeparture = value
	case "actual_departure":
		rec.ActualDeparture = value
	case "scheduled_arrival":
		rec.ScheduledArrival = value
	case "actual_arrival":
		rec.ActualArrival = value
	case "status":
		rec.Status = value
	default:
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[column] = value
	}
}
