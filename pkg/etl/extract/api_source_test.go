package extract_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/extract"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

func TestAPISource_MapsStateVectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"states": [
			["AA100", "JFK", "LAX", "2026-03-01T10:00:00Z", "2026-03-01T10:10:00Z", null, null, "LANDED"],
			[4711, "LHR", "JFK", "2026-03-01T11:00:00Z", null, null, null, "SCHEDULED", true]
		]}`))
	}))
	defer server.Close()

	source := extract.NewAPISource(server.URL, time.Second)
	cursor, err := source.NewCursor(context.Background())
	require.NoError(t, err)
	defer cursor.Close()

	first, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AA100", first.FlightID)
	assert.Equal(t, "LAX", first.Destination)
	assert.Equal(t, "", first.ScheduledArrival)
	assert.Equal(t, "LANDED", first.Status)

	// Non-string fields are stringified; trailing fields land in Extra.
	second, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4711", second.FlightID)
	assert.Equal(t, "true", second.Extra["field_8"])

	_, err = cursor.Next(context.Background())
	assert.ErrorIs(t, err, port.ErrNoMoreRecords)
}

func TestAPISource_NullVectorIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"states": [null, ["AA100", "JFK", "LAX", "2026-03-01T10:00:00Z"]]}`))
	}))
	defer server.Close()

	source := extract.NewAPISource(server.URL, time.Second)
	cursor, err := source.NewCursor(context.Background())
	require.NoError(t, err)
	defer cursor.Close()

	_, err = cursor.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrMalformedRecord)

	rec, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AA100", rec.FlightID)
}

func TestAPISource_Non200IsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := extract.NewAPISource(server.URL, time.Second)
	_, err := source.NewCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSourceUnavailable)
}

func TestAPISource_DecodeFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	source := extract.NewAPISource(server.URL, time.Second)
	_, err := source.NewCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSourceUnavailable)
}

func TestAPISource_UnreachableEndpointIsFatal(t *testing.T) {
	source := extract.NewAPISource("http://127.0.0.1:1/states", 200*time.Millisecond)
	_, err := source.NewCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSourceUnavailable)
}

func TestAPISource_FetchesOnceAndSharesSnapshotAcrossLanes(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"states": [
			["AA000", "JFK", "LAX", "2026-03-01T10:00:00Z"],
			["AA001", "JFK", "LAX", "2026-03-01T10:00:00Z"]
		]}`))
	}))
	defer server.Close()

	source := extract.NewAPISource(server.URL, time.Second)
	run := model.NewPipelineRun()

	lane0 := drainLane(t, source, 0, 2, run, &captureRejectionSink{})
	lane1 := drainLane(t, source, 1, 2, run, &captureRejectionSink{})

	require.Len(t, lane0, 1)
	require.Len(t, lane1, 1)
	assert.Equal(t, "AA000", lane0[0].FlightID)
	assert.Equal(t, "AA001", lane1[0].FlightID)
	assert.Equal(t, 1, hits, "the snapshot is fetched once and shared by all lane cursors")
}
