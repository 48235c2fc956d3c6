package extract_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/extract"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

// newGCSSource points the storage client at a local object server, the way
// emulator-backed tests do.
func newGCSSource(serverURL string, openTimeout time.Duration) *extract.GCSSource {
	return extract.NewGCSSource("flight-data", "flights.csv", openTimeout,
		option.WithEndpoint(serverURL), option.WithoutAuthentication())
}

func TestGCSSource_DownloadOutlivesOpenTimeout(t *testing.T) {
	// The object is streamed slower than the open timeout; only reader
	// creation is bounded by it, so every row must still arrive.
	const rows = 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "flight_id,origin,destination")
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		for i := 0; i < rows; i++ {
			fmt.Fprintf(w, "AA%03d,JFK,LAX\n", i)
		}
	}))
	defer server.Close()

	source := newGCSSource(server.URL, 50*time.Millisecond)
	defer source.Close()

	cursor, err := source.NewCursor(context.Background())
	require.NoError(t, err)
	defer cursor.Close()

	read := 0
	for {
		rec, err := cursor.Next(context.Background())
		if errors.Is(err, port.ErrNoMoreRecords) {
			break
		}
		require.NoError(t, err)
		require.NotEmpty(t, rec.FlightID)
		read++
	}
	assert.Equal(t, rows, read)
}

func TestGCSSource_ConcurrentCursorOpensShareOneClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "flight_id,origin,destination")
		fmt.Fprintln(w, "AA100,JFK,LAX")
	}))
	defer server.Close()

	source := newGCSSource(server.URL, time.Second)
	defer source.Close()

	const lanes = 4
	cursors := make([]port.Cursor, lanes)
	errs := make([]error, lanes)
	var wg sync.WaitGroup
	for i := 0; i < lanes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cursors[i], errs[i] = source.NewCursor(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < lanes; i++ {
		require.NoError(t, errs[i])
		rec, err := cursors[i].Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "AA100", rec.FlightID)
		require.NoError(t, cursors[i].Close())
	}
}

func TestGCSSource_SlowOpenIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprintln(w, "flight_id,origin,destination")
	}))
	defer server.Close()

	source := newGCSSource(server.URL, 30*time.Millisecond)
	defer source.Close()

	_, err := source.NewCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSourceUnavailable)
}

func TestGCSSource_MissingObjectIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "object not found", http.StatusNotFound)
	}))
	defer server.Close()

	source := newGCSSource(server.URL, time.Second)
	defer source.Close()

	_, err := source.NewCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSourceUnavailable)
}
