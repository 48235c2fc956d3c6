package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleAPISource = "api_source"

// stateVectorResponse is the upstream payload shape: a list of positional
// state vectors, one per flight.
type stateVectorResponse struct {
	States [][]interface{} `json:"states"`
}

// stateVectorFields maps state vector positions to raw record fields, in
// upstream order.
var stateVectorFields = []string{
	"flight_id",
	"origin",
	"destination",
	"scheduled_departure",
	"actual_departure",
	"scheduled_arrival",
	"actual_arrival",
	"status",
}

// APISource reads raw flight records from an HTTP endpoint returning
// positional state vectors. The full payload is fetched once, on the first
// cursor open, and every lane's cursor iterates that same in-memory
// snapshot, so all lanes slice one consistent sequence.
type APISource struct {
	endpoint string
	client   *http.Client

	fetchOnce sync.Once
	states    [][]interface{}
	fetchErr  error
}

// NewAPISource creates an APISource for the given endpoint URL.
func NewAPISource(endpoint string, timeout time.Duration) *APISource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APISource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the endpoint URL.
func (s *APISource) Name() string {
	return s.endpoint
}

// NewCursor returns a cursor over the fetched state vectors. The fetch
// happens once, on the first call; any request or decode failure means the
// source cannot be opened, which is fatal to the run.
func (s *APISource) NewCursor(ctx context.Context) (port.Cursor, error) {
	s.fetchOnce.Do(func() {
		s.states, s.fetchErr = s.fetch(ctx)
	})
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return &stateVectorCursor{states: s.states}, nil
}

func (s *APISource) fetch(ctx context.Context) ([][]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, exception.New(moduleAPISource, "failed to create request",
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, exception.New(moduleAPISource, "request failed",
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, exception.New(moduleAPISource,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			exception.ErrSourceUnavailable, false)
	}

	var payload stateVectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, exception.New(moduleAPISource, "failed to decode response",
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}

	logger.Debugf("APISource: fetched %d state vectors from %s.", len(payload.States), s.endpoint)
	return payload.States, nil
}

var _ port.Source = (*APISource)(nil)

// stateVectorCursor iterates a fetched snapshot of state vectors.
type stateVectorCursor struct {
	states [][]interface{}
	index  int
}

// Next maps the next state vector to a raw record. Vectors shorter than the
// field table leave the remaining fields empty; the transformer decides
// whether that is acceptable.
func (c *stateVectorCursor) Next(ctx context.Context) (*model.RawFlightRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if c.index >= len(c.states) {
		return nil, port.ErrNoMoreRecords
	}
	state := c.states[c.index]
	c.index++

	if state == nil {
		return nil, fmt.Errorf("%w: null state vector at index %d", exception.ErrMalformedRecord, c.index-1)
	}

	rec := &model.RawFlightRecord{}
	for i, field := range stateVectorFields {
		if i >= len(state) {
			break
		}
		assignRawField(rec, field, stringifyStateField(state[i]))
	}
	for i := len(stateVectorFields); i < len(state); i++ {
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[fmt.Sprintf("field_%d", i)] = stringifyStateField(state[i])
	}
	return rec, nil
}

// Close releases nothing; the snapshot is in memory.
func (c *stateVectorCursor) Close() error {
	c.states = nil
	return nil
}

// stringifyStateField renders an untyped state vector element as the raw
// string the transformer validates. Nil stays empty so required-field checks
// see it as absent.
func stringifyStateField(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
