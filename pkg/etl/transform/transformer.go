// Package transform implements the pure per-record normalization stage of
// the pipeline: validation, cleaning, and mapping of raw flight records to
// the canonical analytic schema. No record depends on any other, so the
// stage is safe to run on every lane concurrently.
package transform

import (
	"strings"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
)

// timestampFormats is the fixed set of known source timestamp layouts,
// tried in order. Layouts without a zone are interpreted as UTC.
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// requiredFields lists the fields whose presence is checked first, in the
// order rejections are reported. Everything needed for the storage key must
// be present and valid or the record is rejected, never partially written.
var requiredFields = []string{"flight_id", "origin", "destination", "scheduled_departure"}

// Transformer validates and maps raw records to normalized records. It is
// stateless per record; the clock is injected so source_ingested_at is
// deterministic in tests.
type Transformer struct {
	clock func() time.Time
}

// NewTransformer creates a Transformer stamping source_ingested_at from the
// wall clock.
func NewTransformer() *Transformer {
	return &Transformer{clock: time.Now}
}

// NewTransformerWithClock creates a Transformer with an injected clock.
func NewTransformerWithClock(clock func() time.Time) *Transformer {
	return &Transformer{clock: clock}
}

// Transform validates a raw record and maps it to a normalized record, or
// returns the rejection reason. Validation short-circuits on the first
// failure, in a deterministic order:
//
//  1. required-field presence,
//  2. airport code format,
//  3. timestamp parse against the known source formats,
//  4. status mapping (unknown statuses become UNKNOWN, never rejected),
//  5. derived field computation (delay_minutes).
func (t *Transformer) Transform(raw *model.RawFlightRecord) (*model.NormalizedFlightRecord, *model.RejectionReason) {
	// 1. Required-field presence.
	values := map[string]string{
		"flight_id":           strings.TrimSpace(raw.FlightID),
		"origin":              strings.TrimSpace(raw.Origin),
		"destination":         strings.TrimSpace(raw.Destination),
		"scheduled_departure": strings.TrimSpace(raw.ScheduledDeparture),
	}
	for _, field := range requiredFields {
		if values[field] == "" {
			reason := model.MissingField(field)
			return nil, &reason
		}
	}

	// 2. Airport code format.
	origin := strings.ToUpper(values["origin"])
	if !validAirportCode(origin) {
		reason := model.BadAirportCode("origin", raw.Origin)
		return nil, &reason
	}
	destination := strings.ToUpper(values["destination"])
	if !validAirportCode(destination) {
		reason := model.BadAirportCode("destination", raw.Destination)
		return nil, &reason
	}

	// 3. Timestamp parse. scheduled_departure is required; the rest are
	// optional and absent until observed.
	scheduledDeparture, ok := parseTimestamp(values["scheduled_departure"])
	if !ok {
		reason := model.UnparseableTimestamp("scheduled_departure", raw.ScheduledDeparture)
		return nil, &reason
	}
	actualDeparture, reason := parseOptionalTimestamp("actual_departure", raw.ActualDeparture)
	if reason != nil {
		return nil, reason
	}
	scheduledArrival, reason := parseOptionalTimestamp("scheduled_arrival", raw.ScheduledArrival)
	if reason != nil {
		return nil, reason
	}
	actualArrival, reason := parseOptionalTimestamp("actual_arrival", raw.ActualArrival)
	if reason != nil {
		return nil, reason
	}

	// 4. Status mapping.
	status := model.ParseFlightStatus(raw.Status)

	// 5. Derived fields.
	var delayMinutes *int
	if actualDeparture != nil {
		minutes := int(actualDeparture.Sub(scheduledDeparture) / time.Minute)
		delayMinutes = &minutes
	}

	return &model.NormalizedFlightRecord{
		FlightID:               values["flight_id"],
		ScheduledDepartureDate: scheduledDeparture.UTC().Format("2006-01-02"),
		Origin:                 origin,
		Destination:            destination,
		ScheduledDeparture:     scheduledDeparture,
		ActualDeparture:        actualDeparture,
		ScheduledArrival:       scheduledArrival,
		ActualArrival:          actualArrival,
		Status:                 status,
		DelayMinutes:           delayMinutes,
		SourceIngestedAt:       t.clock().UTC(),
	}, nil
}

// validAirportCode checks the fixed-length alphabetic code format.
func validAirportCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// parseTimestamp tries the known source formats in order.
func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseOptionalTimestamp parses a timestamp that may legitimately be absent.
func parseOptionalTimestamp(field, value string) (*time.Time, *model.RejectionReason) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	ts, ok := parseTimestamp(trimmed)
	if !ok {
		reason := model.UnparseableTimestamp(field, value)
		return nil, &reason
	}
	return &ts, nil
}
