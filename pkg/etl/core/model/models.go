// Package model defines the data model of the flight ETL pipeline: the raw
// and normalized flight records, write batches, and the process-wide run
// state with its counters.
package model

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// FlightStatus is the enumerated status of a normalized flight record.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "SCHEDULED"
	StatusActive    FlightStatus = "ACTIVE"
	StatusLanded    FlightStatus = "LANDED"
	StatusCancelled FlightStatus = "CANCELLED"
	StatusDiverted  FlightStatus = "DIVERTED"
	StatusUnknown   FlightStatus = "UNKNOWN"
)

// ParseFlightStatus maps a raw status string to a FlightStatus. Unrecognized
// values map to UNKNOWN; a record is never rejected solely for its status.
func ParseFlightStatus(raw string) FlightStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SCHEDULED":
		return StatusScheduled
	case "ACTIVE", "EN-ROUTE", "EN_ROUTE", "AIRBORNE":
		return StatusActive
	case "LANDED", "ARRIVED":
		return StatusLanded
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	case "DIVERTED":
		return StatusDiverted
	default:
		return StatusUnknown
	}
}

// String returns the FlightStatus as a string.
func (s FlightStatus) String() string {
	return string(s)
}

// RawFlightRecord is the unparsed field set as read from the source. All
// fields are strings exactly as tokenized; there are no invariants beyond
// "exists as read". Raw records are immutable and discarded after
// transformation.
type RawFlightRecord struct {
	FlightID           string
	Origin             string
	Destination        string
	ScheduledDeparture string
	ActualDeparture    string
	ScheduledArrival   string
	ActualArrival      string
	Status             string
	// Extra holds source columns that do not map to a named field.
	Extra map[string]string
}

// Fields renders the raw record as a flat field map, used by the rejection
// sink so operators see the record exactly as it was read.
func (r *RawFlightRecord) Fields() map[string]string {
	m := map[string]string{
		"flight_id":           r.FlightID,
		"origin":              r.Origin,
		"destination":         r.Destination,
		"scheduled_departure": r.ScheduledDeparture,
		"actual_departure":    r.ActualDeparture,
		"scheduled_arrival":   r.ScheduledArrival,
		"actual_arrival":      r.ActualArrival,
		"status":              r.Status,
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return m
}

// NormalizedFlightRecord is the canonical analytic row. Rows are uniquely
// identified by (flight_id, scheduled_departure_date); that pair is the
// storage primary key, so repeated delivery of the same row is an idempotent
// overwrite.
type NormalizedFlightRecord struct {
	FlightID               string       `gorm:"column:flight_id;primaryKey" json:"flight_id" bson:"flight_id"`
	ScheduledDepartureDate string       `gorm:"column:scheduled_departure_date;primaryKey" json:"scheduled_departure_date" bson:"scheduled_departure_date"`
	Origin                 string       `gorm:"column:origin" json:"origin" bson:"origin"`
	Destination            string       `gorm:"column:destination" json:"destination" bson:"destination"`
	ScheduledDeparture     time.Time    `gorm:"column:scheduled_departure" json:"scheduled_departure" bson:"scheduled_departure"`
	ActualDeparture        *time.Time   `gorm:"column:actual_departure" json:"actual_departure,omitempty" bson:"actual_departure,omitempty"`
	ScheduledArrival       *time.Time   `gorm:"column:scheduled_arrival" json:"scheduled_arrival,omitempty" bson:"scheduled_arrival,omitempty"`
	ActualArrival          *time.Time   `gorm:"column:actual_arrival" json:"actual_arrival,omitempty" bson:"actual_arrival,omitempty"`
	Status                 FlightStatus `gorm:"column:status" json:"status" bson:"status"`
	DelayMinutes           *int         `gorm:"column:delay_minutes" json:"delay_minutes,omitempty" bson:"delay_minutes,omitempty"`
	SourceIngestedAt       time.Time    `gorm:"column:source_ingested_at" json:"source_ingested_at" bson:"source_ingested_at"`
}

// TableName returns the storage table for normalized flight rows.
func (NormalizedFlightRecord) TableName() string {
	return "flights"
}

// NaturalKey returns the storage key of the row.
func (r *NormalizedFlightRecord) NaturalKey() string {
	return r.FlightID + "|" + r.ScheduledDepartureDate
}

// PartitionKey assigns the record to one of n partition buckets by hashing
// the natural key. Hashing spreads hot flight ids evenly across buckets so
// parallel writers do not converge on one storage partition.
func (r *NormalizedFlightRecord) PartitionKey(buckets int) string {
	if buckets <= 1 {
		return "p000"
	}
	h := fnv.New32a()
	h.Write([]byte(r.NaturalKey()))
	return fmt.Sprintf("p%03d", h.Sum32()%uint32(buckets))
}

// EstimateBytes returns a byte-size estimate of the row on the wire, used by
// the batcher to bound batch sizes below what the storage protocol rejects.
func (r *NormalizedFlightRecord) EstimateBytes() int {
	// Fixed cost covers the timestamps, the nullable integers and per-row
	// framing; string columns are counted at their actual length.
	const fixed = 96
	return fixed +
		len(r.FlightID) +
		len(r.ScheduledDepartureDate) +
		len(r.Origin) +
		len(r.Destination) +
		len(r.Status)
}

// Batch is an ordered collection of normalized records sharing a partition
// key prefix, delivered to storage as one write unit. The sequence number is
// monotonically increasing within its lane so redelivery can be traced.
// A batch is owned exclusively by the Loader during delivery and discarded on
// acknowledged success.
type Batch struct {
	Lane        int
	Sequence    uint64
	Partition   string
	TargetTable string
	Records     []NormalizedFlightRecord
	// SizeBytes is the batcher's byte estimate at flush time.
	SizeBytes int
}

// Rows returns the number of records in the batch.
func (b *Batch) Rows() int {
	return len(b.Records)
}

// Ref returns a compact identifier for logs and dead-letter entries.
func (b *Batch) Ref() string {
	return fmt.Sprintf("lane=%d seq=%d partition=%s rows=%d", b.Lane, b.Sequence, b.Partition, len(b.Records))
}
