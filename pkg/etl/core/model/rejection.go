package model

import (
	"fmt"
	"time"
)

// RejectionCode identifies why the Transformer rejected a raw record.
type RejectionCode string

const (
	RejectionMissingField         RejectionCode = "MISSING_FIELD"
	RejectionBadAirportCode       RejectionCode = "BAD_AIRPORT_CODE"
	RejectionUnparseableTimestamp RejectionCode = "UNPARSEABLE_TIMESTAMP"
	RejectionMalformedRecord      RejectionCode = "MALFORMED_RECORD"
)

// RejectionReason describes a per-record rejection. Rejections are recovered
// locally, counted, and retained in the rejection sink; they are never fatal
// and never silently dropped.
type RejectionReason struct {
	Code   RejectionCode `json:"code"`
	Field  string        `json:"field,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// MissingField builds the rejection for a required field that is absent.
func MissingField(field string) RejectionReason {
	return RejectionReason{Code: RejectionMissingField, Field: field}
}

// BadAirportCode builds the rejection for an airport code failing the
// fixed-length alphabetic format check.
func BadAirportCode(field, value string) RejectionReason {
	return RejectionReason{Code: RejectionBadAirportCode, Field: field, Detail: value}
}

// UnparseableTimestamp builds the rejection for a timestamp matching none of
// the known source formats.
func UnparseableTimestamp(field, value string) RejectionReason {
	return RejectionReason{Code: RejectionUnparseableTimestamp, Field: field, Detail: value}
}

// MalformedRecord builds the rejection for a raw record that could not be
// tokenized at all.
func MalformedRecord(detail string) RejectionReason {
	return RejectionReason{Code: RejectionMalformedRecord, Detail: detail}
}

// String renders the reason the way operators see it in the rejection log.
func (r RejectionReason) String() string {
	if r.Field != "" {
		return fmt.Sprintf("%s(%q)", r.Code, r.Field)
	}
	return string(r.Code)
}

// RejectionEntry is one line in the rejection sink: the raw record as read
// plus the reason it was rejected.
type RejectionEntry struct {
	RunID  string            `json:"run_id"`
	Lane   int               `json:"lane"`
	At     time.Time         `json:"at"`
	Reason RejectionReason   `json:"reason"`
	Raw    map[string]string `json:"raw"`
}
