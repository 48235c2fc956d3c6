// Package exception provides the error taxonomy for the flight ETL pipeline.
// Errors fall into three classes: fatal (abort the run), transient (retried
// with backoff, bounded attempts), and permanent (fail the batch immediately,
// retrying cannot succeed). Per-record rejections are data, not errors, and
// are modeled separately in the record model.
package exception

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline failure taxonomy.
var (
	// ErrSourceUnavailable indicates the source could not be opened at all.
	// Fatal to the run.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord indicates a raw record that could not even be
	// tokenized. Skipped and counted, never fatal.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrStorageUnavailable indicates the storage collaborator signaled
	// temporary unavailability. Transient.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrWriteTimeout indicates a storage write exceeded its deadline. Transient.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrMalformedWrite indicates the storage collaborator rejected the write
	// request itself. Permanent.
	ErrMalformedWrite = errors.New("malformed write request")

	// ErrSchemaViolation indicates the write violated the storage schema.
	// Permanent.
	ErrSchemaViolation = errors.New("schema violation")
)

// PipelineError is the error type raised by pipeline components. It carries
// the component where the error occurred, a message, the wrapped cause,
// and a flag indicating whether the error is transient (retry-worthy).
type PipelineError struct {
	// Module indicates the component where the error occurred
	// (e.g., "extractor", "loader", "gorm_sink").
	Module string
	// Message is a concise description of the error.
	Message string
	// Err is the wrapped original error.
	Err error

	transient bool
}

// New creates a new PipelineError.
func New(module, message string, err error, transient bool) *PipelineError {
	return &PipelineError{
		Module:    module,
		Message:   message,
		Err:       err,
		transient: transient,
	}
}

// Newf creates a new PipelineError with a formatted message. The error is
// classified as permanent; wrap a transient sentinel instead when the failure
// is retry-worthy.
func Newf(module string, err error, format string, a ...interface{}) *PipelineError {
	return &PipelineError{
		Module:  module,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Transient reports whether this error is transient.
func (e *PipelineError) Transient() bool {
	if e.transient {
		return true
	}
	return IsTransient(e.Err)
}

// IsTransient determines whether an error is retry-worthy: a timeout or
// temporary unavailability signaled by a collaborator. The PipelineError
// flag takes precedence; otherwise sentinel and message matching apply.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.transient {
		return true
	}
	if errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrWriteTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrMalformedWrite) || errors.Is(err, ErrSchemaViolation) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "unavailable")
}

// IsPermanent determines whether an error cannot succeed on retry: a
// malformed write request or a schema mismatch. Cancellation is neither
// transient nor permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if IsCancellation(err) {
		return false
	}
	return !IsTransient(err)
}

// IsCancellation reports whether an error carries context.Canceled anywhere
// in its chain. Ctx-aware collaborators can wrap context.Canceled into
// ordinary failures, so callers deciding whether a stop was cooperative must
// also check that their own context is done. Genuine cancellation is not a
// failure class; it finalizes the run as ABORTED with all prior commits
// intact.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsFatal reports whether an error must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
