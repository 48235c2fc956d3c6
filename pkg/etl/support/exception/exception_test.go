package exception_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

func TestPipelineError_ErrorFormat(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := exception.New("loader", "batch write failed", cause, true)

	assert.Contains(t, err.Error(), "[loader]")
	assert.Contains(t, err.Error(), "batch write failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestPipelineError_TransientFlag(t *testing.T) {
	err := exception.New("sink", "temporary outage", errors.New("backend down"), true)
	assert.True(t, exception.IsTransient(err))
	assert.False(t, exception.IsPermanent(err))
}

func TestIsTransient_Sentinels(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"storage unavailable", exception.ErrStorageUnavailable, true},
		{"write timeout", exception.ErrWriteTimeout, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"malformed write", exception.ErrMalformedWrite, false},
		{"schema violation", exception.ErrSchemaViolation, false},
		{"wrapped storage unavailable", fmt.Errorf("write failed: %w", exception.ErrStorageUnavailable), true},
		{"wrapped schema violation", fmt.Errorf("write failed: %w", exception.ErrSchemaViolation), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, exception.IsTransient(tc.err))
		})
	}
}

func TestIsTransient_MessageHeuristics(t *testing.T) {
	assert.True(t, exception.IsTransient(errors.New("i/o timeout")))
	assert.True(t, exception.IsTransient(errors.New("connection reset by peer")))
	assert.False(t, exception.IsTransient(errors.New("syntax error at or near INSERT")))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, exception.IsCancellation(context.Canceled))
	assert.True(t, exception.IsCancellation(fmt.Errorf("lane stopped: %w", context.Canceled)))
	assert.False(t, exception.IsCancellation(context.DeadlineExceeded))
	assert.False(t, exception.IsCancellation(nil))
}

func TestIsCancellation_NotAFailureClass(t *testing.T) {
	assert.False(t, exception.IsTransient(context.Canceled))
	assert.False(t, exception.IsPermanent(context.Canceled))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, exception.IsFatal(exception.ErrSourceUnavailable))
	assert.True(t, exception.IsFatal(errors.Join(exception.ErrSourceUnavailable, errors.New("file missing"))))
	assert.False(t, exception.IsFatal(exception.ErrStorageUnavailable))
}
