package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/engine/retry"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       3,
		BackoffBaseMillis: 200,
		BackoffCapMillis:  5000,
		Factor:            2.0,
	}
}

func TestExponentialPolicy_Backoff(t *testing.T) {
	p := retry.NewExponentialPolicy(testRetryConfig())

	assert.Equal(t, 200*time.Millisecond, p.NextBackoff(1))
	assert.Equal(t, 400*time.Millisecond, p.NextBackoff(2))
	assert.Equal(t, 800*time.Millisecond, p.NextBackoff(3))
	assert.Equal(t, 1600*time.Millisecond, p.NextBackoff(4))
}

func TestExponentialPolicy_BackoffCapped(t *testing.T) {
	p := retry.NewExponentialPolicy(testRetryConfig())

	assert.Equal(t, 5*time.Second, p.NextBackoff(10))
	assert.Equal(t, 5*time.Second, p.NextBackoff(60))
}

func TestExponentialPolicy_ShouldRetry(t *testing.T) {
	p := retry.NewExponentialPolicy(testRetryConfig())

	assert.True(t, p.ShouldRetry(exception.ErrWriteTimeout))
	assert.True(t, p.ShouldRetry(exception.ErrStorageUnavailable))
	assert.False(t, p.ShouldRetry(exception.ErrSchemaViolation))
	assert.False(t, p.ShouldRetry(exception.ErrMalformedWrite))
	assert.False(t, p.ShouldRetry(nil))
}

func TestExponentialPolicy_NeverRetriesCancellation(t *testing.T) {
	p := retry.NewExponentialPolicy(testRetryConfig())

	assert.False(t, p.ShouldRetry(context.Canceled))
	assert.False(t, p.ShouldRetry(errors.Join(exception.ErrWriteTimeout, context.Canceled)))
}

func TestExponentialPolicy_Defaults(t *testing.T) {
	p := retry.NewExponentialPolicy(config.RetryConfig{})

	assert.Equal(t, 1, p.MaxAttempts())
	assert.Positive(t, p.NextBackoff(1))
}
