package ratelimit

import (
	"testing"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllowsWithinBurst(t *testing.T) {
	limiter := New(Settings{RequestsPerMinute: 120, Burst: 2})
	assert.NoError(t, limiter.Check())
	assert.NoError(t, limiter.Check())
}

func TestCheck_RejectsWhenExhausted(t *testing.T) {
	limiter := New(Settings{RequestsPerMinute: 2, Burst: 1})
	require.NoError(t, limiter.Check())

	err := limiter.Check()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeRateLimited, appErr.Code)
	assert.Equal(t, time.Second, appErr.RetryAfter)
}

// Seed scenario: rate limit exhaustion and refill.
func TestCheck_RefillsOverTime(t *testing.T) {
	limiter := New(Settings{RequestsPerMinute: 60, Burst: 1})

	require.NoError(t, limiter.Check())
	require.Error(t, limiter.Check())

	time.Sleep(1100 * time.Millisecond)
	assert.NoError(t, limiter.Check())
}

func TestNew_ClampsSubOneSettingsToOne(t *testing.T) {
	limiter := New(Settings{RequestsPerMinute: 0, Burst: 0})
	assert.Equal(t, float64(1), limiter.capacity)
	assert.Equal(t, float64(1)/60.0, limiter.ratePerSecond)
}

func TestCheck_NeverExceedsCapacityAfterLongIdle(t *testing.T) {
	limiter := New(Settings{RequestsPerMinute: 600, Burst: 3})
	limiter.lastRefill = time.Now().Add(-time.Hour)

	require.NoError(t, limiter.Check())
	require.NoError(t, limiter.Check())
	require.NoError(t, limiter.Check())
	assert.Error(t, limiter.Check())
}
