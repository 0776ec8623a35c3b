package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, 0, 0)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "first failure", err: errors.New("boom"), attempt: 1, want: true},
		{name: "second failure", err: errors.New("boom"), attempt: 2, want: true},
		{name: "ceiling reached", err: errors.New("boom"), attempt: 3, want: false},
		{name: "canceled", err: fmt.Errorf("wrapped: %w", context.Canceled), attempt: 1, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, policy.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestNewRetryPolicyDefaultsCeiling(t *testing.T) {
	t.Parallel()
	assert.Equal(t, defaultMaxAttempts, NewRetryPolicy(0, 0, 0).maxAttempts)
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	require.NoError(t, statusError(http.StatusOK))
	require.NoError(t, statusError(http.StatusNotFound))
	require.ErrorIs(t, statusError(http.StatusTooManyRequests), errRetryableStatus)
	require.ErrorIs(t, statusError(http.StatusInternalServerError), errRetryableStatus)
	require.ErrorIs(t, statusError(http.StatusGatewayTimeout), errRetryableStatus)
}

func TestRandomBetween(t *testing.T) {
	t.Parallel()

	for range 50 {
		got := randomBetween(time.Second, 2*time.Second)
		assert.GreaterOrEqual(t, got, time.Second)
		assert.LessOrEqual(t, got, 2*time.Second)
	}
	assert.Equal(t, time.Second, randomBetween(time.Second, time.Second))
	assert.Equal(t, time.Duration(0), randomBetween(-time.Second, 0))

	swapped := randomBetween(3*time.Second, 2*time.Second)
	assert.GreaterOrEqual(t, swapped, 2*time.Second)
	assert.LessOrEqual(t, swapped, 3*time.Second)
}

func TestBackoffWithinWindow(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, 2*time.Second, 3*time.Second)
	for attempt := 1; attempt <= 3; attempt++ {
		got := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, got, 2*time.Second)
		assert.LessOrEqual(t, got, 3*time.Second)
	}
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	(&timerPauseController{}).Pause(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
