package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollUntil(t *testing.T) {
	clock := newFakeClock()

	polls := 0
	err := PollUntil(context.Background(), clock, 500*time.Millisecond, 10*time.Second, func(ctx context.Context) (bool, error) {
		polls++
		return polls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 2, clock.Slept(500*time.Millisecond))
}

func TestPollUntil_Timeout(t *testing.T) {
	clock := newFakeClock()

	polls := 0
	err := PollUntil(context.Background(), clock, time.Second, 2500*time.Millisecond, func(ctx context.Context) (bool, error) {
		polls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 2, clock.Slept(time.Second))
}

func TestPollUntil_ConditionError(t *testing.T) {
	boom := errors.New("target crashed")

	polls := 0
	err := PollUntil(context.Background(), newFakeClock(), time.Second, 5*time.Second, func(ctx context.Context) (bool, error) {
		polls++
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, polls)
}

func TestPollCount(t *testing.T) {
	tests := []struct {
		interval time.Duration
		timeout  time.Duration
		want     int
	}{
		{interval: time.Second, timeout: 10 * time.Second, want: 10},
		{interval: time.Second, timeout: 2500 * time.Millisecond, want: 3},
		{interval: 2 * time.Second, timeout: time.Second, want: 1},
		{interval: 0, timeout: time.Second, want: 1},
		{interval: time.Second, timeout: 0, want: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pollCount(tt.interval, tt.timeout), "interval %v timeout %v", tt.interval, tt.timeout)
	}
}

func TestRealClock_SleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewRealClock().Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
