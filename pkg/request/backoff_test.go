package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_NoStateNoWait(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute)

	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), "elevenlabs"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBackoff_FailureGates(t *testing.T) {
	b := NewBackoff(50*time.Millisecond, time.Second)
	b.Failure("elevenlabs")

	failures, next := b.Pending("elevenlabs")
	assert.Equal(t, 1, failures)
	assert.True(t, next.After(time.Now()))

	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), "elevenlabs"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestBackoff_SuccessRecovers(t *testing.T) {
	b := NewBackoff(50*time.Millisecond, time.Second)
	b.Failure("gemini")
	b.Success("gemini")

	failures, next := b.Pending("gemini")
	assert.Zero(t, failures)
	assert.True(t, next.IsZero())
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 300*time.Millisecond)

	// 2^9 * 100ms would be far over the cap; jitter adds at most 10%.
	d := b.delay(10)
	assert.LessOrEqual(t, d, 330*time.Millisecond)
	assert.GreaterOrEqual(t, d, 300*time.Millisecond)
}

func TestBackoff_WaitHonorsContext(t *testing.T) {
	b := NewBackoff(time.Minute, time.Hour)
	b.Failure("elevenlabs")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx, "elevenlabs")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
