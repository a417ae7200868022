package ratebudget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDecrementsRemaining(t *testing.T) {
	b := New(10, time.Nanosecond)

	err := b.Acquire(context.Background(), 3)
	require.NoError(t, err)

	remaining, _ := b.Snapshot()
	assert.Equal(t, 7, remaining)
}

func TestAcquireDefaultsToOnePermit(t *testing.T) {
	b := New(5, time.Nanosecond)

	require.NoError(t, b.Acquire(context.Background(), 0))

	remaining, _ := b.Snapshot()
	assert.Equal(t, 4, remaining)
}

func TestAcquireRejectsOversizedRequest(t *testing.T) {
	b := New(5, time.Nanosecond)

	err := b.Acquire(context.Background(), 6)
	assert.Error(t, err)
}

func TestObserveIsAuthoritative(t *testing.T) {
	b := New(5000, time.Nanosecond)
	reset := time.Now().Add(10 * time.Minute)

	b.Observe(42, reset)

	remaining, resetAt := b.Snapshot()
	assert.Equal(t, 42, remaining)
	assert.Equal(t, reset, resetAt)
}

func TestObserveIgnoresNegativeRemaining(t *testing.T) {
	b := New(100, time.Nanosecond)

	b.Observe(-1, time.Time{})

	remaining, _ := b.Snapshot()
	assert.Equal(t, 100, remaining)
}

func TestAcquireBlocksUntilResetThenRefills(t *testing.T) {
	old := refillJitterMax
	refillJitterMax = time.Millisecond
	defer func() { refillJitterMax = old }()

	b := New(10, time.Nanosecond)
	b.Observe(0, time.Now().Add(60*time.Millisecond))

	waited := false
	b.OnWait = func(time.Time) { waited = true }

	start := time.Now()
	err := b.Acquire(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, waited, "expected OnWait callback before sleeping")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	remaining, _ := b.Snapshot()
	assert.Equal(t, 9, remaining, "refill to capacity, minus the acquired permit")
}

func TestAcquireHonorsCancellation(t *testing.T) {
	b := New(10, time.Nanosecond)
	b.Observe(0, time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestForTokenPicksQuota(t *testing.T) {
	anon := ForToken("")
	remaining, _ := anon.Snapshot()
	assert.Equal(t, AnonymousQuota, remaining)

	authed := ForToken("ghp_example")
	remaining, _ = authed.Snapshot()
	assert.Equal(t, AuthenticatedQuota, remaining)
}
