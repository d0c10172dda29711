package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestBucket(rate, capacity float64) (*Bucket, *fakeClock) {
	clock := &fakeClock{at: time.Unix(1_700_000_000, 0)}
	b := NewBucket(rate, capacity)
	b.now = clock.now
	b.updated = clock.at
	return b, clock
}

func TestBucketStartsFull(t *testing.T) {
	b, _ := newTestBucket(6, 6)
	for i := 0; i < 6; i++ {
		assert.True(t, b.TakeNow(), "take %d should succeed from a full bucket", i)
	}
	assert.False(t, b.TakeNow(), "seventh take must fail")
}

func TestBucketRefillsAtRate(t *testing.T) {
	b, clock := newTestBucket(2, 4)
	for b.TakeNow() {
	}

	clock.advance(500 * time.Millisecond)
	assert.True(t, b.TakeNow(), "one token after 500ms at 2/s")
	assert.False(t, b.TakeNow())

	clock.advance(10 * time.Second)
	assert.InDelta(t, 4.0, b.Tokens(), 0.001, "refill is capped at capacity")
}

func TestBucketAdmissionBound(t *testing.T) {
	// Over any window T, admitted requests never exceed capacity + rate*T.
	const (
		rate     = 5.0
		capacity = 10.0
	)
	b, clock := newTestBucket(rate, capacity)

	admitted := 0
	var window time.Duration
	for i := 0; i < 500; i++ {
		if b.TakeNow() {
			admitted++
		}
		clock.advance(37 * time.Millisecond)
		window += 37 * time.Millisecond
	}

	bound := capacity + rate*window.Seconds()
	assert.LessOrEqual(t, float64(admitted), bound+1)
}

func TestBucketWait(t *testing.T) {
	t.Run("returns immediately when tokens available", func(t *testing.T) {
		b := NewBucket(1, 1)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, b.Wait(ctx, 1))
	})

	t.Run("blocks until refill", func(t *testing.T) {
		b := NewBucket(50, 1)
		require.True(t, b.TakeNow())

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, b.Wait(ctx, 1))
		assert.Greater(t, time.Since(start), 5*time.Millisecond)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		b := NewBucket(0.001, 1)
		require.True(t, b.TakeNow())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, b.Wait(ctx, 1), context.DeadlineExceeded)
	})

	t.Run("rejects amounts above capacity", func(t *testing.T) {
		b := NewBucket(1, 2)
		assert.Error(t, b.Wait(context.Background(), 3))
	})
}
