// Package ratelimit provides a token bucket used to pace upstream API calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bucket is a lazily refilled token bucket. Tokens accrue continuously at
// the configured rate up to the capacity; refill happens on access, so an
// idle bucket costs nothing.
type Bucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	updated  time.Time

	now func() time.Time
}

// NewBucket creates a full bucket. rate and capacity must be positive.
func NewBucket(rate, capacity float64) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	b := &Bucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		now:      time.Now,
	}
	b.updated = b.now()
	return b
}

// refill must be called with the lock held.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.updated).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.updated = now
}

// Take removes amount tokens if available, returning false otherwise. It
// never blocks.
func (b *Bucket) Take(amount float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= amount {
		b.tokens -= amount
		return true
	}
	return false
}

// TakeNow is Take(1).
func (b *Bucket) TakeNow() bool { return b.Take(1) }

// Wait blocks until amount tokens can be taken or the context ends.
func (b *Bucket) Wait(ctx context.Context, amount float64) error {
	if amount > b.capacity {
		return fmt.Errorf("ratelimit: requested %.1f tokens, capacity %.1f", amount, b.capacity)
	}
	for {
		if b.Take(amount) {
			return nil
		}
		// Sleep roughly long enough for the deficit to refill.
		pause := time.Duration(amount / b.rate * float64(time.Second))
		if pause < 10*time.Millisecond {
			pause = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// Tokens reports the current token count after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
