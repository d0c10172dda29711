package sniper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/membot-trading/membot/internal/dedup"
	"github.com/membot-trading/membot/internal/ratelimit"
	"github.com/membot-trading/membot/internal/solana"
	"github.com/membot-trading/membot/internal/watcher"
)

// Coordinator admits candidates through a fixed filter chain and dispatches
// bounded buy tasks. Admission order is deliberate: the cheap slot check
// runs first, the RPC-heavy mint-age check only for survivors, and the
// token bucket last so rejected candidates never consume buy budget.
type Coordinator struct {
	config  Config
	gateway solana.Gateway
	sniper  *Sniper
	exiter  Exiter
	seen    *dedup.Set
	bucket  *ratelimit.Bucket
	slots   *semaphore.Weighted

	admitted      atomic.Int64
	rejectedSlot  atomic.Int64
	rejectedAge   atomic.Int64
	rejectedSeen  atomic.Int64
	rejectedBurst atomic.Int64
	buys          atomic.Int64
	misses        atomic.Int64
}

// NewCoordinator wires the admission chain. bucket paces buy admissions and
// seen deduplicates mints across the whole run.
func NewCoordinator(config Config, gateway solana.Gateway, sniper *Sniper, exiter Exiter, seen *dedup.Set, bucket *ratelimit.Bucket) *Coordinator {
	config.applyDefaults()
	return &Coordinator{
		config:  config,
		gateway: gateway,
		sniper:  sniper,
		exiter:  exiter,
		seen:    seen,
		bucket:  bucket,
		slots:   semaphore.NewWeighted(config.MaxConcurrent),
	}
}

// Run consumes candidates until the channel closes or ctx ends.
func (c *Coordinator) Run(ctx context.Context, candidates <-chan watcher.Candidate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case candidate, ok := <-candidates:
			if !ok {
				return nil
			}
			if !c.admit(ctx, candidate) {
				continue
			}
			if err := c.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			go func(cand watcher.Candidate) {
				defer c.slots.Release(1)
				c.buyWindow(ctx, cand)
			}(candidate)
		}
	}
}

// admit applies the filter chain in order and reports whether the candidate
// proceeds to a buy task.
func (c *Coordinator) admit(ctx context.Context, candidate watcher.Candidate) bool {
	mint := candidate.Mint

	// Slot age: candidates observed with a slot are rejected once the
	// chain has moved too far past them.
	if candidate.Slot > 0 {
		if current, err := c.gateway.CurrentSlot(ctx); err == nil && current > candidate.Slot {
			if current-candidate.Slot > c.config.EntryMaxAgeSlots {
				c.rejectedSlot.Add(1)
				log.Debug().Str("mint", string(mint)).Uint64("behind", current-candidate.Slot).
					Msg("coordinator: rejected, slot too old")
				return false
			}
		}
	}

	// True mint age from transaction history.
	age, known, err := c.gateway.MintAge(ctx, mint, c.config.MintAgeMax)
	if err == nil && known {
		if age < c.config.MintAgeMin || age > c.config.MintAgeMax {
			c.rejectedAge.Add(1)
			log.Debug().Str("mint", string(mint)).Dur("age", age).
				Msg("coordinator: rejected, mint age out of range")
			return false
		}
	}

	if c.seen.Has(string(mint)) {
		c.rejectedSeen.Add(1)
		return false
	}

	// Buy admission never blocks: when the bucket is dry the candidate is
	// dropped, not queued, because a stale snipe is worse than none. The
	// mint is only marked seen once it clears the bucket, so a dropped
	// candidate can still be admitted on a later sighting.
	if !c.bucket.TakeNow() {
		c.rejectedBurst.Add(1)
		log.Debug().Str("mint", string(mint)).Msg("coordinator: rejected, buy budget exhausted")
		return false
	}
	c.seen.Add(string(mint))

	c.admitted.Add(1)
	return true
}

// buyWindow retries SnipeOnce with short pauses until a buy lands or the
// entry window expires, then hands any position to the exit engine.
func (c *Coordinator) buyWindow(ctx context.Context, candidate watcher.Candidate) {
	mint := candidate.Mint
	deadline := candidate.FirstSeen.Add(c.config.EntryMaxAge)
	if candidate.FirstSeen.IsZero() {
		deadline = time.Now().Add(c.config.EntryMaxAge)
	}

	for time.Now().Before(deadline) {
		tokens, cost, err := c.sniper.SnipeOnce(ctx, mint)
		if err == nil {
			c.buys.Add(1)
			c.exiter.Exit(ctx, mint, tokens, cost)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Debug().Err(err).Str("mint", string(mint)).Msg("coordinator: buy attempt failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryPause):
		}
	}

	c.misses.Add(1)
	log.Info().Str("mint", string(mint)).Msg("coordinator: entry window expired")
}

// CoordinatorStats is a snapshot of admission counters.
type CoordinatorStats struct {
	Admitted      int64 `json:"admitted"`
	RejectedSlot  int64 `json:"rejected_slot"`
	RejectedAge   int64 `json:"rejected_age"`
	RejectedSeen  int64 `json:"rejected_seen"`
	RejectedBurst int64 `json:"rejected_burst"`
	Buys          int64 `json:"buys"`
	Misses        int64 `json:"misses"`
}

func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Admitted:      c.admitted.Load(),
		RejectedSlot:  c.rejectedSlot.Load(),
		RejectedAge:   c.rejectedAge.Load(),
		RejectedSeen:  c.rejectedSeen.Load(),
		RejectedBurst: c.rejectedBurst.Load(),
		Buys:          c.buys.Load(),
		Misses:        c.misses.Load(),
	}
}
