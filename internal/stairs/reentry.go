package stairs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/solana"
)

// Buyer opens a fresh position in a mint.
type Buyer interface {
	SnipeOnce(ctx context.Context, mint solana.Pubkey) (tokens uint64, costLamports uint64, err error)
}

// Cooldowns tracks mints that recently produced a loss and must not be
// re-entered for a while.
type Cooldowns struct {
	mu    sync.Mutex
	until map[solana.Pubkey]time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: make(map[solana.Pubkey]time.Time)}
}

func (c *Cooldowns) Block(mint solana.Pubkey, d time.Duration) {
	c.mu.Lock()
	c.until[mint] = time.Now().Add(d)
	c.mu.Unlock()
}

func (c *Cooldowns) Blocked(mint solana.Pubkey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[mint]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.until, mint)
		return false
	}
	return true
}

// Reentry wraps another strategy: after a profitable round it buys back in
// and runs again, until a round loses money or the round budget runs out.
// A losing mint lands on the cooldown list.
type Reentry struct {
	config    Config
	inner     Strategy
	buyer     Buyer
	cooldowns *Cooldowns
	prober    FlowProber // nil skips the pop gate
}

func NewReentry(config Config, inner Strategy, buyer Buyer, cooldowns *Cooldowns, prober FlowProber) *Reentry {
	if !config.Reentry.PopGate {
		prober = nil
	}
	return &Reentry{config: config, inner: inner, buyer: buyer, cooldowns: cooldowns, prober: prober}
}

func (r *Reentry) Name() string { return "reentry(" + r.inner.Name() + ")" }

func (r *Reentry) Run(ctx context.Context, pos Position) (int64, error) {
	var total int64

	rounds := r.config.Reentry.MaxRounds
	if rounds <= 0 {
		rounds = 1
	}

	current := pos
	for round := 1; round <= rounds; round++ {
		pnl, err := r.inner.Run(ctx, current)
		total += pnl
		if err != nil {
			return total, err
		}
		if pnl <= 0 {
			r.cooldowns.Block(current.Mint, r.config.Reentry.LossCooldown)
			log.Info().Str("mint", string(current.Mint)).Int("round", round).
				Int64("pnl_lamports", pnl).Msg("reentry: losing round, cooling down")
			return total, nil
		}
		if round == rounds {
			break
		}

		if r.prober != nil {
			popped, err := r.prober.NextPop(ctx, current.Mint)
			if err != nil {
				return total, err
			}
			if !popped {
				log.Info().Str("mint", string(current.Mint)).
					Msg("reentry: token went quiet, keeping profit")
				return total, nil
			}
		}

		tokens, cost, err := r.buyer.SnipeOnce(ctx, current.Mint)
		if err != nil {
			log.Info().Err(err).Str("mint", string(current.Mint)).
				Msg("reentry: re-buy failed, keeping profit")
			return total, nil
		}
		current = Position{Mint: current.Mint, Tokens: tokens, CostLamports: cost}
		log.Info().Str("mint", string(current.Mint)).Int("round", round+1).
			Msg("reentry: bought back in")
	}
	return total, nil
}

var _ Strategy = (*Reentry)(nil)
