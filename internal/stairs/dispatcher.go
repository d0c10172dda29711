package stairs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/membot-trading/membot/internal/solana"
)

// StrategyFactory builds a fresh strategy instance per position; strategies
// carry per-run state and must not be shared.
type StrategyFactory func() Strategy

// Dispatcher runs one strategy goroutine per open position, bounded by a
// semaphore so a burst of fills cannot fan out without limit.
type Dispatcher struct {
	factory   StrategyFactory
	cooldowns *Cooldowns
	slots     *semaphore.Weighted

	mu     sync.Mutex
	active map[solana.Pubkey]bool
	wg     sync.WaitGroup

	dispatched atomic.Int64
	wins       atomic.Int64
	losses     atomic.Int64
	netPnl     atomic.Int64
}

func NewDispatcher(factory StrategyFactory, cooldowns *Cooldowns, maxConcurrent int64) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Dispatcher{
		factory:   factory,
		cooldowns: cooldowns,
		slots:     semaphore.NewWeighted(maxConcurrent),
		active:    make(map[solana.Pubkey]bool),
	}
}

// Exit receives a fresh position and manages it asynchronously. A mint that
// is already being managed, or is cooling down after a loss, is ignored.
func (d *Dispatcher) Exit(ctx context.Context, mint solana.Pubkey, tokens uint64, costLamports uint64) {
	if d.cooldowns.Blocked(mint) {
		log.Debug().Str("mint", string(mint)).Msg("dispatcher: mint on cooldown, ignoring")
		return
	}

	d.mu.Lock()
	if d.active[mint] {
		d.mu.Unlock()
		return
	}
	d.active[mint] = true
	d.mu.Unlock()

	if err := d.slots.Acquire(ctx, 1); err != nil {
		d.release(mint)
		return
	}

	runID := uuid.NewString()
	d.dispatched.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.slots.Release(1)
		defer d.release(mint)

		strategy := d.factory()
		log.Info().Str("mint", string(mint)).Str("run", runID).
			Str("strategy", strategy.Name()).Msg("dispatcher: position opened")
		pnl, err := strategy.Run(ctx, Position{Mint: mint, Tokens: tokens, CostLamports: costLamports})
		d.netPnl.Add(pnl)
		if pnl > 0 {
			d.wins.Add(1)
		} else {
			d.losses.Add(1)
		}
		log.Info().Str("mint", string(mint)).Str("run", runID).Str("strategy", strategy.Name()).
			Int64("pnl_lamports", pnl).Err(err).Msg("dispatcher: position finished")
	}()
}

func (d *Dispatcher) release(mint solana.Pubkey) {
	d.mu.Lock()
	delete(d.active, mint)
	d.mu.Unlock()
}

// Wait blocks until every in-flight strategy returns.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// DispatcherStats is a snapshot of outcome counters.
type DispatcherStats struct {
	Dispatched  int64 `json:"dispatched"`
	Wins        int64 `json:"wins"`
	Losses      int64 `json:"losses"`
	NetLamports int64 `json:"net_lamports"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched:  d.dispatched.Load(),
		Wins:        d.wins.Load(),
		Losses:      d.losses.Load(),
		NetLamports: d.netPnl.Load(),
	}
}
