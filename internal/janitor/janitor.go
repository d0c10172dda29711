// Package janitor reclaims rent from empty token accounts left behind by
// closed positions, without ever getting in the way of live trading.
package janitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/solana"
)

// Config tunes the sweep cadence and safety rails.
type Config struct {
	Interval     time.Duration `yaml:"interval"`      // time between sweeps
	IdleWindow   time.Duration `yaml:"idle_window"`   // required quiet time since last trade
	SweepCap     int           `yaml:"sweep_cap"`     // max closes per sweep
	MintCooldown time.Duration `yaml:"mint_cooldown"` // min gap between attempts on one mint
	MinLamports  uint64        `yaml:"min_lamports"`  // SOL reserve below which we do nothing
}

func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		IdleWindow:   30 * time.Second,
		SweepCap:     5,
		MintCooldown: 10 * time.Minute,
		MinLamports:  10_000_000, // 0.01 SOL for fees
	}
}

// Janitor periodically closes empty token accounts. Trading components call
// NoteActivity so sweeps only happen in quiet stretches.
type Janitor struct {
	config  Config
	gateway solana.Gateway

	mu           sync.Mutex
	lastActivity time.Time
	lastAttempt  map[solana.Pubkey]time.Time

	closed atomic.Int64
	failed atomic.Int64
}

func New(config Config, gateway solana.Gateway) *Janitor {
	d := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.IdleWindow <= 0 {
		config.IdleWindow = d.IdleWindow
	}
	if config.SweepCap <= 0 {
		config.SweepCap = d.SweepCap
	}
	if config.MintCooldown <= 0 {
		config.MintCooldown = d.MintCooldown
	}
	return &Janitor{
		config:      config,
		gateway:     gateway,
		lastAttempt: make(map[solana.Pubkey]time.Time),
	}
}

// NoteActivity marks the wallet as busy, deferring sweeps.
func (j *Janitor) NoteActivity() {
	j.mu.Lock()
	j.lastActivity = time.Now()
	j.mu.Unlock()
}

// Run sweeps on the configured interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep closes up to SweepCap empty token accounts, provided the wallet has
// been idle and holds enough SOL for fees.
func (j *Janitor) Sweep(ctx context.Context) int {
	j.mu.Lock()
	idle := j.lastActivity.IsZero() || time.Since(j.lastActivity) >= j.config.IdleWindow
	j.mu.Unlock()
	if !idle {
		return 0
	}

	if lamports, err := j.gateway.GetLamports(ctx); err != nil || lamports < j.config.MinLamports {
		return 0
	}

	accounts, err := j.gateway.ListTokenAccounts(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("janitor: account listing failed")
		return 0
	}

	closed := 0
	for _, account := range accounts {
		if closed >= j.config.SweepCap {
			break
		}
		if account.Amount != 0 {
			continue
		}

		j.mu.Lock()
		last, tried := j.lastAttempt[account.Mint]
		if tried && time.Since(last) < j.config.MintCooldown {
			j.mu.Unlock()
			continue
		}
		j.lastAttempt[account.Mint] = time.Now()
		j.mu.Unlock()

		if err := j.gateway.CloseTokenAccount(ctx, account.Mint); err != nil {
			j.failed.Add(1)
			log.Debug().Err(err).Str("mint", string(account.Mint)).Msg("janitor: close failed")
			continue
		}
		closed++
		j.closed.Add(1)
		log.Info().Str("mint", string(account.Mint)).Msg("janitor: reclaimed empty token account")
	}
	return closed
}

// Stats reports sweep counters.
type Stats struct {
	Closed int64 `json:"closed"`
	Failed int64 `json:"failed"`
}

func (j *Janitor) Stats() Stats {
	return Stats{Closed: j.closed.Load(), Failed: j.failed.Load()}
}
