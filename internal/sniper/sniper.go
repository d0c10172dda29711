// Package sniper turns validated candidates into positions: it sizes, buys
// and hands the position to an exit engine.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/solana"
)

// Swapper is the slice of the aggregator client the sniper needs.
type Swapper interface {
	Quote(ctx context.Context, inputMint, outputMint solana.Pubkey, amount uint64, slippageBps int) (*jupiter.Quote, error)
	SwapTx(ctx context.Context, quote *jupiter.Quote, userPubkey solana.Pubkey) (string, error)
}

// PriceSource supplies the SOL/USD price used for position sizing.
type PriceSource interface {
	SolPriceUSD(ctx context.Context) decimal.Decimal
}

// Exiter receives a freshly opened position.
type Exiter interface {
	Exit(ctx context.Context, mint solana.Pubkey, tokens uint64, costLamports uint64)
}

// ErrThinLiquidity means every quote attempt showed too much impact or too
// little depth.
var ErrThinLiquidity = errors.New("sniper: liquidity too thin")

// Config tunes entry behavior.
type Config struct {
	TradeUSD        float64       `yaml:"trade_usd"`
	MinLiquidityUSD float64       `yaml:"min_liquidity_usd"`
	MaxImpact       float64       `yaml:"max_impact"`
	BuySlippageBps  int           `yaml:"buy_slippage_bps"`
	SellSlippageBps int           `yaml:"sell_slippage_bps"`
	QuoteAttempts   int           `yaml:"quote_attempts"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	BalanceTimeout  time.Duration `yaml:"balance_timeout"`
	BalancePoll     time.Duration `yaml:"balance_poll"`
	SettleBuffer    time.Duration `yaml:"settle_buffer"`

	EntryMaxAgeSlots uint64        `yaml:"entry_max_age_slots"`
	EntryMaxAge      time.Duration `yaml:"entry_max_age"`
	MintAgeMin       time.Duration `yaml:"mint_age_min"`
	MintAgeMax       time.Duration `yaml:"mint_age_max"`
	RetryPause       time.Duration `yaml:"retry_pause"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`

	// BuyRate / BuyBurst pace admissions into buy tasks.
	BuyRate  float64 `yaml:"buy_rate"`
	BuyBurst float64 `yaml:"buy_burst"`

	// ExitAfter is how long a fresh position is held before the first
	// exit attempt. Positions whose balance never showed up get an extra
	// SettleBuffer on top.
	ExitAfter time.Duration `yaml:"exit_after"`

	SellFraction float64         `yaml:"sell_fraction"`
	SellMaxTries int             `yaml:"sell_max_tries"`
	SellSchedule []time.Duration `yaml:"sell_schedule"`
}

func DefaultConfig() Config {
	return Config{
		TradeUSD:        25,
		MinLiquidityUSD: 1000,
		MaxImpact:       0.95,
		BuySlippageBps:  300,
		SellSlippageBps: 500,
		QuoteAttempts:   3,
		ConfirmTimeout:  2500 * time.Millisecond,
		BalanceTimeout:  2500 * time.Millisecond,
		BalancePoll:     250 * time.Millisecond,
		SettleBuffer:    500 * time.Millisecond,

		EntryMaxAgeSlots: 3,
		EntryMaxAge:      8 * time.Second,
		MintAgeMin:       0,
		MintAgeMax:       90 * time.Second,
		RetryPause:       200 * time.Millisecond,
		MaxConcurrent:    4,
		BuyRate:          0.5,
		BuyBurst:         2,

		ExitAfter: 5 * time.Second,

		SellFraction: 0.995,
		SellMaxTries: 5,
		SellSchedule: []time.Duration{
			600 * time.Millisecond,
			1300 * time.Millisecond,
			2100 * time.Millisecond,
			3 * time.Second,
			4 * time.Second,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.TradeUSD <= 0 {
		c.TradeUSD = d.TradeUSD
	}
	if c.MinLiquidityUSD <= 0 {
		c.MinLiquidityUSD = d.MinLiquidityUSD
	}
	if c.MaxImpact <= 0 {
		c.MaxImpact = d.MaxImpact
	}
	if c.BuySlippageBps <= 0 {
		c.BuySlippageBps = d.BuySlippageBps
	}
	if c.SellSlippageBps <= 0 {
		c.SellSlippageBps = d.SellSlippageBps
	}
	if c.QuoteAttempts <= 0 {
		c.QuoteAttempts = d.QuoteAttempts
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.BalanceTimeout <= 0 {
		c.BalanceTimeout = d.BalanceTimeout
	}
	if c.BalancePoll <= 0 {
		c.BalancePoll = d.BalancePoll
	}
	if c.SettleBuffer <= 0 {
		c.SettleBuffer = d.SettleBuffer
	}
	if c.EntryMaxAgeSlots == 0 {
		c.EntryMaxAgeSlots = d.EntryMaxAgeSlots
	}
	if c.EntryMaxAge <= 0 {
		c.EntryMaxAge = d.EntryMaxAge
	}
	if c.MintAgeMax <= 0 {
		c.MintAgeMax = d.MintAgeMax
	}
	if c.RetryPause <= 0 {
		c.RetryPause = d.RetryPause
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.BuyRate <= 0 {
		c.BuyRate = d.BuyRate
	}
	if c.BuyBurst <= 0 {
		c.BuyBurst = d.BuyBurst
	}
	if c.ExitAfter <= 0 {
		c.ExitAfter = d.ExitAfter
	}
	if c.SellFraction <= 0 || c.SellFraction > 1 {
		c.SellFraction = d.SellFraction
	}
	if c.SellMaxTries <= 0 {
		c.SellMaxTries = d.SellMaxTries
	}
	if len(c.SellSchedule) == 0 {
		c.SellSchedule = d.SellSchedule
	}
}

// Sniper executes single buy attempts.
type Sniper struct {
	config   Config
	gateway  solana.Gateway
	swapper  Swapper
	prices   PriceSource
	recorder *analytics.Recorder
}

func NewSniper(config Config, gateway solana.Gateway, swapper Swapper, prices PriceSource, recorder *analytics.Recorder) *Sniper {
	config.applyDefaults()
	return &Sniper{
		config:   config,
		gateway:  gateway,
		swapper:  swapper,
		prices:   prices,
		recorder: recorder,
	}
}

// tradeLamports converts the configured USD size to lamports at the current
// SOL price.
func (s *Sniper) tradeLamports(ctx context.Context) uint64 {
	price := s.prices.SolPriceUSD(ctx)
	if price.IsZero() {
		return 0
	}
	lamports := decimal.NewFromFloat(s.config.TradeUSD).
		Div(price).
		Shift(9)
	return uint64(lamports.IntPart())
}

// SnipeOnce makes a single buy attempt: quote with liquidity checks, swap,
// confirm best-effort, then wait for tokens to land. Once the swap is sent
// the attempt counts as a fill; confirmation and balance polling only
// refine what is known about it.
func (s *Sniper) SnipeOnce(ctx context.Context, mint solana.Pubkey) (tokens uint64, costLamports uint64, err error) {
	lamports := s.tradeLamports(ctx)
	if lamports == 0 {
		return 0, 0, fmt.Errorf("sniper: zero position size")
	}

	if err := s.gateway.EnsureTokenAccount(ctx, mint); err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("sniper: ATA ensure failed, continuing")
	}

	quote, err := s.viableQuote(ctx, mint, lamports)
	if err != nil {
		return 0, 0, err
	}

	tx, err := s.swapper.SwapTx(ctx, quote, s.gateway.Owner())
	if err != nil {
		return 0, 0, fmt.Errorf("sniper: build swap: %w", err)
	}
	sig, err := s.gateway.SendSerializedTx(ctx, tx)
	if err != nil {
		return 0, 0, fmt.Errorf("sniper: send swap: %w", err)
	}

	confirmed, _ := s.gateway.Confirm(ctx, sig, s.config.ConfirmTimeout)
	log.Info().Str("mint", string(mint)).Str("sig", string(sig)).Bool("confirmed", confirmed).
		Uint64("lamports", lamports).Msg("sniper: buy sent")

	// The swap was accepted by the cluster: the position exists whether or
	// not the balance is visible yet. Zero tokens here just means the exit
	// should pad its timing with the settle buffer.
	tokens = s.awaitTokens(ctx, mint)
	if tokens == 0 {
		log.Warn().Str("mint", string(mint)).Msg("sniper: balance not visible yet")
	}

	s.recorder.Record(analytics.Trade{
		Mint:      mint,
		Side:      analytics.SideBuy,
		Lamports:  lamports,
		Tokens:    tokens,
		Signature: string(sig),
	})
	return tokens, lamports, nil
}

// viableQuote tries up to QuoteAttempts quotes, rejecting ones whose price
// impact is extreme or whose implied pool depth is below the floor.
func (s *Sniper) viableQuote(ctx context.Context, mint solana.Pubkey, lamports uint64) (*jupiter.Quote, error) {
	var lastErr error
	for attempt := 0; attempt < s.config.QuoteAttempts; attempt++ {
		quote, err := s.swapper.Quote(ctx, solana.SOLMint, mint, lamports, s.config.BuySlippageBps)
		if err != nil {
			lastErr = err
		} else if s.quoteViable(mint, quote) {
			return quote, nil
		} else {
			lastErr = ErrThinLiquidity
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RetryPause):
		}
	}
	return nil, lastErr
}

func (s *Sniper) quoteViable(mint solana.Pubkey, quote *jupiter.Quote) bool {
	if quote.OutAmount == 0 {
		return false
	}
	if quote.PriceImpactPct > s.config.MaxImpact {
		log.Debug().Str("mint", string(mint)).Float64("impact", quote.PriceImpactPct).
			Msg("sniper: quote rejected, impact too high")
		return false
	}
	// A trade of X USD moving the price by impact implies roughly
	// X/impact USD of depth.
	if quote.PriceImpactPct > 0 {
		estLiquidity := s.config.TradeUSD / quote.PriceImpactPct
		if estLiquidity < s.config.MinLiquidityUSD {
			log.Debug().Str("mint", string(mint)).Float64("est_liquidity_usd", estLiquidity).
				Msg("sniper: quote rejected, pool too shallow")
			return false
		}
	}
	return true
}

// awaitTokens polls the token balance until it is non-zero or the window
// closes.
func (s *Sniper) awaitTokens(ctx context.Context, mint solana.Pubkey) uint64 {
	deadline := time.Now().Add(s.config.BalanceTimeout)
	for time.Now().Before(deadline) {
		if balance, err := s.gateway.GetTokenBalance(ctx, mint); err == nil && balance > 0 {
			return balance
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(s.config.BalancePoll):
		}
	}
	return 0
}
