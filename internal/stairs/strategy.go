package stairs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/solana"
)

// Position is an open holding handed to a strategy.
type Position struct {
	Mint         solana.Pubkey
	Tokens       uint64
	CostLamports uint64
}

// Strategy manages one position to completion and reports realized PnL in
// lamports.
type Strategy interface {
	Name() string
	Run(ctx context.Context, pos Position) (pnlLamports int64, err error)
}

// FlowProber answers whether a mint still shows fresh trading activity.
// *spike.Prober satisfies it.
type FlowProber interface {
	NextPop(ctx context.Context, mint solana.Pubkey) (bool, error)
}

// Selectable base strategies.
const (
	StrategyMilestone = "milestone"
	StrategyBag       = "bag"
)

// Level is one rung of the sell ladder.
type Level struct {
	McapUSD  float64 `yaml:"mcap_usd"`
	Fraction float64 `yaml:"fraction"`
}

// Config tunes all stairs strategies.
type Config struct {
	Strategy       string        `yaml:"strategy"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Hold           time.Duration `yaml:"hold"` // milestone round time budget
	ArmUSD         float64       `yaml:"arm_usd"`
	StopUSD        float64       `yaml:"stop_usd"`
	InstantDropPct float64       `yaml:"instant_drop_pct"`
	SellAllUSD     float64       `yaml:"sell_all_usd"`
	Levels         []Level       `yaml:"levels"`

	Bag     BagConfig     `yaml:"bag"`
	Reentry ReentryConfig `yaml:"reentry"`
	Jump    JumpConfig    `yaml:"jump"`

	SellSlippageBps int `yaml:"sell_slippage_bps"`
}

// BagConfig tunes the dynamic bag strategy.
type BagConfig struct {
	StartUSD    float64       `yaml:"start_usd"`
	StepUSD     float64       `yaml:"step_usd"`
	Fraction    float64       `yaml:"fraction"`
	MaxUSD      float64       `yaml:"max_usd"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxDuration time.Duration `yaml:"max_duration"`
	FreshFlow   bool          `yaml:"fresh_flow"` // probe for activity after each ladder sell
}

// ReentryConfig tunes re-buying after profitable exits.
type ReentryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	LossCooldown time.Duration `yaml:"loss_cooldown"`
	MaxRounds    int           `yaml:"max_rounds"`
	PopGate      bool          `yaml:"pop_gate"` // require a fresh pop before each re-buy
}

// JumpConfig gates ladder entry on an early market-cap jump instead of the
// default activity-spike gate: either a climb from below LoUSD to above
// HiUSD, or any rise of RequireDeltaUSD, observed within Window.
type JumpConfig struct {
	Enabled         bool          `yaml:"enabled"`
	LoUSD           float64       `yaml:"lo_usd"`
	HiUSD           float64       `yaml:"hi_usd"`
	RequireDeltaUSD float64       `yaml:"require_delta_usd"`
	Window          time.Duration `yaml:"window"`
	CheckInterval   time.Duration `yaml:"check_interval"`
}

func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyMilestone,
		PollInterval:   250 * time.Millisecond,
		Hold:           3 * time.Second,
		ArmUSD:         115_000,
		StopUSD:        110_000,
		InstantDropPct: 0.035,
		SellAllUSD:     160_000,
		Levels: []Level{
			{McapUSD: 120_000, Fraction: 0.30},
			{McapUSD: 130_000, Fraction: 0.25},
			{McapUSD: 140_000, Fraction: 0.20},
			{McapUSD: 150_000, Fraction: 0.15},
		},
		Bag: BagConfig{
			StartUSD:    120_000,
			StepUSD:     10_000,
			Fraction:    0.10,
			MaxUSD:      2_000_000,
			IdleTimeout: 10 * time.Second,
			MaxDuration: 10 * time.Minute,
		},
		Reentry: ReentryConfig{
			Enabled:      false,
			LossCooldown: 2 * time.Minute,
			MaxRounds:    5,
		},
		Jump: JumpConfig{
			Enabled:         false,
			LoUSD:           15_000,
			HiUSD:           60_000,
			RequireDeltaUSD: 45_000,
			Window:          time.Minute,
			CheckInterval:   200 * time.Millisecond,
		},
		SellSlippageBps: 500,
	}
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategyMilestone, StrategyBag:
	default:
		return fmt.Errorf("stairs: unknown strategy %q", c.Strategy)
	}
	if c.StopUSD >= c.ArmUSD {
		return fmt.Errorf("stairs: stop_usd %.0f must be below arm_usd %.0f", c.StopUSD, c.ArmUSD)
	}
	if c.InstantDropPct <= 0 || c.InstantDropPct >= 1 {
		return fmt.Errorf("stairs: instant_drop_pct %.3f must be in (0,1)", c.InstantDropPct)
	}
	prev := 0.0
	for i, l := range c.Levels {
		if l.McapUSD <= prev {
			return fmt.Errorf("stairs: levels must be strictly ascending (level %d)", i)
		}
		if l.Fraction <= 0 || l.Fraction > 1 {
			return fmt.Errorf("stairs: level %d fraction %.3f out of range", i, l.Fraction)
		}
		prev = l.McapUSD
	}
	if len(c.Levels) > 0 && c.SellAllUSD <= c.Levels[len(c.Levels)-1].McapUSD {
		return fmt.Errorf("stairs: sell_all_usd %.0f must sit above the last level", c.SellAllUSD)
	}
	if c.Bag.StepUSD <= 0 || c.Bag.Fraction <= 0 || c.Bag.Fraction > 1 {
		return fmt.Errorf("stairs: bag step/fraction invalid")
	}
	if c.Bag.MaxUSD <= c.Bag.StartUSD {
		return fmt.Errorf("stairs: bag max_usd must exceed start_usd")
	}
	if c.Reentry.Enabled && c.Reentry.LossCooldown <= 0 {
		return fmt.Errorf("stairs: reentry loss_cooldown must be positive")
	}
	if c.Hold <= 0 {
		return fmt.Errorf("stairs: hold must be positive")
	}
	if c.Jump.Enabled {
		if c.Jump.HiUSD <= c.Jump.LoUSD {
			return fmt.Errorf("stairs: jump hi_usd %.0f must exceed lo_usd %.0f", c.Jump.HiUSD, c.Jump.LoUSD)
		}
		if c.Jump.RequireDeltaUSD <= 0 {
			return fmt.Errorf("stairs: jump require_delta_usd must be positive")
		}
		if c.Jump.Window <= 0 || c.Jump.CheckInterval <= 0 {
			return fmt.Errorf("stairs: jump window and check_interval must be positive")
		}
	}
	return nil
}

// flattenContext bounds the final sell issued after the run context is
// already dead, so shutdown cannot hang on a stalled RPC.
func flattenContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

// Trader executes partial sells for strategies.
type Trader struct {
	config   Config
	gateway  solana.Gateway
	swapper  Swapper
	recorder *analytics.Recorder
}

func NewTrader(config Config, gateway solana.Gateway, swapper Swapper, recorder *analytics.Recorder) *Trader {
	return &Trader{config: config, gateway: gateway, swapper: swapper, recorder: recorder}
}

// SellFraction liquidates fraction of the current balance and returns the
// lamports earned. Selling a zero balance is not an error: the position is
// simply gone.
func (t *Trader) SellFraction(ctx context.Context, mint solana.Pubkey, fraction float64) (uint64, error) {
	balance, err := t.gateway.GetTokenBalance(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("stairs: balance %s: %w", mint, err)
	}
	if balance == 0 {
		return 0, nil
	}

	amount := uint64(float64(balance) * fraction)
	if amount == 0 {
		return 0, nil
	}

	quote, err := t.swapper.Quote(ctx, mint, solana.SOLMint, amount, t.config.SellSlippageBps)
	if err != nil {
		return 0, fmt.Errorf("stairs: sell quote %s: %w", mint, err)
	}
	tx, err := t.swapper.SwapTx(ctx, quote, t.gateway.Owner())
	if err != nil {
		return 0, fmt.Errorf("stairs: sell build %s: %w", mint, err)
	}
	sig, err := t.gateway.SendSerializedTx(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("stairs: sell send %s: %w", mint, err)
	}
	t.gateway.Confirm(ctx, sig, 2500*time.Millisecond)

	t.recorder.Record(analytics.Trade{
		Mint:      mint,
		Side:      analytics.SideSell,
		Lamports:  quote.OutAmount,
		Tokens:    amount,
		Signature: string(sig),
	})
	log.Info().Str("mint", string(mint)).Float64("fraction", fraction).
		Uint64("earned_lamports", quote.OutAmount).Msg("stairs: partial sell")
	return quote.OutAmount, nil
}

// SellAll liquidates the whole remaining balance.
func (t *Trader) SellAll(ctx context.Context, mint solana.Pubkey) (uint64, error) {
	return t.SellFraction(ctx, mint, 1.0)
}
