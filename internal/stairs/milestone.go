package stairs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/solana"
)

// MilestoneLadder sells fixed fractions as market cap climbs through its
// levels, dumps everything at the sell-all cap, and protects the downside
// with an armed hard stop plus an instant-drop trigger.
type MilestoneLadder struct {
	config Config
	trader *Trader
	mcaps  McapSource
}

func NewMilestoneLadder(config Config, trader *Trader, mcaps McapSource) *MilestoneLadder {
	return &MilestoneLadder{config: config, trader: trader, mcaps: mcaps}
}

func (m *MilestoneLadder) Name() string { return "milestone" }

func (m *MilestoneLadder) Run(ctx context.Context, pos Position) (int64, error) {
	var (
		earned   uint64
		armed    bool
		lastMcap decimal.Decimal
		fired    = make([]bool, len(m.config.Levels))
	)

	finish := func() int64 {
		return int64(earned) - int64(pos.CostLamports)
	}

	// A scalp round has a fixed time budget; when it runs out the rest of
	// the bag is dumped at market.
	hold := time.NewTimer(m.config.Hold)
	defer hold.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutting down: flatten rather than hold an unmanaged bag.
			flattenCtx, cancel := flattenContext()
			out, _ := m.trader.SellAll(flattenCtx, pos.Mint)
			cancel()
			earned += out
			return finish(), ctx.Err()
		case <-hold.C:
			log.Info().Str("mint", string(pos.Mint)).Dur("hold", m.config.Hold).
				Msg("milestone: hold expired, selling out")
			out, err := m.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		case <-time.After(m.config.PollInterval):
		}

		mcap, err := m.mcaps.McapUSD(ctx, pos.Mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", string(pos.Mint)).Msg("milestone: mcap probe failed")
			continue
		}
		mcapF, _ := mcap.Float64()

		// Instant drop beats everything once we have a prior reading.
		if !lastMcap.IsZero() && lastMcap.Sign() > 0 {
			drop := lastMcap.Sub(mcap).Div(lastMcap)
			if dropF, _ := drop.Float64(); dropF >= m.config.InstantDropPct {
				log.Warn().Str("mint", string(pos.Mint)).Float64("drop", dropF).
					Msg("milestone: instant drop, flattening")
				out, err := m.trader.SellAll(ctx, pos.Mint)
				earned += out
				return finish(), err
			}
		}
		lastMcap = mcap

		if !armed {
			if mcapF >= m.config.ArmUSD {
				armed = true
				log.Info().Str("mint", string(pos.Mint)).Float64("mcap_usd", mcapF).
					Msg("milestone: armed")
			}
		} else if mcapF <= m.config.StopUSD {
			log.Warn().Str("mint", string(pos.Mint)).Float64("mcap_usd", mcapF).
				Msg("milestone: stop hit, flattening")
			out, err := m.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}

		if mcapF >= m.config.SellAllUSD {
			log.Info().Str("mint", string(pos.Mint)).Float64("mcap_usd", mcapF).
				Msg("milestone: top of ladder, selling out")
			out, err := m.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}

		for i, level := range m.config.Levels {
			if fired[i] || mcapF < level.McapUSD {
				continue
			}
			fired[i] = true
			out, err := m.trader.SellFraction(ctx, pos.Mint, level.Fraction)
			if err != nil {
				log.Warn().Err(err).Str("mint", string(pos.Mint)).
					Float64("level_usd", level.McapUSD).Msg("milestone: level sell failed")
				continue
			}
			earned += out
		}

		// If every partial sell drained the balance there is nothing left
		// to manage.
		if balance, err := m.balance(ctx, pos.Mint); err == nil && balance == 0 {
			return finish(), nil
		}
	}
}

func (m *MilestoneLadder) balance(ctx context.Context, mint solana.Pubkey) (uint64, error) {
	return m.trader.gateway.GetTokenBalance(ctx, mint)
}

var _ Strategy = (*MilestoneLadder)(nil)
