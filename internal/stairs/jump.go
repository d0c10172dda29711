package stairs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Jump holds a position until the market cap makes an early jump, then hands
// it to the inner strategy. A jump is either a climb from below LoUSD to
// above HiUSD or any rise of RequireDeltaUSD over the first good reading.
// Positions that never jump inside the window are flattened.
type Jump struct {
	config Config
	mcaps  McapSource
	inner  Strategy
	trader *Trader
}

func NewJump(config Config, mcaps McapSource, inner Strategy, trader *Trader) *Jump {
	return &Jump{config: config, mcaps: mcaps, inner: inner, trader: trader}
}

func (j *Jump) Name() string { return "jump(" + j.inner.Name() + ")" }

func (j *Jump) Run(ctx context.Context, pos Position) (int64, error) {
	jumped, err := j.watch(ctx, pos)
	switch {
	case err != nil:
		// Context ended; flatten on a bounded context so shutdown does
		// not strand the bag.
		flattenCtx, cancel := flattenContext()
		earned, _ := j.trader.SellAll(flattenCtx, pos.Mint)
		cancel()
		return int64(earned) - int64(pos.CostLamports), err
	case !jumped:
		log.Info().Str("mint", string(pos.Mint)).Msg("jump: no move inside window, flattening")
		earned, sellErr := j.trader.SellAll(ctx, pos.Mint)
		return int64(earned) - int64(pos.CostLamports), sellErr
	}
	log.Info().Str("mint", string(pos.Mint)).Msg("jump: detected, engaging ladder")
	return j.inner.Run(ctx, pos)
}

// watch polls the market cap until a jump shows up or the window closes.
// Bad readings are skipped; the first good one becomes the baseline.
func (j *Jump) watch(ctx context.Context, pos Position) (bool, error) {
	cfg := j.config.Jump
	deadline := time.NewTimer(cfg.Window)
	defer deadline.Stop()

	var base float64
	haveBase := false

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-time.After(cfg.CheckInterval):
		}

		mcap, err := j.mcaps.McapUSD(ctx, pos.Mint)
		if err != nil {
			continue
		}
		m, _ := mcap.Float64()
		if m <= 0 {
			continue
		}

		if !haveBase {
			base = m
			haveBase = true
			log.Debug().Str("mint", string(pos.Mint)).Float64("mcap_usd", m).
				Msg("jump: baseline set")
			continue
		}

		if (base <= cfg.LoUSD && m >= cfg.HiUSD) || m-base >= cfg.RequireDeltaUSD {
			log.Info().Str("mint", string(pos.Mint)).Float64("from_usd", base).
				Float64("to_usd", m).Msg("jump: market cap moved")
			return true, nil
		}
	}
}

var _ Strategy = (*Jump)(nil)
