package stairs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DynamicBag trails the market cap upward: every time the cap crosses the
// current threshold it sells a slice and raises the bar one step. The
// position is flattened when the cap stalls or the run simply lasts too
// long, and the same downside protection as the milestone ladder applies:
// an instant-drop trigger plus a hard stop armed once the cap clears the
// arm level.
type DynamicBag struct {
	config Config
	trader *Trader
	mcaps  McapSource
	prober FlowProber // nil disables fresh-flow probing
}

func NewDynamicBag(config Config, trader *Trader, mcaps McapSource, prober FlowProber) *DynamicBag {
	if !config.Bag.FreshFlow {
		prober = nil
	}
	return &DynamicBag{config: config, trader: trader, mcaps: mcaps, prober: prober}
}

func (d *DynamicBag) Name() string { return "dynamic-bag" }

func (d *DynamicBag) Run(ctx context.Context, pos Position) (int64, error) {
	bag := d.config.Bag
	var (
		earned    uint64
		threshold = bag.StartUSD
		started   = time.Now()
		lastStep  = time.Now()
		armed     bool
		lastMcap  decimal.Decimal
	)

	finish := func() int64 { return int64(earned) - int64(pos.CostLamports) }

	for {
		select {
		case <-ctx.Done():
			flattenCtx, cancel := flattenContext()
			out, _ := d.trader.SellAll(flattenCtx, pos.Mint)
			cancel()
			earned += out
			return finish(), ctx.Err()
		case <-time.After(d.config.PollInterval):
		}

		if time.Since(started) > bag.MaxDuration {
			log.Info().Str("mint", string(pos.Mint)).Msg("bag: max duration reached, flattening")
			out, err := d.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}
		if time.Since(lastStep) > bag.IdleTimeout {
			log.Info().Str("mint", string(pos.Mint)).Float64("threshold_usd", threshold).
				Msg("bag: stalled below threshold, flattening")
			out, err := d.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}

		mcap, err := d.mcaps.McapUSD(ctx, pos.Mint)
		if err != nil {
			continue
		}
		mcapF, _ := mcap.Float64()

		// Same downside rules as the milestone ladder: a sharp drop
		// between consecutive readings dumps everything, and once the cap
		// has cleared the arm level a fall back through the stop does too.
		if !lastMcap.IsZero() && lastMcap.Sign() > 0 {
			drop := lastMcap.Sub(mcap).Div(lastMcap)
			if dropF, _ := drop.Float64(); dropF >= d.config.InstantDropPct {
				log.Warn().Str("mint", string(pos.Mint)).Float64("drop", dropF).
					Msg("bag: instant drop, flattening")
				out, err := d.trader.SellAll(ctx, pos.Mint)
				earned += out
				return finish(), err
			}
		}
		lastMcap = mcap

		if !armed {
			if mcapF >= d.config.ArmUSD {
				armed = true
				log.Info().Str("mint", string(pos.Mint)).Float64("mcap_usd", mcapF).
					Msg("bag: armed")
			}
		} else if mcapF <= d.config.StopUSD {
			log.Warn().Str("mint", string(pos.Mint)).Float64("mcap_usd", mcapF).
				Msg("bag: stop hit, flattening")
			out, err := d.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}

		stepped := false
		for mcapF >= threshold && threshold <= bag.MaxUSD {
			out, err := d.trader.SellFraction(ctx, pos.Mint, bag.Fraction)
			if err != nil {
				log.Warn().Err(err).Str("mint", string(pos.Mint)).Msg("bag: step sell failed")
				break
			}
			earned += out
			stepped = true
			lastStep = time.Now()
			threshold += bag.StepUSD
			log.Info().Str("mint", string(pos.Mint)).Float64("next_threshold_usd", threshold).
				Msg("bag: stepped up")
		}

		// After a ladder sell, fresh flow buys the position more idle time.
		if stepped && d.prober != nil {
			if popped, err := d.prober.NextPop(ctx, pos.Mint); err == nil && popped {
				lastStep = time.Now()
			}
		}

		if threshold > bag.MaxUSD {
			out, err := d.trader.SellAll(ctx, pos.Mint)
			earned += out
			return finish(), err
		}
		if balance, err := d.trader.gateway.GetTokenBalance(ctx, pos.Mint); err == nil && balance == 0 {
			return finish(), nil
		}
	}
}

var _ Strategy = (*DynamicBag)(nil)
