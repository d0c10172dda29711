package stairs

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/spike"
)

// SpikeGate holds a position passively until trading activity spikes, then
// hands it to the inner strategy. It is the default entry gate when the
// market-cap jump mode is off. Positions whose tokens never wake up are
// flattened instead of ladder-managed.
type SpikeGate struct {
	config     Config
	spikeCfg   spike.Config
	subscriber spike.Subscriber
	inner      Strategy
	trader     *Trader
}

func NewSpikeGate(config Config, spikeCfg spike.Config, subscriber spike.Subscriber, inner Strategy, trader *Trader) *SpikeGate {
	return &SpikeGate{
		config:     config,
		spikeCfg:   spikeCfg,
		subscriber: subscriber,
		inner:      inner,
		trader:     trader,
	}
}

func (g *SpikeGate) Name() string { return "spike-gate(" + g.inner.Name() + ")" }

func (g *SpikeGate) Run(ctx context.Context, pos Position) (int64, error) {
	err := spike.Await(ctx, g.spikeCfg, g.subscriber, pos.Mint)
	switch {
	case err == nil:
		log.Info().Str("mint", string(pos.Mint)).Msg("spike-gate: spike detected, engaging ladder")
		return g.inner.Run(ctx, pos)
	case errors.Is(err, spike.ErrNoPop):
		log.Info().Str("mint", string(pos.Mint)).Msg("spike-gate: token went quiet, flattening")
		earned, sellErr := g.trader.SellAll(ctx, pos.Mint)
		return int64(earned) - int64(pos.CostLamports), sellErr
	default:
		// Context ended; flatten on a bounded context so shutdown does
		// not strand the bag.
		flattenCtx, cancel := flattenContext()
		earned, _ := g.trader.SellAll(flattenCtx, pos.Mint)
		cancel()
		return int64(earned) - int64(pos.CostLamports), err
	}
}

var _ Strategy = (*SpikeGate)(nil)
