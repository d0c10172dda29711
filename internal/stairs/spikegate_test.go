package stairs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membot-trading/membot/internal/solana"
	"github.com/membot-trading/membot/internal/spike"
)

// burstSub emits batches at the given synthetic timestamps.
type burstSub struct {
	times []time.Time
}

func (s *burstSub) Subscribe(ctx context.Context, mint solana.Pubkey) (<-chan spike.LogBatch, error) {
	ch := make(chan spike.LogBatch, len(s.times))
	for _, at := range s.times {
		ch <- spike.LogBatch{At: at}
	}
	close(ch)
	return ch, nil
}

func TestSpikeGateEngagesInnerOnSpike(t *testing.T) {
	trader, _, _ := newSimTrader(1_000_000)
	base := time.Unix(1_700_000_000, 0)
	sub := &burstSub{times: []time.Time{
		base, base.Add(time.Second), base.Add(2 * time.Second), base.Add(3 * time.Second),
	}}
	inner := &scriptedStrategy{pnls: []int64{77}}
	g := NewSpikeGate(fastStairsConfig(), spike.DefaultConfig(), sub, inner, trader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pnl, err := g.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, int64(77), pnl)
	assert.Equal(t, 1, inner.runs)
}

func TestSpikeGateFlattensQuietToken(t *testing.T) {
	trader, swapper, _ := newSimTrader(1_000_000)
	sub := &burstSub{times: []time.Time{time.Unix(1_700_000_000, 0)}} // one pop, then silence
	inner := &scriptedStrategy{pnls: []int64{999}}

	spikeCfg := spike.DefaultConfig()
	spikeCfg.PopTimeout = 20 * time.Millisecond
	g := NewSpikeGate(fastStairsConfig(), spikeCfg, sub, inner, trader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pnl, err := g.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 600_000})
	require.NoError(t, err)

	assert.Zero(t, inner.runs, "inner strategy never engaged")
	require.Len(t, swapper.soldAmounts(), 1)
	assert.Equal(t, int64(500_000-600_000), pnl)
}
