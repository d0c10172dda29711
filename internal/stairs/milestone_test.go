package stairs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/solana"
)

// stallSwapper blocks every quote until its context dies.
type stallSwapper struct{}

func (stallSwapper) Quote(ctx context.Context, in, out solana.Pubkey, amount uint64, slippageBps int) (*jupiter.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallSwapper) SwapTx(ctx context.Context, q *jupiter.Quote, user solana.Pubkey) (string, error) {
	return "", context.Canceled
}

func TestMilestoneShutdownFlattenCannotHang(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(testMint, 1_000_000)
	trader := NewTrader(fastStairsConfig(), gw, stallSwapper{}, analytics.NewRecorder())
	m := NewMilestoneLadder(fastStairsConfig(), trader, &scriptedMcaps{seq: []float64{100_000}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The shutdown sell runs on its own bounded context, so a stalled
	// upstream cannot wedge the run forever.
	done := make(chan error, 1)
	go func() {
		_, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown flatten never returned")
	}
}

func TestMilestoneHoldExpirySellsOut(t *testing.T) {
	trader, swapper, _ := newSimTrader(1_000_000)
	config := fastStairsConfig()
	config.Hold = 50 * time.Millisecond
	// The cap never reaches a ladder level, so only the round's time
	// budget can end it.
	mcaps := &scriptedMcaps{seq: []float64{100_000}}
	m := NewMilestoneLadder(config, trader, mcaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 0})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), config.Hold)
	sells := swapper.soldAmounts()
	require.Len(t, sells, 1)
	assert.Equal(t, uint64(1_000_000), sells[0])
}

func TestMilestoneLadderOrder(t *testing.T) {
	trader, swapper, gw := newSimTrader(1_000_000)
	mcaps := &scriptedMcaps{seq: []float64{100_000, 121_000, 131_000, 161_000}}
	m := NewMilestoneLadder(fastStairsConfig(), trader, mcaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pnl, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 100_000})
	require.NoError(t, err)

	sells := swapper.soldAmounts()
	require.Len(t, sells, 3, "two ladder levels then the sell-all")

	// 30% of 1,000,000, then 25% of the remaining 700,000, then the rest.
	assert.Equal(t, uint64(300_000), sells[0])
	assert.Equal(t, uint64(175_000), sells[1])
	assert.Equal(t, uint64(525_000), sells[2])

	balance, _ := gw.GetTokenBalance(ctx, testMint)
	assert.Zero(t, balance)

	// Every token sold at 0.5 lamports: 500,000 earned minus 100,000 cost.
	assert.Equal(t, int64(400_000), pnl)
}

func TestMilestoneInstantDropFlattens(t *testing.T) {
	trader, swapper, _ := newSimTrader(1_000_000)
	// 16% collapse between consecutive polls.
	mcaps := &scriptedMcaps{seq: []float64{118_000, 99_000}}
	m := NewMilestoneLadder(fastStairsConfig(), trader, mcaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 0})
	require.NoError(t, err)

	sells := swapper.soldAmounts()
	require.Len(t, sells, 1)
	assert.Equal(t, uint64(1_000_000), sells[0], "instant drop sells everything at once")
}

func TestMilestoneArmedStop(t *testing.T) {
	trader, swapper, _ := newSimTrader(1_000_000)
	// Arms at 116k, drifts down gently (each step under the instant-drop
	// threshold) until the hard stop at 110k catches it.
	mcaps := &scriptedMcaps{seq: []float64{116_000, 112_500, 109_500}}
	m := NewMilestoneLadder(fastStairsConfig(), trader, mcaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 0})
	require.NoError(t, err)

	sells := swapper.soldAmounts()
	require.Len(t, sells, 1)
	assert.Equal(t, uint64(1_000_000), sells[0])
}

func TestMilestoneStopInactiveBeforeArming(t *testing.T) {
	trader, swapper, gw := newSimTrader(1_000_000)
	// Below the stop the whole time but never armed: no sell until the
	// ladder is eventually reached.
	mcaps := &scriptedMcaps{seq: []float64{90_000, 95_000, 100_000, 121_000, 161_000}}
	m := NewMilestoneLadder(fastStairsConfig(), trader, mcaps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Run(ctx, Position{Mint: testMint, Tokens: 1_000_000, CostLamports: 0})
	require.NoError(t, err)

	sells := swapper.soldAmounts()
	require.NotEmpty(t, sells)
	assert.Equal(t, uint64(300_000), sells[0], "first sell is the 120k level, not a premature stop")

	balance, _ := gw.GetTokenBalance(ctx, testMint)
	assert.Zero(t, balance)
}
