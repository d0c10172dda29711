package stairs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membot-trading/membot/internal/solana"
)

// scriptedStrategy returns one scripted pnl per round.
type scriptedStrategy struct {
	pnls []int64
	runs int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Run(ctx context.Context, pos Position) (int64, error) {
	pnl := s.pnls[s.runs]
	s.runs++
	return pnl, nil
}

type countingBuyer struct {
	buys int
	err  error
}

func (b *countingBuyer) SnipeOnce(ctx context.Context, mint solana.Pubkey) (uint64, uint64, error) {
	b.buys++
	if b.err != nil {
		return 0, 0, b.err
	}
	return 500_000, 200_000, nil
}

func reentryConfig() Config {
	c := fastStairsConfig()
	c.Reentry = ReentryConfig{Enabled: true, LossCooldown: time.Minute, MaxRounds: 5}
	return c
}

func TestReentryUntilLoss(t *testing.T) {
	inner := &scriptedStrategy{pnls: []int64{100, 50, -20, 999}}
	buyer := &countingBuyer{}
	cooldowns := NewCooldowns()
	r := NewReentry(reentryConfig(), inner, buyer, cooldowns, nil)

	total, err := r.Run(context.Background(), Position{Mint: testMint, Tokens: 1, CostLamports: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(130), total, "stops after the losing round")
	assert.Equal(t, 3, inner.runs)
	assert.Equal(t, 2, buyer.buys)
	assert.True(t, cooldowns.Blocked(testMint), "losing mint lands on cooldown")
}

func TestReentryRoundBudget(t *testing.T) {
	config := reentryConfig()
	config.Reentry.MaxRounds = 2
	inner := &scriptedStrategy{pnls: []int64{10, 10, 10}}
	buyer := &countingBuyer{}
	r := NewReentry(config, inner, buyer, NewCooldowns(), nil)

	total, err := r.Run(context.Background(), Position{Mint: testMint})
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
	assert.Equal(t, 2, inner.runs)
	assert.Equal(t, 1, buyer.buys)
}

func TestReentryRebuyFailureKeepsProfit(t *testing.T) {
	inner := &scriptedStrategy{pnls: []int64{40}}
	buyer := &countingBuyer{err: context.DeadlineExceeded}
	r := NewReentry(reentryConfig(), inner, buyer, NewCooldowns(), nil)

	total, err := r.Run(context.Background(), Position{Mint: testMint})
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
	assert.Equal(t, 1, inner.runs)
}

type scriptedProber struct {
	answers []bool
	calls   int
}

func (p *scriptedProber) NextPop(ctx context.Context, mint solana.Pubkey) (bool, error) {
	a := p.answers[p.calls]
	p.calls++
	return a, nil
}

func TestReentryPopGateStopsOnQuiet(t *testing.T) {
	config := reentryConfig()
	config.Reentry.PopGate = true
	inner := &scriptedStrategy{pnls: []int64{30, 30}}
	buyer := &countingBuyer{}
	prober := &scriptedProber{answers: []bool{false}}
	r := NewReentry(config, inner, buyer, NewCooldowns(), prober)

	total, err := r.Run(context.Background(), Position{Mint: testMint})
	require.NoError(t, err)
	assert.Equal(t, int64(30), total, "profit from the first round is kept")
	assert.Equal(t, 1, inner.runs)
	assert.Equal(t, 0, buyer.buys, "no re-buy without a fresh pop")
	assert.Equal(t, 1, prober.calls)
}

func TestCooldownsExpire(t *testing.T) {
	c := NewCooldowns()
	c.Block(testMint, 20*time.Millisecond)
	assert.True(t, c.Blocked(testMint))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Blocked(testMint))
}
