package jupiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/membot-trading/membot/internal/solana"
)

type stubQuoter struct {
	outAmount uint64
	err       error
	calls     int
}

func (s *stubQuoter) Quote(ctx context.Context, in, out solana.Pubkey, amount uint64, slippageBps int) (*Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Quote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: s.outAmount}, nil
}

func TestSolPriceUSD(t *testing.T) {
	t.Run("derives price from quote", func(t *testing.T) {
		q := &stubQuoter{outAmount: 152_340_000} // 152.34 USDC per SOL
		o := NewPriceOracle(q)
		price := o.SolPriceUSD(context.Background())
		assert.Equal(t, "152.34", price.String())
	})

	t.Run("caches within ttl", func(t *testing.T) {
		q := &stubQuoter{outAmount: 150_000_000}
		o := NewPriceOracle(q)
		o.SolPriceUSD(context.Background())
		o.SolPriceUSD(context.Background())
		assert.Equal(t, 1, q.calls)
	})

	t.Run("refreshes after ttl", func(t *testing.T) {
		q := &stubQuoter{outAmount: 150_000_000}
		o := NewPriceOracle(q)
		now := time.Unix(1_700_000_000, 0)
		o.now = func() time.Time { return now }

		o.SolPriceUSD(context.Background())
		now = now.Add(priceTTL + time.Second)
		o.SolPriceUSD(context.Background())
		assert.Equal(t, 2, q.calls)
	})

	t.Run("falls back to stale value on error", func(t *testing.T) {
		q := &stubQuoter{outAmount: 150_000_000}
		o := NewPriceOracle(q)
		now := time.Unix(1_700_000_000, 0)
		o.now = func() time.Time { return now }

		first := o.SolPriceUSD(context.Background())
		q.err = errors.New("upstream down")
		now = now.Add(priceTTL + time.Second)
		second := o.SolPriceUSD(context.Background())
		assert.True(t, first.Equal(second))
	})

	t.Run("static fallback when nothing cached", func(t *testing.T) {
		q := &stubQuoter{err: errors.New("upstream down")}
		o := NewPriceOracle(q)
		price := o.SolPriceUSD(context.Background())
		assert.Equal(t, "150", price.String())
	})
}
