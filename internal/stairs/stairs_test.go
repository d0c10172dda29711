package stairs

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/solana"
)

const testMint = solana.Pubkey("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")

// scriptedMcaps replays a market cap sequence; the last value repeats.
type scriptedMcaps struct {
	mu  sync.Mutex
	seq []float64
	i   int
}

func (s *scriptedMcaps) McapUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.i
	if idx >= len(s.seq) {
		idx = len(s.seq) - 1
	} else {
		s.i++
	}
	return decimal.NewFromFloat(s.seq[idx]), nil
}

// simSwapper simulates sells against the stub gateway: each swap earns a
// fixed lamport-per-token rate and burns the sold balance.
type simSwapper struct {
	mu               sync.Mutex
	gw               *solana.StubGateway
	lamportsPerToken float64
	sells            []uint64 // sold amounts in order
}

func (s *simSwapper) Quote(ctx context.Context, in, out solana.Pubkey, amount uint64, slippageBps int) (*jupiter.Quote, error) {
	return &jupiter.Quote{
		InputMint:  in,
		OutputMint: out,
		InAmount:   amount,
		OutAmount:  uint64(float64(amount) * s.lamportsPerToken),
		Raw:        []byte(`{}`),
	}, nil
}

func (s *simSwapper) SwapTx(ctx context.Context, q *jupiter.Quote, user solana.Pubkey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sells = append(s.sells, q.InAmount)
	balance, _ := s.gw.GetTokenBalance(ctx, q.InputMint)
	if q.InAmount >= balance {
		s.gw.SetTokenBalance(q.InputMint, 0)
	} else {
		s.gw.SetTokenBalance(q.InputMint, balance-q.InAmount)
	}
	return "c2ltLXR4", nil
}

func (s *simSwapper) soldAmounts() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.sells...)
}

func fastStairsConfig() Config {
	c := DefaultConfig()
	c.PollInterval = time.Millisecond
	return c
}

func newSimTrader(balance uint64) (*Trader, *simSwapper, *solana.StubGateway) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(testMint, balance)
	swapper := &simSwapper{gw: gw, lamportsPerToken: 0.5}
	trader := NewTrader(fastStairsConfig(), gw, swapper, analytics.NewRecorder())
	return trader, swapper, gw
}
