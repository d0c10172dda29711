// Package stairs holds the market-cap driven exit engine: positions climb
// a ladder of sell levels instead of being dumped on a fixed timer.
package stairs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/solana"
)

// Pump.fun style tokens: fixed supply of one billion, six decimals.
const (
	tokenTotalSupply = 1_000_000_000
	tokenDecimals    = 6
)

// probeTokens is the raw amount quoted to estimate the per-token price:
// 1000 whole tokens, small enough not to distort thin pools.
const probeTokens = 1000 * 1_000_000

// Swapper is the aggregator surface the estimator needs.
type Swapper interface {
	Quote(ctx context.Context, inputMint, outputMint solana.Pubkey, amount uint64, slippageBps int) (*jupiter.Quote, error)
	SwapTx(ctx context.Context, quote *jupiter.Quote, userPubkey solana.Pubkey) (string, error)
}

// PriceSource supplies SOL/USD.
type PriceSource interface {
	SolPriceUSD(ctx context.Context) decimal.Decimal
}

// McapSource estimates a token's market cap in USD.
type McapSource interface {
	McapUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
}

// Estimator derives market cap from a probe sell quote. Quotes are cached
// briefly per mint so several strategies polling the same token do not
// multiply upstream traffic.
type Estimator struct {
	swapper Swapper
	prices  PriceSource
	ttl     time.Duration

	mu    sync.Mutex
	cache map[solana.Pubkey]cachedMcap

	now func() time.Time
}

type cachedMcap struct {
	value decimal.Decimal
	at    time.Time
}

func NewEstimator(swapper Swapper, prices PriceSource) *Estimator {
	return &Estimator{
		swapper: swapper,
		prices:  prices,
		ttl:     200 * time.Millisecond,
		cache:   make(map[solana.Pubkey]cachedMcap),
		now:     time.Now,
	}
}

// McapUSD estimates the market cap: probe quote -> SOL per token -> USD per
// token -> times total supply.
func (e *Estimator) McapUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	e.mu.Lock()
	if hit, ok := e.cache[mint]; ok && e.now().Sub(hit.at) < e.ttl {
		e.mu.Unlock()
		return hit.value, nil
	}
	e.mu.Unlock()

	quote, err := e.swapper.Quote(ctx, mint, solana.SOLMint, probeTokens, 100)
	if err != nil {
		return decimal.Zero, fmt.Errorf("stairs: probe quote %s: %w", mint, err)
	}
	if quote.OutAmount == 0 {
		return decimal.Zero, fmt.Errorf("stairs: probe quote %s returned nothing", mint)
	}

	solPrice := e.prices.SolPriceUSD(ctx)
	probeSOL := decimal.NewFromInt(int64(quote.OutAmount)).Shift(-9)
	perTokenUSD := probeSOL.Mul(solPrice).
		Div(decimal.NewFromInt(probeTokens).Shift(-tokenDecimals))
	mcap := perTokenUSD.Mul(decimal.NewFromInt(tokenTotalSupply))

	e.mu.Lock()
	e.cache[mint] = cachedMcap{value: mcap, at: e.now()}
	e.mu.Unlock()
	return mcap, nil
}

var _ McapSource = (*Estimator)(nil)
