package jupiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/solana"
)

// ---------------------------------------------------------------------------
// SOL/USD Oracle
// ---------------------------------------------------------------------------

// solFallbackUSD is used when no quote can be fetched and no cached value
// exists. Deliberately rough; sizing math tolerates it.
var solFallbackUSD = decimal.NewFromInt(150)

const priceTTL = 15 * time.Second

// Quoter is the slice of Client the oracle needs.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint solana.Pubkey, amount uint64, slippageBps int) (*Quote, error)
}

// PriceOracle derives the SOL/USD price from a 1 SOL -> USDC quote and
// caches it briefly.
type PriceOracle struct {
	quoter Quoter

	mu       sync.Mutex
	cached   decimal.Decimal
	cachedAt time.Time

	now func() time.Time
}

func NewPriceOracle(quoter Quoter) *PriceOracle {
	return &PriceOracle{quoter: quoter, now: time.Now}
}

// SolPriceUSD returns the cached SOL price, refreshing it once the TTL has
// passed. A failed refresh falls back to the stale value, then to the
// static fallback.
func (o *PriceOracle) SolPriceUSD(ctx context.Context) decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.cachedAt.IsZero() && o.now().Sub(o.cachedAt) < priceTTL {
		return o.cached
	}

	quote, err := o.quoter.Quote(ctx, solana.SOLMint, solana.USDCMint, solana.LamportsPerSOL, 50)
	if err != nil || quote.OutAmount == 0 {
		if !o.cached.IsZero() {
			log.Warn().Err(err).Str("stale", o.cached.String()).Msg("price: refresh failed, using stale value")
			return o.cached
		}
		log.Warn().Err(err).Msg("price: no quote available, using fallback")
		return solFallbackUSD
	}

	price := decimal.NewFromInt(int64(quote.OutAmount)).
		Shift(-solana.USDCDecimals)
	o.cached = price
	o.cachedAt = o.now()
	log.Debug().Str("sol_usd", price.String()).Msg("price: refreshed")
	return price
}
