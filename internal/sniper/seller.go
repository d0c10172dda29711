package sniper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/solana"
)

// Seller drains the sell queue sequentially: one sell in flight at a time
// keeps slippage predictable and avoids racing our own transactions.
type Seller struct {
	config   Config
	gateway  solana.Gateway
	swapper  Swapper
	queue    *SellQueue
	recorder *analytics.Recorder
}

func NewSeller(config Config, gateway solana.Gateway, swapper Swapper, queue *SellQueue, recorder *analytics.Recorder) *Seller {
	config.applyDefaults()
	return &Seller{
		config:   config,
		gateway:  gateway,
		swapper:  swapper,
		queue:    queue,
		recorder: recorder,
	}
}

// Exit schedules the first sell attempt for a new position after the
// configured hold. A position whose tokens were never seen on balance gets
// an extra settle buffer so the sell does not race the fill.
func (s *Seller) Exit(ctx context.Context, mint solana.Pubkey, tokens uint64, costLamports uint64) {
	hold := s.config.ExitAfter
	if tokens == 0 {
		hold += s.config.SettleBuffer
	}
	s.queue.Push(SellItem{
		Mint:         mint,
		Due:          time.Now().Add(hold),
		Attempt:      0,
		CostLamports: costLamports,
	})
}

// scheduleDelay returns the retry delay for an attempt; past the end of the
// schedule the last entry repeats.
func (s *Seller) scheduleDelay(attempt int) time.Duration {
	schedule := s.config.SellSchedule
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

// Run processes due items until ctx ends.
func (s *Seller) Run(ctx context.Context) error {
	for {
		item, err := s.queue.PopWait(ctx)
		if err != nil {
			return nil
		}
		s.process(ctx, item)
	}
}

func (s *Seller) process(ctx context.Context, item SellItem) {
	sold, earned := s.sellOnce(ctx, item.Mint)
	if sold {
		pnl := int64(earned) - int64(item.CostLamports)
		log.Info().Str("mint", string(item.Mint)).Int("attempt", item.Attempt+1).
			Int64("pnl_lamports", pnl).Msg("seller: position closed")
		return
	}

	next := item.Attempt + 1
	if next >= s.config.SellMaxTries {
		log.Warn().Str("mint", string(item.Mint)).Int("tries", next).
			Msg("seller: giving up on position")
		return
	}
	s.queue.Push(SellItem{
		Mint:         item.Mint,
		Due:          time.Now().Add(s.scheduleDelay(next)),
		Attempt:      next,
		CostLamports: item.CostLamports,
	})
}

// sellOnce attempts to liquidate the held balance of mint back to SOL.
func (s *Seller) sellOnce(ctx context.Context, mint solana.Pubkey) (sold bool, earnedLamports uint64) {
	balance, err := s.gateway.GetTokenBalance(ctx, mint)
	if err != nil || balance == 0 {
		return false, 0
	}

	// A sliver stays behind so rounding can never make the swap fail for
	// insufficient funds.
	amount := uint64(float64(balance) * s.config.SellFraction)
	if amount == 0 {
		amount = balance
	}

	// A few immediate quote retries before giving the slot back to the
	// schedule: transient aggregator hiccups should not cost a full
	// reschedule delay.
	var quote *jupiter.Quote
	for attempt := 1; attempt <= s.config.QuoteAttempts; attempt++ {
		q, err := s.swapper.Quote(ctx, mint, solana.SOLMint, amount, s.config.SellSlippageBps)
		if err == nil && q.OutAmount > 0 {
			quote = q
			break
		}
		log.Debug().Err(err).Str("mint", string(mint)).Int("attempt", attempt).
			Msg("seller: sell quote failed")
		if attempt == s.config.QuoteAttempts {
			return false, 0
		}
		select {
		case <-ctx.Done():
			return false, 0
		case <-time.After(s.config.RetryPause):
		}
	}

	tx, err := s.swapper.SwapTx(ctx, quote, s.gateway.Owner())
	if err != nil {
		log.Debug().Err(err).Str("mint", string(mint)).Msg("seller: swap build failed")
		return false, 0
	}
	sig, err := s.gateway.SendSerializedTx(ctx, tx)
	if err != nil {
		log.Warn().Str("mint", string(mint)).Str("reason", solana.ShortError(err)).
			Msg("seller: send failed")
		return false, 0
	}

	confirmed, _ := s.gateway.Confirm(ctx, sig, s.config.ConfirmTimeout)
	if !confirmed {
		log.Debug().Str("mint", string(mint)).Str("sig", string(sig)).
			Msg("seller: sell unconfirmed, will verify by balance")
		// Treat an unconfirmed send as tentative; if the balance is still
		// there next attempt, we retry anyway.
	}

	s.recorder.Record(analytics.Trade{
		Mint:      mint,
		Side:      analytics.SideSell,
		Lamports:  quote.OutAmount,
		Tokens:    amount,
		Signature: string(sig),
	})
	return true, quote.OutAmount
}
