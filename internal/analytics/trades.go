// Package analytics keeps an in-memory record of executed trades for
// end-of-run reporting.
package analytics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/membot-trading/membot/internal/solana"
)

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one executed swap.
type Trade struct {
	Mint      solana.Pubkey `json:"mint"`
	Side      Side          `json:"side"`
	Lamports  uint64        `json:"lamports"`
	Tokens    uint64        `json:"tokens"`
	Signature string        `json:"signature"`
	At        time.Time     `json:"at"`
	Note      string        `json:"note,omitempty"`
}

// Recorder accumulates trades. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	trades []Trade
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(t Trade) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
}

// Trades returns a copy of all recorded trades.
func (r *Recorder) Trades() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

// Summary aggregates the run.
type Summary struct {
	Buys        int    `json:"buys"`
	Sells       int    `json:"sells"`
	SpentLamp   uint64 `json:"spent_lamports"`
	EarnedLamp  uint64 `json:"earned_lamports"`
	NetLamports int64  `json:"net_lamports"`
	Mints       int    `json:"mints"`
}

func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Summary
	mints := map[solana.Pubkey]bool{}
	for _, t := range r.trades {
		mints[t.Mint] = true
		switch t.Side {
		case SideBuy:
			s.Buys++
			s.SpentLamp += t.Lamports
		case SideSell:
			s.Sells++
			s.EarnedLamp += t.Lamports
		}
	}
	s.NetLamports = int64(s.EarnedLamp) - int64(s.SpentLamp)
	s.Mints = len(mints)
	return s
}

// LogSummary writes the run summary to the log.
func (r *Recorder) LogSummary() {
	s := r.Summary()
	net := decimal.NewFromInt(s.NetLamports).Shift(-9)
	log.Info().
		Int("buys", s.Buys).
		Int("sells", s.Sells).
		Int("mints", s.Mints).
		Str("net_sol", net.String()).
		Msg("analytics: run summary")
}
