// Package watcher streams program logs over websocket and surfaces new
// token mint candidates as early as possible.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/dedup"
	"github.com/membot-trading/membot/internal/solana"
)

// Candidate is a freshly observed mint, emitted before any validation:
// filtering happens downstream so discovery latency stays minimal.
type Candidate struct {
	Mint      solana.Pubkey
	Signature string
	Slot      uint64
	FirstSeen time.Time
}

// Config controls the watcher connection.
type Config struct {
	WSEndpoint     string        `yaml:"ws_endpoint"`
	ProgramID      string        `yaml:"program_id"`
	Commitment     string        `yaml:"commitment"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

func DefaultConfig() Config {
	return Config{
		WSEndpoint:     "wss://api.mainnet-beta.solana.com",
		ProgramID:      "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P", // Pump.fun
		Commitment:     "processed",
		ReconnectDelay: 500 * time.Millisecond,
	}
}

// creationMarkers gate log batches: only transactions whose logs mention one
// of these are worth scanning for a mint.
var creationMarkers = []string{
	"Initialize", "initialize",
	"Create", "create",
	"Deploy", "deploy",
	"bonding", "Bonding",
	"DB",
}

// Watcher subscribes to program logs and pushes candidates to Out.
type Watcher struct {
	config  Config
	gateway solana.Gateway
	seen    *dedup.Set
	out     chan Candidate
	force   chan solana.Pubkey

	batchCount     atomic.Int64
	candidateCount atomic.Int64
	fallbackCount  atomic.Int64
	reconnectCount atomic.Int64
}

func New(config Config, gateway solana.Gateway, seen *dedup.Set) *Watcher {
	if config.Commitment == "" {
		config.Commitment = "processed"
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 500 * time.Millisecond
	}
	return &Watcher{
		config:  config,
		gateway: gateway,
		seen:    seen,
		out:     make(chan Candidate, 256),
		force:   make(chan solana.Pubkey, 16),
	}
}

// Out is the candidate stream. Closed when Run returns.
func (w *Watcher) Out() <-chan Candidate { return w.out }

// ForceMint injects a mint as if it had just been observed, bypassing the
// websocket path entirely.
func (w *Watcher) ForceMint(mint solana.Pubkey) {
	select {
	case w.force <- mint:
	default:
		log.Warn().Str("mint", string(mint)).Msg("watcher: force queue full, dropped")
	}
}

// Run connects and processes log notifications until ctx ends, reconnecting
// after a flat delay on any failure.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)

	go w.drainForced(ctx)

	for {
		if err := w.connectAndStream(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.reconnectCount.Add(1)
			log.Warn().Err(err).Msg("watcher: stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.config.ReconnectDelay):
		}
	}
}

func (w *Watcher) drainForced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mint := <-w.force:
			w.emit(ctx, Candidate{Mint: mint, Signature: "forced", FirstSeen: time.Now()})
		}
	}
}

func (w *Watcher) connectAndStream(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.config.WSEndpoint, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("watcher: dial %s: %w", w.config.WSEndpoint, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{w.config.ProgramID}},
			map[string]any{"commitment": w.config.Commitment},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("watcher: subscribe: %w", err)
	}

	log.Info().Str("endpoint", w.config.WSEndpoint).Str("program", w.config.ProgramID).
		Msg("watcher: subscribed to program logs")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("watcher: read: %w", err)
		}

		var msg struct {
			Method string `json:"method"`
			Params struct {
				Result struct {
					Context struct {
						Slot uint64 `json:"slot"`
					} `json:"context"`
					Value struct {
						Signature string   `json:"signature"`
						Err       any      `json:"err"`
						Logs      []string `json:"logs"`
					} `json:"value"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Method != "logsNotification" {
			continue
		}

		value := msg.Params.Result.Value
		if value.Err != nil {
			continue
		}
		w.batchCount.Add(1)
		w.handleLogs(ctx, value.Signature, msg.Params.Result.Context.Slot, value.Logs)
	}
}

func (w *Watcher) handleLogs(ctx context.Context, signature string, slot uint64, logs []string) {
	if !CreationLike(logs) {
		return
	}

	if mint, ok := ExtractMint(logs); ok {
		w.emit(ctx, Candidate{Mint: mint, Signature: signature, Slot: slot, FirstSeen: time.Now()})
		return
	}

	// Logs mention a creation but carry no usable address: recover the
	// mint from the transaction itself, off the hot path.
	go w.resolveFromTransaction(ctx, signature, slot)
}

func (w *Watcher) resolveFromTransaction(ctx context.Context, signature string, slot uint64) {
	w.fallbackCount.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	detail, err := w.gateway.GetTransaction(fetchCtx, signature)
	if err != nil {
		log.Debug().Err(err).Str("sig", signature).Msg("watcher: tx fallback failed")
		return
	}
	mint, ok := MintFromTransaction(detail)
	if !ok {
		return
	}
	w.emit(ctx, Candidate{Mint: mint, Signature: signature, Slot: slot, FirstSeen: time.Now()})
}

func (w *Watcher) emit(ctx context.Context, c Candidate) {
	if solana.InfraSkipList[string(c.Mint)] || !solana.IsValidPubkey(string(c.Mint)) {
		return
	}
	if !w.seen.Add(string(c.Mint)) {
		return
	}
	w.candidateCount.Add(1)
	log.Info().Str("mint", string(c.Mint)).Str("sig", c.Signature).Uint64("slot", c.Slot).
		Msg("watcher: new candidate")
	select {
	case w.out <- c:
	case <-ctx.Done():
	}
}

// CreationLike reports whether any log line mentions a token creation.
func CreationLike(logs []string) bool {
	for _, line := range logs {
		for _, marker := range creationMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// ExtractMint returns the first plausible new-token address found in the
// logs, skipping infrastructure accounts.
func ExtractMint(logs []string) (solana.Pubkey, bool) {
	for _, line := range logs {
		for _, addr := range solana.FindAddresses(line) {
			if solana.InfraSkipList[addr] {
				continue
			}
			if !solana.IsValidPubkey(addr) {
				continue
			}
			return solana.Pubkey(addr), true
		}
	}
	return "", false
}

// MintFromTransaction recovers the mint from a fetched transaction: the
// first account of a token-program instruction, else the first account key
// that is not a known program.
func MintFromTransaction(detail *solana.TransactionDetail) (solana.Pubkey, bool) {
	for _, ix := range detail.Instructions {
		if ix.ProgramIdx < 0 || ix.ProgramIdx >= len(detail.AccountKeys) {
			continue
		}
		if !solana.TokenPrograms[detail.AccountKeys[ix.ProgramIdx]] {
			continue
		}
		if len(ix.Accounts) == 0 {
			continue
		}
		first := ix.Accounts[0]
		if first >= 0 && first < len(detail.AccountKeys) {
			return solana.Pubkey(detail.AccountKeys[first]), true
		}
	}
	for _, key := range detail.AccountKeys {
		if solana.InfraSkipList[key] {
			continue
		}
		if solana.IsValidPubkey(key) {
			return solana.Pubkey(key), true
		}
	}
	return "", false
}

// Stats is a snapshot of watcher counters.
type Stats struct {
	Batches    int64 `json:"batches"`
	Candidates int64 `json:"candidates"`
	Fallbacks  int64 `json:"tx_fallbacks"`
	Reconnects int64 `json:"reconnects"`
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Batches:    w.batchCount.Load(),
		Candidates: w.candidateCount.Load(),
		Fallbacks:  w.fallbackCount.Load(),
		Reconnects: w.reconnectCount.Load(),
	}
}
