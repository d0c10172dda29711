package watcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membot-trading/membot/internal/dedup"
	"github.com/membot-trading/membot/internal/solana"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestCreationLike(t *testing.T) {
	assert.True(t, CreationLike([]string{"Program log: Instruction: Create"}))
	assert.True(t, CreationLike([]string{"noise", "Program log: initialize2"}))
	assert.True(t, CreationLike([]string{"Program log: bonding curve setup"}))
	assert.False(t, CreationLike([]string{"Program log: Instruction: Swap"}))
	assert.False(t, CreationLike(nil))
}

func TestExtractMint(t *testing.T) {
	t.Run("finds first non-infra address", func(t *testing.T) {
		logs := []string{
			"Program " + string(solana.TokenProgramID) + " invoke [1]",
			"Program log: mint " + testMint,
		}
		mint, ok := ExtractMint(logs)
		require.True(t, ok)
		assert.Equal(t, solana.Pubkey(testMint), mint)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, ok := ExtractMint([]string{"Program " + string(solana.SOLMint) + " invoke"})
		assert.False(t, ok)
	})
}

func TestMintFromTransaction(t *testing.T) {
	t.Run("token program instruction wins", func(t *testing.T) {
		detail := &solana.TransactionDetail{
			AccountKeys: []string{
				"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", // payer
				testMint,
				string(solana.TokenProgramID),
			},
			Instructions: []solana.TxInstruction{
				{ProgramIdx: 2, Accounts: []int{1, 0}},
			},
		}
		mint, ok := MintFromTransaction(detail)
		require.True(t, ok)
		assert.Equal(t, solana.Pubkey(testMint), mint)
	})

	t.Run("falls back to first non-program key", func(t *testing.T) {
		detail := &solana.TransactionDetail{
			AccountKeys: []string{
				string(solana.SystemProgramID),
				testMint,
			},
		}
		mint, ok := MintFromTransaction(detail)
		require.True(t, ok)
		assert.Equal(t, solana.Pubkey(testMint), mint)
	})

	t.Run("out of range indices are skipped", func(t *testing.T) {
		detail := &solana.TransactionDetail{
			AccountKeys:  []string{string(solana.SystemProgramID)},
			Instructions: []solana.TxInstruction{{ProgramIdx: 9, Accounts: []int{0}}},
		}
		_, ok := MintFromTransaction(detail)
		assert.False(t, ok)
	})
}

func TestEmitDedupAndSkipList(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	w := New(DefaultConfig(), gw, dedup.NewSet())
	ctx := context.Background()

	w.emit(ctx, Candidate{Mint: solana.Pubkey(testMint)})
	w.emit(ctx, Candidate{Mint: solana.Pubkey(testMint)}) // duplicate
	w.emit(ctx, Candidate{Mint: solana.SOLMint})          // infra
	w.emit(ctx, Candidate{Mint: "not-base58!"})           // invalid

	require.Len(t, w.out, 1)
	got := <-w.out
	assert.Equal(t, solana.Pubkey(testMint), got.Mint)
	assert.Equal(t, int64(1), w.Stats().Candidates)
}

func TestHandleLogsTransactionFallback(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTransaction("sig1", &solana.TransactionDetail{
		AccountKeys:  []string{testMint, string(solana.TokenProgramID)},
		Instructions: []solana.TxInstruction{{ProgramIdx: 1, Accounts: []int{0}}},
	})

	w := New(DefaultConfig(), gw, dedup.NewSet())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Creation-like logs without any embedded address.
	w.handleLogs(ctx, "sig1", 42, []string{"Program log: Instruction: Create"})

	select {
	case c := <-w.out:
		assert.Equal(t, solana.Pubkey(testMint), c.Mint)
		assert.Equal(t, uint64(42), c.Slot)
	case <-ctx.Done():
		t.Fatal("expected candidate from transaction fallback")
	}
}

func TestRunStreamsCandidates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the subscribe request.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": 1})

		notification := map[string]any{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params": map[string]any{
				"result": map[string]any{
					"context": map[string]any{"slot": 7},
					"value": map[string]any{
						"signature": "sig-ws",
						"logs": []string{
							"Program log: Instruction: Create",
							"Program log: mint " + testMint,
						},
					},
				},
			},
		}
		conn.WriteJSON(notification)
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.WSEndpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	w := New(config, solana.NewStubGateway("owner"), dedup.NewSet())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go w.Run(ctx)

	select {
	case c := <-w.Out():
		assert.Equal(t, solana.Pubkey(testMint), c.Mint)
		assert.Equal(t, "sig-ws", c.Signature)
		assert.Equal(t, uint64(7), c.Slot)
	case <-ctx.Done():
		t.Fatal("expected candidate from websocket stream")
	}
}

func TestForceMint(t *testing.T) {
	w := New(DefaultConfig(), solana.NewStubGateway("owner"), dedup.NewSet())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.drainForced(ctx)

	w.ForceMint(solana.Pubkey(testMint))

	select {
	case c := <-w.out:
		assert.Equal(t, solana.Pubkey(testMint), c.Mint)
		assert.Equal(t, "forced", c.Signature)
	case <-ctx.Done():
		t.Fatal("expected forced candidate")
	}
}
