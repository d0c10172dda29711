package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Live Gateway — Solana JSON-RPC over HTTP
// ---------------------------------------------------------------------------

// LiveGateway talks to a real Solana RPC endpoint. Queries are plain
// JSON-RPC; transaction signing is delegated to the injected Signer.
type LiveGateway struct {
	config     GatewayConfig
	httpClient *http.Client
	owner      Pubkey
	signer     Signer

	nextID atomic.Int64

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewLiveGateway creates a gateway for the given wallet owner.
func NewLiveGateway(config GatewayConfig, owner Pubkey, signer Signer) *LiveGateway {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MintAgePageLimit == 0 {
		config.MintAgePageLimit = 1000
	}
	if config.MintAgeMaxPages == 0 {
		config.MintAgeMaxPages = 6
	}
	return &LiveGateway{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		owner:      owner,
		signer:     signer,
	}
}

func (g *LiveGateway) Owner() Pubkey { return g.owner }

func (g *LiveGateway) Close() error { return nil }

// call performs one JSON-RPC request and unmarshals the "result" field.
func (g *LiveGateway) call(ctx context.Context, method string, params []any, result any) error {
	g.requestCount.Add(1)

	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      g.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpc: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.errorCount.Add(1)
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		g.errorCount.Add(1)
		return fmt.Errorf("rpc: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		g.errorCount.Add(1)
		return fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, truncate(raw, 200))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		g.errorCount.Add(1)
		return fmt.Errorf("rpc: parse %s response: %w", method, err)
	}
	if envelope.Error != nil {
		g.errorCount.Add(1)
		return fmt.Errorf("rpc: %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", method, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func (g *LiveGateway) GetLamports(ctx context.Context) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := g.call(ctx, "getBalance", []any{string(g.owner)}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// tokenAccountsByOwner is the shared shape of getTokenAccountsByOwner results.
type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount string `json:"amount"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

func (g *LiveGateway) tokenAccounts(ctx context.Context, filter map[string]any) ([]TokenAccount, error) {
	var res tokenAccountsResult
	params := []any{string(g.owner), filter, map[string]any{"encoding": "jsonParsed"}}
	if err := g.call(ctx, "getTokenAccountsByOwner", params, &res); err != nil {
		return nil, err
	}
	accounts := make([]TokenAccount, 0, len(res.Value))
	for _, v := range res.Value {
		var amount uint64
		fmt.Sscan(v.Account.Data.Parsed.Info.TokenAmount.Amount, &amount)
		accounts = append(accounts, TokenAccount{
			Address: Pubkey(v.Pubkey),
			Mint:    Pubkey(v.Account.Data.Parsed.Info.Mint),
			Amount:  amount,
		})
	}
	return accounts, nil
}

func (g *LiveGateway) GetTokenBalance(ctx context.Context, mint Pubkey) (uint64, error) {
	accounts, err := g.tokenAccounts(ctx, map[string]any{"mint": string(mint)})
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, a := range accounts {
		total += a.Amount
	}
	return total, nil
}

func (g *LiveGateway) HasTokenAccount(ctx context.Context, mint Pubkey) (bool, error) {
	accounts, err := g.tokenAccounts(ctx, map[string]any{"mint": string(mint)})
	if err != nil {
		return false, err
	}
	return len(accounts) > 0, nil
}

func (g *LiveGateway) ListTokenAccounts(ctx context.Context) ([]TokenAccount, error) {
	return g.tokenAccounts(ctx, map[string]any{"programId": string(TokenProgramID)})
}

func (g *LiveGateway) EnsureTokenAccount(ctx context.Context, mint Pubkey) error {
	exists, err := g.HasTokenAccount(ctx, mint)
	if err == nil && exists {
		return nil
	}
	if g.signer == nil {
		return fmt.Errorf("gateway: no signer configured for ATA creation")
	}
	tx, err := g.signer.BuildCreateTokenAccountTx(ctx, mint)
	if err != nil {
		return fmt.Errorf("gateway: build ATA create: %w", err)
	}
	if _, err := g.submit(ctx, tx); err != nil {
		return fmt.Errorf("gateway: submit ATA create: %w", err)
	}
	return nil
}

func (g *LiveGateway) CloseTokenAccount(ctx context.Context, mint Pubkey) error {
	if g.signer == nil {
		return fmt.Errorf("gateway: no signer configured for ATA close")
	}
	tx, err := g.signer.BuildCloseTokenAccountTx(ctx, mint)
	if err != nil {
		return fmt.Errorf("gateway: build ATA close: %w", err)
	}
	if _, err := g.submit(ctx, tx); err != nil {
		return fmt.Errorf("gateway: submit ATA close: %w", err)
	}
	return nil
}

// submit sends an already-signed base64 transaction.
func (g *LiveGateway) submit(ctx context.Context, txBase64 string) (Signature, error) {
	var sig string
	params := []any{txBase64, map[string]any{
		"encoding":      "base64",
		"skipPreflight": true,
		"maxRetries":    3,
	}}
	if err := g.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return Signature(sig), nil
}

func (g *LiveGateway) SendSerializedTx(ctx context.Context, txBase64 string) (Signature, error) {
	signed := txBase64
	if g.signer != nil {
		var err error
		signed, err = g.signer.SignSerializedTx(txBase64)
		if err != nil {
			return "", fmt.Errorf("gateway: sign tx: %w", err)
		}
	}
	return g.submit(ctx, signed)
}

func (g *LiveGateway) Confirm(ctx context.Context, sig Signature, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var res struct {
			Value []*struct {
				ConfirmationStatus string `json:"confirmationStatus"`
			} `json:"value"`
		}
		params := []any{[]string{string(sig)}, map[string]any{"searchTransactionHistory": false}}
		if err := g.call(ctx, "getSignatureStatuses", params, &res); err == nil {
			if len(res.Value) > 0 && res.Value[0] != nil {
				switch res.Value[0].ConfirmationStatus {
				case "confirmed", "finalized":
					return true, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
	return false, nil
}

func (g *LiveGateway) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := g.call(ctx, "getSlot", []any{}, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// MintAge pages getSignaturesForAddress backwards to the earliest known
// transaction touching the mint account. Each page is newest-first, so the
// last entry of each page is the oldest seen so far.
func (g *LiveGateway) MintAge(ctx context.Context, mint Pubkey, maxInterest time.Duration) (time.Duration, bool, error) {
	type sigEntry struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
	}

	var (
		before     string
		earliest   int64
		haveTime   bool
		nowSeconds = time.Now().Unix()
	)

	for page := 0; page < g.config.MintAgeMaxPages; page++ {
		opts := map[string]any{"limit": g.config.MintAgePageLimit}
		if before != "" {
			opts["before"] = before
		}
		var entries []sigEntry
		if err := g.call(ctx, "getSignaturesForAddress", []any{string(mint), opts}, &entries); err != nil {
			break
		}
		if len(entries) == 0 {
			break
		}

		oldest := entries[len(entries)-1]
		blockTime := oldest.BlockTime
		if blockTime == nil {
			var bt *int64
			if err := g.call(ctx, "getBlockTime", []any{oldest.Slot}, &bt); err == nil {
				blockTime = bt
			}
		}
		if blockTime != nil {
			if !haveTime || *blockTime < earliest {
				earliest = *blockTime
				haveTime = true
			}
			// Early exit: already older than the caller cares about.
			age := time.Duration(nowSeconds-*blockTime) * time.Second
			if maxInterest > 0 && age > maxInterest {
				return age, true, nil
			}
		}
		before = oldest.Signature
	}

	if !haveTime {
		return 0, false, nil
	}
	return time.Duration(nowSeconds-earliest) * time.Second, true, nil
}

func (g *LiveGateway) GetTransaction(ctx context.Context, sig string) (*TransactionDetail, error) {
	var res struct {
		Transaction struct {
			Message struct {
				AccountKeys      json.RawMessage `json:"accountKeys"`
				StaticKeys       []string        `json:"staticAccountKeys"`
				Instructions     []TxInstruction `json:"instructions"`
				LoadedAddrsField struct {
					Writable []string `json:"writable"`
					Readonly []string `json:"readonly"`
				} `json:"loadedAddresses"`
			} `json:"message"`
		} `json:"transaction"`
	}
	params := []any{sig, map[string]any{"encoding": "json", "maxSupportedTransactionVersion": 0}}
	if err := g.call(ctx, "getTransaction", params, &res); err != nil {
		return nil, err
	}

	msg := res.Transaction.Message

	// Account keys arrive either as a flat list (legacy) or split between
	// static and loaded addresses (v0).
	var keys []string
	if len(msg.AccountKeys) > 0 {
		if err := json.Unmarshal(msg.AccountKeys, &keys); err != nil {
			// Some RPCs return objects {pubkey, signer, writable}.
			var objs []struct {
				Pubkey string `json:"pubkey"`
			}
			if json.Unmarshal(msg.AccountKeys, &objs) == nil {
				for _, o := range objs {
					keys = append(keys, o.Pubkey)
				}
			}
		}
	}
	if len(keys) == 0 {
		keys = append(keys, msg.StaticKeys...)
		keys = append(keys, msg.LoadedAddrsField.Writable...)
		keys = append(keys, msg.LoadedAddrsField.Readonly...)
	}

	log.Debug().Str("sig", sig).Int("keys", len(keys)).
		Int("instructions", len(msg.Instructions)).
		Msg("rpc: transaction fetched")

	return &TransactionDetail{
		AccountKeys:  keys,
		Instructions: msg.Instructions,
	}, nil
}

var _ Gateway = (*LiveGateway)(nil)

// GatewayStats reports request counters.
type GatewayStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

func (g *LiveGateway) Stats() GatewayStats {
	return GatewayStats{
		Requests: g.requestCount.Load(),
		Errors:   g.errorCount.Load(),
	}
}
