package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Key Signer — local ed25519 signing and minimal transaction building
// ---------------------------------------------------------------------------

// KeySigner signs with a locally held ed25519 keypair. It builds only the
// small set of transactions the bot needs itself (token account create and
// close); swap transactions arrive pre-built and only need a signature.
type KeySigner struct {
	priv     ed25519.PrivateKey
	owner    Pubkey
	endpoint string
	client   *http.Client
}

// NewKeySigner parses a base58-encoded 64-byte secret key. The endpoint is
// used only to fetch recent blockhashes for locally built transactions.
func NewKeySigner(secretBase58 string, endpoint string) (*KeySigner, error) {
	raw, err := base58.Decode(secretBase58)
	if err != nil {
		return nil, fmt.Errorf("signer: decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: secret key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeySigner{
		priv:     priv,
		owner:    Pubkey(base58.Encode(pub)),
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (k *KeySigner) Owner() Pubkey { return k.owner }

// SignSerializedTx replaces the fee-payer signature slot of a base64
// serialized transaction with a fresh signature over its message bytes.
func (k *KeySigner) SignSerializedTx(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("signer: decode tx: %w", err)
	}
	numSigs, offset, err := decodeShortvec(raw)
	if err != nil {
		return "", fmt.Errorf("signer: parse signature count: %w", err)
	}
	msgStart := offset + numSigs*ed25519.SignatureSize
	if msgStart > len(raw) {
		return "", fmt.Errorf("signer: truncated transaction (%d bytes, need %d)", len(raw), msgStart)
	}
	sig := ed25519.Sign(k.priv, raw[msgStart:])
	copy(raw[offset:], sig)
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (k *KeySigner) BuildCreateTokenAccountTx(ctx context.Context, mint Pubkey) (string, error) {
	ata, err := DeriveTokenAccountAddress(k.owner, mint)
	if err != nil {
		return "", err
	}
	// CreateIdempotent: succeeds even if the account already exists.
	ix := instruction{
		program: AssociatedTokenProgID,
		data:    []byte{1},
		accounts: []accountMeta{
			{key: k.owner, signer: true, writable: true},
			{key: ata, writable: true},
			{key: k.owner},
			{key: mint},
			{key: SystemProgramID},
			{key: TokenProgramID},
		},
	}
	return k.buildAndSign(ctx, ix)
}

func (k *KeySigner) BuildCloseTokenAccountTx(ctx context.Context, mint Pubkey) (string, error) {
	ata, err := DeriveTokenAccountAddress(k.owner, mint)
	if err != nil {
		return "", err
	}
	// SPL token CloseAccount, rent reclaimed to the owner.
	ix := instruction{
		program: TokenProgramID,
		data:    []byte{9},
		accounts: []accountMeta{
			{key: ata, writable: true},
			{key: k.owner, writable: true},
			{key: k.owner, signer: true},
		},
	}
	return k.buildAndSign(ctx, ix)
}

// ---------------------------------------------------------------------------
// Legacy transaction assembly
// ---------------------------------------------------------------------------

type accountMeta struct {
	key      Pubkey
	signer   bool
	writable bool
}

type instruction struct {
	program  Pubkey
	accounts []accountMeta
	data     []byte
}

// buildAndSign compiles a single-instruction legacy transaction with the
// signer as fee payer.
func (k *KeySigner) buildAndSign(ctx context.Context, ix instruction) (string, error) {
	blockhash, err := k.latestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	// Collect unique accounts: writable signers, writable non-signers, then
	// readonly non-signers, with the program id last.
	merged := map[Pubkey]*accountMeta{}
	order := []Pubkey{}
	add := func(m accountMeta) {
		if existing, ok := merged[m.key]; ok {
			existing.signer = existing.signer || m.signer
			existing.writable = existing.writable || m.writable
			return
		}
		cp := m
		merged[m.key] = &cp
		order = append(order, m.key)
	}
	add(accountMeta{key: k.owner, signer: true, writable: true})
	for _, m := range ix.accounts {
		add(m)
	}
	add(accountMeta{key: ix.program})

	var keys []Pubkey
	appendClass := func(signer, writable bool) {
		for _, key := range order {
			m := merged[key]
			if m.signer == signer && m.writable == writable {
				keys = append(keys, key)
			}
		}
	}
	appendClass(true, true)
	appendClass(true, false)
	appendClass(false, true)
	appendClass(false, false)

	index := map[Pubkey]byte{}
	for i, key := range keys {
		index[key] = byte(i)
	}

	var numSigners, numROSigned, numROUnsigned byte
	for _, key := range keys {
		m := merged[key]
		if m.signer {
			numSigners++
			if !m.writable {
				numROSigned++
			}
		} else if !m.writable {
			numROUnsigned++
		}
	}

	var msg bytes.Buffer
	msg.Write([]byte{numSigners, numROSigned, numROUnsigned})
	msg.Write(encodeShortvec(len(keys)))
	for _, key := range keys {
		raw, err := base58.Decode(string(key))
		if err != nil || len(raw) != 32 {
			return "", fmt.Errorf("signer: bad account key %s", key)
		}
		msg.Write(raw)
	}
	blockhashRaw, err := base58.Decode(blockhash)
	if err != nil || len(blockhashRaw) != 32 {
		return "", fmt.Errorf("signer: bad blockhash %q", blockhash)
	}
	msg.Write(blockhashRaw)

	msg.Write(encodeShortvec(1))
	msg.WriteByte(index[ix.program])
	msg.Write(encodeShortvec(len(ix.accounts)))
	for _, m := range ix.accounts {
		msg.WriteByte(index[m.key])
	}
	msg.Write(encodeShortvec(len(ix.data)))
	msg.Write(ix.data)

	sig := ed25519.Sign(k.priv, msg.Bytes())
	var tx bytes.Buffer
	tx.Write(encodeShortvec(1))
	tx.Write(sig)
	tx.Write(msg.Bytes())
	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}

func (k *KeySigner) latestBlockhash(ctx context.Context) (string, error) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"getLatestBlockhash","params":[{"commitment":"confirmed"}]}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("signer: build blockhash request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := k.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer: fetch blockhash: %w", err)
	}
	defer resp.Body.Close()
	var res struct {
		Result struct {
			Value struct {
				Blockhash string `json:"blockhash"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("signer: decode blockhash: %w", err)
	}
	if res.Result.Value.Blockhash == "" {
		return "", fmt.Errorf("signer: empty blockhash response")
	}
	return res.Result.Value.Blockhash, nil
}

// ---------------------------------------------------------------------------
// Shortvec and PDA helpers
// ---------------------------------------------------------------------------

func encodeShortvec(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func decodeShortvec(raw []byte) (value, size int, err error) {
	for i := 0; i < 3 && i < len(raw); i++ {
		value |= int(raw[i]&0x7f) << (7 * i)
		if raw[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid shortvec prefix")
}

// DeriveTokenAccountAddress computes the associated token account PDA for an
// owner/mint pair, trying bump seeds from 255 down until the candidate falls
// off the ed25519 curve.
func DeriveTokenAccountAddress(owner, mint Pubkey) (Pubkey, error) {
	ownerRaw, err := base58.Decode(string(owner))
	if err != nil {
		return "", fmt.Errorf("derive ata: bad owner: %w", err)
	}
	mintRaw, err := base58.Decode(string(mint))
	if err != nil {
		return "", fmt.Errorf("derive ata: bad mint: %w", err)
	}
	tokenRaw, _ := base58.Decode(string(TokenProgramID))
	programRaw, _ := base58.Decode(string(AssociatedTokenProgID))

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write(ownerRaw)
		h.Write(tokenRaw)
		h.Write(mintRaw)
		h.Write([]byte{byte(bump)})
		h.Write(programRaw)
		h.Write([]byte("ProgramDerivedAddress"))
		candidate := h.Sum(nil)
		if _, err := new(edwards25519.Point).SetBytes(candidate); err != nil {
			// Off-curve: valid PDA.
			return Pubkey(base58.Encode(candidate)), nil
		}
	}
	return "", fmt.Errorf("derive ata: no valid bump for %s/%s", owner, mint)
}

var _ Signer = (*KeySigner)(nil)
