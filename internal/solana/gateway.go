package solana

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Wallet Gateway — the chain-side boundary consumed by the trading core
// ---------------------------------------------------------------------------

// Gateway is the interface for everything that touches the wallet or the RPC
// endpoint. Implementations: LiveGateway (real Solana JSON-RPC), StubGateway
// (testing and dry-run).
type Gateway interface {
	// Owner returns the wallet public key.
	Owner() Pubkey

	// GetLamports returns the wallet's native SOL balance in lamports.
	GetLamports(ctx context.Context) (uint64, error)

	// GetTokenBalance returns the wallet's balance of mint in raw base units,
	// summed across its token accounts. Zero when no account exists.
	GetTokenBalance(ctx context.Context, mint Pubkey) (uint64, error)

	// HasTokenAccount reports whether the wallet holds any token account
	// for mint.
	HasTokenAccount(ctx context.Context, mint Pubkey) (bool, error)

	// EnsureTokenAccount creates the associated token account for
	// (owner, mint) when missing.
	EnsureTokenAccount(ctx context.Context, mint Pubkey) error

	// ListTokenAccounts returns all SPL token accounts owned by the wallet.
	ListTokenAccounts(ctx context.Context) ([]TokenAccount, error)

	// CloseTokenAccount closes an empty token account, reclaiming rent.
	CloseTokenAccount(ctx context.Context, mint Pubkey) error

	// SendSerializedTx signs (via the configured Signer) and submits a
	// base64-serialized transaction, returning its signature.
	SendSerializedTx(ctx context.Context, txBase64 string) (Signature, error)

	// Confirm polls signature statuses until the transaction reaches
	// confirmed/finalized commitment or the timeout expires.
	Confirm(ctx context.Context, sig Signature, timeout time.Duration) (bool, error)

	// CurrentSlot returns the current slot.
	CurrentSlot(ctx context.Context) (uint64, error)

	// MintAge returns the age of a mint account measured from the earliest
	// known transaction touching it. ok is false when no timestamp could be
	// determined. When maxInterest > 0 the search may early-exit once the
	// age already exceeds it.
	MintAge(ctx context.Context, mint Pubkey, maxInterest time.Duration) (age time.Duration, ok bool, err error)

	// GetTransaction fetches a confirmed transaction for the watcher's
	// mint-extraction fallback.
	GetTransaction(ctx context.Context, sig string) (*TransactionDetail, error)

	// Close releases any held network resources.
	Close() error
}

// Signer builds and signs wallet transactions. Cryptographic correctness is
// the signer's responsibility; the gateway only moves bytes.
type Signer interface {
	// SignSerializedTx signs a base64 v0 transaction (e.g. a Jupiter swap)
	// and returns the signed base64 payload.
	SignSerializedTx(txBase64 string) (string, error)

	// BuildCreateTokenAccountTx returns a signed transaction creating the
	// associated token account for (owner, mint).
	BuildCreateTokenAccountTx(ctx context.Context, mint Pubkey) (string, error)

	// BuildCloseTokenAccountTx returns a signed transaction closing the
	// wallet's empty token account for mint.
	BuildCloseTokenAccountTx(ctx context.Context, mint Pubkey) (string, error)
}

// GatewayConfig configures the live gateway.
type GatewayConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`

	// MintAgePageLimit / MintAgeMaxPages bound the signature-history paging
	// used by MintAge.
	MintAgePageLimit int `yaml:"mint_age_page_limit"`
	MintAgeMaxPages  int `yaml:"mint_age_max_pages"`
}

// DefaultGatewayConfig returns mainnet defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Endpoint:         "https://api.mainnet-beta.solana.com",
		Timeout:          10 * time.Second,
		MintAgePageLimit: 1000,
		MintAgeMaxPages:  6,
	}
}
