package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Stub Gateway — in-memory wallet for dry runs and tests
// ---------------------------------------------------------------------------

// StubGateway simulates a wallet without touching the chain. Every sent
// transaction is recorded and immediately "confirmed".
type StubGateway struct {
	mu sync.Mutex

	owner    Pubkey
	lamports uint64
	balances map[Pubkey]uint64
	atas     map[Pubkey]bool
	mintAges map[Pubkey]time.Duration
	txDetail map[string]*TransactionDetail
	slot     uint64

	// SentTxs records every serialized transaction passed to SendSerializedTx.
	SentTxs []string
}

func NewStubGateway(owner Pubkey) *StubGateway {
	return &StubGateway{
		owner:    owner,
		lamports: 10 * LamportsPerSOL,
		balances: make(map[Pubkey]uint64),
		atas:     make(map[Pubkey]bool),
		mintAges: make(map[Pubkey]time.Duration),
		txDetail: make(map[string]*TransactionDetail),
		slot:     1,
	}
}

func (s *StubGateway) Owner() Pubkey { return s.owner }

func (s *StubGateway) Close() error { return nil }

func (s *StubGateway) GetLamports(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lamports, nil
}

// SetLamports overrides the simulated SOL balance.
func (s *StubGateway) SetLamports(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lamports = v
}

func (s *StubGateway) GetTokenBalance(ctx context.Context, mint Pubkey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[mint], nil
}

// SetTokenBalance seeds a balance for a mint, creating the account.
func (s *StubGateway) SetTokenBalance(mint Pubkey, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[mint] = amount
	s.atas[mint] = true
}

func (s *StubGateway) HasTokenAccount(ctx context.Context, mint Pubkey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atas[mint], nil
}

func (s *StubGateway) EnsureTokenAccount(ctx context.Context, mint Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atas[mint] = true
	return nil
}

func (s *StubGateway) ListTokenAccounts(ctx context.Context) ([]TokenAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := make([]TokenAccount, 0, len(s.atas))
	for mint := range s.atas {
		accounts = append(accounts, TokenAccount{
			Address: Pubkey("stub-ata-" + string(mint)),
			Mint:    mint,
			Amount:  s.balances[mint],
		})
	}
	return accounts, nil
}

func (s *StubGateway) CloseTokenAccount(ctx context.Context, mint Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[mint] != 0 {
		return fmt.Errorf("stub: account %s not empty", mint)
	}
	delete(s.atas, mint)
	return nil
}

func (s *StubGateway) SendSerializedTx(ctx context.Context, txBase64 string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentTxs = append(s.SentTxs, txBase64)
	sig := Signature("stub-" + uuid.NewString())
	log.Debug().Str("sig", string(sig)).Msg("stub: transaction recorded")
	return sig, nil
}

func (s *StubGateway) Confirm(ctx context.Context, sig Signature, timeout time.Duration) (bool, error) {
	return true, nil
}

func (s *StubGateway) CurrentSlot(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot, nil
}

// AdvanceSlot moves the simulated slot forward.
func (s *StubGateway) AdvanceSlot(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot += n
}

func (s *StubGateway) MintAge(ctx context.Context, mint Pubkey, maxInterest time.Duration) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	age, ok := s.mintAges[mint]
	return age, ok, nil
}

// SetMintAge seeds the age returned for a mint.
func (s *StubGateway) SetMintAge(mint Pubkey, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mintAges[mint] = age
}

func (s *StubGateway) GetTransaction(ctx context.Context, sig string) (*TransactionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail, ok := s.txDetail[sig]
	if !ok {
		return nil, fmt.Errorf("stub: unknown transaction %s", sig)
	}
	return detail, nil
}

// SetTransaction seeds a transaction detail for GetTransaction.
func (s *StubGateway) SetTransaction(sig string, detail *TransactionDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txDetail[sig] = detail
}

var _ Gateway = (*StubGateway)(nil)
