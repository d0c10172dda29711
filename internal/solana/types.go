package solana

import (
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// USDCDecimals is the decimal count of the canonical USDC mint.
const USDCDecimals = 6

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Core program IDs.
const (
	SystemProgramID        Pubkey = "11111111111111111111111111111111"
	ComputeBudgetProgramID Pubkey = "ComputeBudget111111111111111111111111111111"
	RentSysvarID           Pubkey = "SysvarRent111111111111111111111111111111111"
	AssociatedTokenProgID  Pubkey = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	TokenProgramID         Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID     Pubkey = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	JupiterProgramID       Pubkey = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// TokenPrograms are the SPL token program ids; a mint account is always owned
// by one of these.
var TokenPrograms = map[string]bool{
	string(TokenProgramID):     true,
	string(Token2022ProgramID): true,
}

// InfraSkipList contains well-known infrastructure addresses that must never
// be treated as tradable token candidates.
var InfraSkipList = map[string]bool{
	string(SOLMint):                true,
	string(USDCMint):               true,
	string(SystemProgramID):        true,
	string(ComputeBudgetProgramID): true,
	string(RentSysvarID):           true,
	string(AssociatedTokenProgID):  true,
	string(TokenProgramID):         true,
	string(JupiterProgramID):       true,
}

// addressRe matches base58-shaped strings of plausible pubkey length.
var addressRe = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,44}`)

// FindAddresses extracts pubkey-shaped substrings from a log line.
func FindAddresses(s string) []string {
	return addressRe.FindAllString(s, -1)
}

// IsValidPubkey reports whether s decodes to a 32-byte base58 value.
func IsValidPubkey(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}

// TokenAccount is an SPL token account owned by the wallet.
type TokenAccount struct {
	Address Pubkey `json:"address"`
	Mint    Pubkey `json:"mint"`
	Amount  uint64 `json:"amount"` // raw base units
}

// TxInstruction is one instruction of a fetched transaction, with indexes
// into the transaction's account key table.
type TxInstruction struct {
	ProgramIdx int   `json:"programIdIndex"`
	Accounts   []int `json:"accounts"`
}

// TransactionDetail is the subset of a getTransaction result the watcher
// fallback needs: the flattened account keys and the instruction list.
type TransactionDetail struct {
	AccountKeys  []string
	Instructions []TxInstruction
}

// ShortError trims verbose RPC/simulation errors to a single legible line.
func ShortError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "custom program error"); i >= 0 {
		rest := strings.TrimSpace(msg[i+len("custom program error"):])
		if j := strings.IndexByte(rest, '\n'); j >= 0 {
			rest = rest[:j]
		}
		return "custom program error" + rest
	}
	if strings.Contains(msg, "Transaction simulation failed") {
		return "Transaction simulation failed"
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
