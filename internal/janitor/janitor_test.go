package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/membot-trading/membot/internal/solana"
)

const (
	emptyMint = solana.Pubkey("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	heldMint  = solana.Pubkey("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
)

func testConfig() Config {
	c := DefaultConfig()
	c.IdleWindow = 10 * time.Millisecond
	return c
}

func TestSweepClosesOnlyEmptyAccounts(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(emptyMint, 0)
	gw.SetTokenBalance(heldMint, 123)

	j := New(testConfig(), gw)
	closed := j.Sweep(context.Background())

	assert.Equal(t, 1, closed)
	hasEmpty, _ := gw.HasTokenAccount(context.Background(), emptyMint)
	hasHeld, _ := gw.HasTokenAccount(context.Background(), heldMint)
	assert.False(t, hasEmpty)
	assert.True(t, hasHeld)
}

func TestSweepDefersWhileBusy(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(emptyMint, 0)

	config := testConfig()
	config.IdleWindow = time.Hour
	j := New(config, gw)
	j.NoteActivity()

	assert.Zero(t, j.Sweep(context.Background()))
	has, _ := gw.HasTokenAccount(context.Background(), emptyMint)
	assert.True(t, has)
}

func TestSweepRespectsSolReserve(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(emptyMint, 0)
	gw.SetLamports(1) // below the fee reserve

	j := New(testConfig(), gw)
	assert.Zero(t, j.Sweep(context.Background()))
}

func TestSweepCap(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	mints := []solana.Pubkey{
		"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		"5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1",
		"3CeYbXEjeM9YPKZNLHY8rarQLsgc6sUDBEZXtQEKMQAh",
	}
	for _, m := range mints {
		gw.SetTokenBalance(m, 0)
	}

	config := testConfig()
	config.SweepCap = 2
	j := New(config, gw)

	assert.Equal(t, 2, j.Sweep(context.Background()))
}

func TestSweepMintCooldown(t *testing.T) {
	gw := solana.NewStubGateway("owner")
	gw.SetTokenBalance(emptyMint, 0)

	config := testConfig()
	config.MintCooldown = time.Hour
	j := New(config, gw)

	assert.Equal(t, 1, j.Sweep(context.Background()))
	// Recreate the empty account; the cooldown blocks a second attempt.
	gw.SetTokenBalance(emptyMint, 0)
	assert.Zero(t, j.Sweep(context.Background()))
	assert.Equal(t, int64(1), j.Stats().Closed)
}
