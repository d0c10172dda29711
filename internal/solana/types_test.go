package solana

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAddresses(t *testing.T) {
	t.Run("extracts base58 candidates from log text", func(t *testing.T) {
		line := "Program log: created mint 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU ok"
		got := FindAddresses(line)
		require.Len(t, got, 1)
		assert.Equal(t, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", got[0])
	})

	t.Run("ignores short and non-base58 strings", func(t *testing.T) {
		assert.Empty(t, FindAddresses("Program log: Instruction: Create"))
		assert.Empty(t, FindAddresses("0xdeadbeef and l0Il0Il0"))
	})
}

func TestIsValidPubkey(t *testing.T) {
	assert.True(t, IsValidPubkey(string(SOLMint)))
	assert.True(t, IsValidPubkey(string(TokenProgramID)))
	assert.False(t, IsValidPubkey("not-a-key"))
	assert.False(t, IsValidPubkey("abc"))
}

func TestInfraSkipListCoversCoreMints(t *testing.T) {
	assert.True(t, InfraSkipList[string(SOLMint)])
	assert.True(t, InfraSkipList[string(USDCMint)])
	assert.True(t, InfraSkipList[string(SystemProgramID)])
}

func TestShortError(t *testing.T) {
	t.Run("keeps plain errors", func(t *testing.T) {
		assert.Equal(t, "dial timeout", ShortError(errors.New("dial timeout")))
	})

	t.Run("truncates simulation dumps to first line", func(t *testing.T) {
		err := errors.New("Transaction simulation failed: custom program error: 0x1\nlog line 1\nlog line 2")
		short := ShortError(err)
		assert.NotContains(t, short, "log line")
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, "", ShortError(nil))
	})
}
