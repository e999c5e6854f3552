package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known first account of the hardhat/anvil test mnemonic
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestParsePrivateKey(t *testing.T) {
	for _, key := range []string{testKey, "0x" + testKey, " 0X" + testKey + " "} {
		_, addr, err := ParsePrivateKey(key)
		require.NoError(t, err)
		assert.Equal(t, testAddress, addr)
	}
}

func TestParsePrivateKeyInvalid(t *testing.T) {
	for _, key := range []string{"", "0x", "not-hex", "abcd"} {
		_, _, err := ParsePrivateKey(key)
		require.Error(t, err, key)
	}
}

func TestNewBybitClient(t *testing.T) {
	require.NotNil(t, NewBybitClient("", ""))
	require.NotNil(t, NewBybitClient("key", "secret"))
}
