package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		chainID *big.Int
		wantErr error
	}{
		{name: "plain hex", key: testKey, chainID: big.NewInt(5)},
		{name: "0x prefixed", key: "0x" + testKey, chainID: big.NewInt(5)},
		{name: "missing key", key: "", chainID: big.NewInt(5), wantErr: ErrMissingKey},
		{name: "missing chain", key: testKey, chainID: nil, wantErr: ErrMissingChain},
		{name: "short key", key: "deadbeef", chainID: big.NewInt(5), wantErr: ErrInvalidKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSigner(tc.key, tc.chainID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testAddress, s.Address())
		})
	}
}

func TestNewSigner_ErrorDoesNotLeakKey(t *testing.T) {
	bad := "zz" + testKey[2:]
	_, err := NewSigner(bad, big.NewInt(1))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey[2:])
}

func TestSigner_SignTransaction(t *testing.T) {
	s, err := NewSigner(testKey, big.NewInt(5))
	require.NoError(t, err)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(5),
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		Value:     new(big.Int),
	})
	signed, err := s.SignTransaction(context.Background(), tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(5)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://eth-goerli.g.alchemy.com/v2/***", redactURL("https://eth-goerli.g.alchemy.com/v2/secret"))
	assert.Equal(t, "http://127.0.0.1:8545", redactURL("http://127.0.0.1:8545"))
	assert.Equal(t, "<rpc>", redactURL("not a url"))
}
